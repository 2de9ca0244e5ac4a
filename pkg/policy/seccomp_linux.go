package policy

import (
	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/types"
	seccomp "github.com/seccomp/libseccomp-golang"
)

// seccompBackend is the lossy fallback for kernels without the BPF-LSM
// surface: only the syscall allow-list implied by the security level and
// the network rules is enforced. Filesystem rules are dropped, so every
// container it covers is capability-degraded.
type seccompBackend struct{}

func newFallbackBackend() (backend, error) {
	return &seccompBackend{}, nil
}

func (s *seccompBackend) mode() Mode {
	return ModeSeccomp
}

func (s *seccompBackend) populate(cgroupId uint64, rootfs string, pol types.Policy) (written, dropped int, err error) {
	// filter application happens in the spawn child (the filter binds to
	// the calling task); the engine only accounts for the loss here
	dropped = len(pol.Fs)
	if dropped > 0 {
		logger.Warnf("seccomp fallback drops %d filesystem rule(s) for cgroup %d", dropped, cgroupId)
	}
	return 0, dropped, nil
}

func (s *seccompBackend) cleanup(cgroupId uint64) (int, error) {
	// nothing kernel-resident to remove; the filter dies with the task
	return 0, nil
}

func (s *seccompBackend) close() error {
	return nil
}

// baseSyscalls is the allow-list every container needs to run ordinary
// binaries.
var baseSyscalls = []string{
	"read", "write", "openat", "close", "fstat", "newfstatat", "lseek",
	"mmap", "mprotect", "munmap", "brk", "rt_sigaction", "rt_sigprocmask",
	"rt_sigreturn", "ioctl", "pread64", "pwrite64", "readv", "writev",
	"access", "faccessat", "faccessat2", "pipe", "pipe2", "select",
	"pselect6", "poll", "ppoll", "epoll_create1", "epoll_ctl", "epoll_wait",
	"epoll_pwait", "dup", "dup2", "dup3", "nanosleep", "clock_nanosleep",
	"getpid", "gettid", "getppid", "getuid", "geteuid", "getgid", "getegid",
	"clone", "clone3", "fork", "vfork", "execve", "execveat", "exit",
	"exit_group", "wait4", "waitid", "kill", "tgkill", "uname", "fcntl",
	"flock", "fsync", "fdatasync", "truncate", "ftruncate", "getdents64",
	"getcwd", "chdir", "fchdir", "rename", "renameat", "renameat2",
	"mkdir", "mkdirat", "rmdir", "unlink", "unlinkat", "symlink",
	"symlinkat", "readlink", "readlinkat", "chmod", "fchmod", "fchmodat",
	"chown", "fchown", "fchownat", "umask", "gettimeofday",
	"clock_gettime", "clock_getres", "getrlimit", "getrusage", "sysinfo",
	"times", "futex", "sched_yield", "sched_getaffinity", "set_tid_address",
	"set_robust_list", "get_robust_list", "prlimit64", "getrandom",
	"memfd_create", "statx", "rseq", "arch_prctl", "prctl", "madvise",
	"mremap", "msync", "mincore", "tkill", "sigaltstack", "setpgid",
	"getpgid", "getpgrp", "setsid", "getsid", "utimensat", "eventfd2",
	"timerfd_create", "timerfd_settime", "timerfd_gettime",
}

// netSyscalls become available only when the policy declares network
// rules; the allow mask picks specific operations.
var netSyscallsByOp = map[types.NetMask][]string{
	types.NetCreate:  {"socket", "socketpair"},
	types.NetBind:    {"bind"},
	types.NetConnect: {"connect"},
	types.NetListen:  {"listen"},
	types.NetAccept:  {"accept", "accept4"},
	types.NetSend: {"sendto", "recvfrom", "sendmsg", "recvmsg",
		"getsockname", "getpeername", "getsockopt", "setsockopt",
		"shutdown"},
}

// AllowedSyscalls derives the seccomp allow-list from the security level
// and the declared network rules. The translation is lossy by design:
// filesystem rules have no syscall-level equivalent.
func AllowedSyscalls(level types.SecurityLevel, netRules []types.NetRule) []string {
	seen := make(map[string]bool, len(baseSyscalls))
	out := make([]string, 0, len(baseSyscalls))
	add := func(names ...string) {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}

	add(baseSyscalls...)

	if level == types.SecurityDefault {
		// default level keeps process introspection available
		add("ptrace", "process_vm_readv", "capget", "capset", "setpriority",
			"getpriority", "ionice", "sched_setaffinity", "setitimer",
			"getitimer", "alarm", "pause", "vhangup")
	}

	var allow types.NetMask
	for _, rule := range netRules {
		allow |= rule.Allow
	}
	for op, names := range netSyscallsByOp {
		if allow&op != 0 {
			add(names...)
		}
	}

	return out
}

// ApplyFilter installs a default-deny seccomp filter allowing exactly the
// given syscalls. It must run in the container child, after the pivot and
// the capability drop, immediately before exec.
func ApplyFilter(syscalls []string) error {
	filter, err := seccomp.NewFilter(seccomp.ActErrno.SetReturnCode(int16(1)))
	if err != nil {
		return types.WrapError(types.ErrPolicyInvalid, err, "creating seccomp filter")
	}
	defer filter.Release()

	for _, name := range syscalls {
		sc, resolveErr := seccomp.GetSyscallFromName(name)
		if resolveErr != nil {
			// unknown on this kernel/arch, skip
			continue
		}
		if ruleErr := filter.AddRule(sc, seccomp.ActAllow); ruleErr != nil {
			return types.WrapError(types.ErrPolicyInvalid, ruleErr, "allowing syscall %s", name)
		}
	}

	if err := filter.Load(); err != nil {
		return types.WrapError(types.ErrPolicyInvalid, err, "loading seccomp filter")
	}
	return nil
}
