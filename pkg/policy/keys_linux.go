package policy

import (
	"path/filepath"

	"github.com/mirkobrombin/chef/pkg/tools"
	"github.com/mirkobrombin/chef/pkg/types"
	"golang.org/x/sys/unix"
)

// fsKey is the filesystem policy map key: cgroup identity plus the
// (device, inode) pair a rule path resolved to. Layout matches the
// kernel-side struct, 8-byte aligned.
type fsKey struct {
	CgroupId uint64
	Dev      uint64
	Ino      uint64
}

// netKey is the network policy map key. Address-level matching for UNIX
// sockets is handled by the LSM program from the path hash; the map key
// carries the numeric tuple.
type netKey struct {
	CgroupId uint64
	Family   uint32
	SockType uint32
	Protocol uint32
	Port     uint32
}

// resolveFsRule expands the rule's path glob inside the container's
// filesystem view and resolves each match to a (dev, ino) pair. Paths
// that do not exist are skipped by the caller.
func resolveFsRule(rootfs string, rule types.FsRule) (keys []fsKey, err error) {
	pattern, err := tools.JoinInside(rootfs, rule.Path)
	if err != nil {
		return nil, types.WrapError(types.ErrPolicyInvalid, err, "rule path %s", rule.Path)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, types.WrapError(types.ErrPolicyInvalid, err, "rule glob %s", rule.Path)
	}

	for _, match := range matches {
		var st unix.Stat_t
		if statErr := unix.Stat(match, &st); statErr != nil {
			continue
		}
		keys = append(keys, fsKey{Dev: st.Dev, Ino: st.Ino})
	}
	return keys, nil
}

// netKeyFor builds the map key of a network rule for one cgroup.
func netKeyFor(cgroupId uint64, rule types.NetRule) netKey {
	return netKey{
		CgroupId: cgroupId,
		Family:   rule.Family,
		SockType: rule.SockType,
		Protocol: rule.Protocol,
		Port:     uint32(rule.Port),
	}
}

// CgroupIdOf returns the kernel cgroup identity of a cgroup directory:
// the inode number, which is what the in-kernel helper reports for the
// current task.
func CgroupIdOf(cgroupPath string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(cgroupPath, &st); err != nil {
		return 0, err
	}
	return st.Ino, nil
}
