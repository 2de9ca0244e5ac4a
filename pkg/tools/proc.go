package tools

import (
	"strings"

	"github.com/shirou/gopsutil/process"
)

// GetPidFromEnv returns the pid of the first process carrying the given
// environment entry, walking the host process table.
func GetPidFromEnv(env string) (int, error) {
	procs, err := process.Processes()
	if err != nil {
		return 0, err
	}

	for _, p := range procs {
		environ, err := p.Environ()
		if err != nil {
			continue
		}
		for _, e := range environ {
			if e == env {
				return int(p.Pid), nil
			}
		}
	}

	return 0, nil
}

// PidAlive reports whether the given pid refers to a live process.
func PidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	alive, err := process.PidExists(int32(pid))
	return err == nil && alive
}

// ChildPids returns the pids of all live descendants of the given pid.
func ChildPids(pid int) (pids []int) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}
	children, err := p.Children()
	if err != nil {
		return
	}
	for _, child := range children {
		pids = append(pids, int(child.Pid))
		pids = append(pids, ChildPids(int(child.Pid))...)
	}
	return
}

// ProcessCmdline returns the command line of the given pid, empty when
// the process is gone.
func ProcessCmdline(pid int) string {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return ""
	}
	cmdline, err := p.Cmdline()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cmdline)
}
