package container

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mirkobrombin/chef/pkg/policy"
)

// cgroupRoot is where chef parks container cgroups on the unified
// hierarchy.
const cgroupRoot = "/sys/fs/cgroup/chef"

// createCgroup makes the container's cgroup and returns its path and
// kernel identity.
func createCgroup(id string) (path string, cgroupId uint64, err error) {
	path = filepath.Join(cgroupRoot, id)
	if err = os.MkdirAll(path, 0o755); err != nil {
		return "", 0, fmt.Errorf("creating cgroup %s: %w", path, err)
	}

	cgroupId, err = policy.CgroupIdOf(path)
	if err != nil {
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("resolving cgroup identity: %w", err)
	}
	return path, cgroupId, nil
}

// addToCgroup moves the pid into the cgroup.
func addToCgroup(path string, pid int) error {
	procs := filepath.Join(path, "cgroup.procs")
	return os.WriteFile(procs, []byte(strconv.Itoa(pid)), 0o644)
}

// removeCgroup deletes the container's cgroup once its tasks are gone.
// Best effort: a busy cgroup is left for the next sweep.
func removeCgroup(path string) {
	_ = os.Remove(path)
}
