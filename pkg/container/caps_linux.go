package container

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// lastCap is the highest capability number chef knows about
// (CAP_CHECKPOINT_RESTORE).
const lastCap = 40

// dropCapabilities reduces the task to the requested capability mask:
// everything outside the mask is removed from the bounding set and the
// effective/permitted/inheritable sets. Must run after the pivot and
// before the seccomp filter, so policy loading in the parent can still
// rely on privileged syscalls.
func dropCapabilities(keep uint64) error {
	for cap := 0; cap <= lastCap; cap++ {
		if keep&(1<<uint(cap)) != 0 {
			continue
		}
		if err := unix.Prctl(unix.PR_CAPBSET_DROP, uintptr(cap), 0, 0, 0); err != nil {
			// older kernels stop earlier
			if err == unix.EINVAL {
				break
			}
			return fmt.Errorf("dropping capability %d from bounding set: %w", cap, err)
		}
	}

	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var data [2]unix.CapUserData
	data[0].Effective = uint32(keep)
	data[0].Permitted = uint32(keep)
	data[0].Inheritable = uint32(keep)
	data[1].Effective = uint32(keep >> 32)
	data[1].Permitted = uint32(keep >> 32)
	data[1].Inheritable = uint32(keep >> 32)

	if err := unix.Capset(&hdr, &data[0]); err != nil {
		return fmt.Errorf("applying capability sets: %w", err)
	}
	return nil
}
