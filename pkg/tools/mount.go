/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package tools

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// IsMounted checks if the given destination path appears as a mount point
// in /proc/mounts.
func IsMounted(destPath string) (bool, error) {
	mounts, err := os.Open("/proc/mounts")
	if err != nil {
		return false, fmt.Errorf("error opening /proc/mounts: %w", err)
	}
	defer mounts.Close()

	scanner := bufio.NewScanner(mounts)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 1 && fields[1] == destPath {
			return true, nil
		}
	}

	return false, scanner.Err()
}

// Mount bind-mounts the given source path at the given destination path,
// creating the destination directory or file first.
func Mount(src, dest string, flags uintptr) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	if info.IsDir() {
		_ = os.MkdirAll(dest, 0o755)
	} else {
		_ = os.MkdirAll(strings.TrimSuffix(dest, "/"+info.Name()), 0o755)
		file, _ := os.Create(dest)

		defer func() { _ = file.Close() }()
	}

	return unix.Mount(src, dest, "bind", flags, "")
}

// MountBind mounts bind the given source path in the given destination
// path, read-only. It is just a wrapper around Mount, for convenience.
func MountBind(src, dest string) error {
	return Mount(src, dest, unix.MS_BIND|unix.MS_REC|unix.MS_RDONLY|unix.MS_NOSUID|
		unix.MS_NODEV|unix.MS_PRIVATE|unix.MS_SLAVE)
}

// MountBindRW mounts bind the given source path read-write.
func MountBindRW(src, dest string) error {
	return Mount(src, dest, unix.MS_BIND|unix.MS_REC|unix.MS_NOSUID|
		unix.MS_NODEV|unix.MS_PRIVATE|unix.MS_SLAVE)
}

// MountOverlay mounts the given lower, upper and work directories in the
// given destination path as an overlay filesystem. The lowerDirs string is
// already colon-joined with the top-most layer first, as overlayfs
// expects.
func MountOverlay(targetDir, lowerDirs, upperDir, workDir string) error {
	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", lowerDirs, upperDir, workDir)
	return unix.Mount("overlay", targetDir, "overlay", 0, opts)
}

// MountOverlayRO mounts a read-only overlay with no upper or work
// directory. Write attempts inside fail with EROFS.
func MountOverlayRO(targetDir, lowerDirs string) error {
	return unix.Mount("overlay", targetDir, "overlay", unix.MS_RDONLY,
		"lowerdir="+lowerDirs)
}

// MountTmpfs mounts a fresh tmpfs at the target, capped at sizeBytes when
// non-zero, mode 0700 and root-owned.
func MountTmpfs(targetDir string, sizeBytes int64) error {
	opts := "mode=0700,uid=0,gid=0"
	if sizeBytes > 0 {
		opts = fmt.Sprintf("size=%d,%s", sizeBytes, opts)
	}
	return unix.Mount("tmpfs", targetDir, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, opts)
}

// Unmount detaches the given mount point. Unmounting a path that is not
// mounted is treated as success, so teardown paths stay idempotent.
func Unmount(targetDir string) error {
	err := unix.Unmount(targetDir, 0)
	if err == unix.EINVAL || err == unix.ENOENT {
		return nil
	}
	if err != nil {
		// busy mounts get one lazy detach
		return unix.Unmount(targetDir, unix.MNT_DETACH)
	}
	return nil
}

// GetHostMounts returns the mount points currently listed in
// /proc/mounts.
func GetHostMounts() (mounts []string) {
	file, err := os.Open("/proc/mounts")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 1 {
			mounts = append(mounts, fields[1])
		}
	}

	return
}
