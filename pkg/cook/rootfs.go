/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

package cook

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/mirkobrombin/chef/pkg/chef"
	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/tools"
)

// EnsureBaseRootfs makes sure the build base layer exists. A rootfs
// provisioned by debootstrap is used as-is; otherwise the configured
// base image is pulled once, flattened and unpacked into place.
func EnsureBaseRootfs(c *chef.Chef) error {
	root := c.Options.BaseRootfsPath
	if entries, err := os.ReadDir(root); err == nil && len(entries) > 0 {
		return nil
	}

	image := c.Options.BaseImage
	if image == "" {
		return fmt.Errorf("base rootfs %s is empty and no base image is configured", root)
	}

	logger.WithField("image", image).Info("pulling base rootfs")

	img, err := crane.Pull(image, crane.WithContext(c.Ctx))
	if err != nil {
		return fmt.Errorf("pulling %s: %w", image, err)
	}

	tarCachePath := c.GetInCacheDir("base-rootfs.tar")
	if err := os.MkdirAll(filepath.Dir(tarCachePath), 0o755); err != nil {
		return err
	}

	f, err := os.Create(tarCachePath)
	if err != nil {
		return fmt.Errorf("creating rootfs cache: %w", err)
	}
	if err := crane.Export(img, f); err != nil {
		f.Close()
		_ = os.Remove(tarCachePath)
		return fmt.Errorf("exporting %s: %w", image, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	if err := tools.TarUnpack(tarCachePath, root); err != nil {
		return fmt.Errorf("unpacking base rootfs: %w", err)
	}
	_ = os.Remove(tarCachePath)
	return nil
}
