/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

// Package layer turns a description of rootfs layers into a single
// composed rootfs path. Read-only layers stack as overlay lowers, the
// optional writable upper takes all writes, and content packs are served
// through the in-process pack file server instead of being unpacked.
package layer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/pack"
	"github.com/mirkobrombin/chef/pkg/packfs"
	"github.com/mirkobrombin/chef/pkg/tools"
	"github.com/mirkobrombin/chef/pkg/types"
)

// Context is the mounted, composed rootfs plus its bookkeeping. The
// composed rootfs is valid only while every contained layer is still
// mounted; ordering is stable and determines overlay precedence (the
// last-listed read-only layer shadows earlier ones, writes hit the
// upper).
type Context struct {
	// ContainerId is the owning container, by identifier only.
	ContainerId string

	// Layers in listed (mount) order.
	Layers []types.Layer

	// RootFs is the composed rootfs path.
	RootFs string

	// UpperDir and WorkDir of the overlay; empty for read-only contexts.
	UpperDir string
	WorkDir  string

	// ReadOnly is set when no writable upper was supplied; write
	// attempts inside the rootfs then fail with EROFS.
	ReadOnly bool

	// KeepOnFailure leaves scratch directories behind on compose
	// failure, for debugging.
	KeepOnFailure bool

	stateDir string
	mounts   []mountRecord // in mount order
	binds    []types.Layer // applied later, inside the namespace
}

// mountRecord is one performed mount; pack mounts carry their server so
// teardown stops the right goroutines in the right order.
type mountRecord struct {
	path   string
	server *packfs.Server
}

// Compose validates the layer list, mounts content packs through the pack
// file server and assembles the overlay. stateDir receives the composed
// rootfs, the upper and work directories and the pack mount points.
//
// Validation: at least one layer, at most one base rootfs, at most one
// writable upper, and the upper must be listed last when present.
func Compose(layers []types.Layer, containerId, stateDir string) (ctx *Context, err error) {
	if err = validate(layers); err != nil {
		return
	}

	ctx = &Context{
		ContainerId: containerId,
		Layers:      layers,
		stateDir:    stateDir,
		RootFs:      filepath.Join(stateDir, "rootfs"),
	}

	defer func() {
		if err != nil {
			ctx.rollback()
			ctx = nil
		}
	}()

	for _, dir := range []string{ctx.RootFs, filepath.Join(stateDir, "packs")} {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return
		}
	}

	var lowers []string
	var upper *types.Layer
	for i, l := range layers {
		switch l.Kind {
		case types.LayerBase:
			lowers = append(lowers, l.Source)

		case types.LayerPack:
			var mnt string
			mnt, err = ctx.mountPack(l, i)
			if err != nil {
				return
			}
			lowers = append(lowers, mnt)

		case types.LayerBind:
			// binds only become visible after entering the mount
			// namespace
			ctx.binds = append(ctx.binds, l)

		case types.LayerUpper:
			u := l
			upper = &u
		}
	}

	err = ctx.assemble(lowers, upper)
	return
}

func validate(layers []types.Layer) error {
	if len(layers) == 0 {
		return types.NewError(types.ErrRootfsInvalid, "empty layer list")
	}

	bases, uppers := 0, 0
	for i, l := range layers {
		switch l.Kind {
		case types.LayerBase:
			bases++
		case types.LayerUpper:
			uppers++
			if i != len(layers)-1 {
				return types.NewError(types.ErrRootfsInvalid, "writable upper must be the last layer")
			}
		}
	}
	if bases > 1 {
		return types.NewError(types.ErrRootfsInvalid, "more than one base rootfs layer")
	}
	if uppers > 1 {
		return types.NewError(types.ErrRootfsInvalid, "more than one writable upper layer")
	}
	return nil
}

// mountPack serves the archive at a per-layer mount point.
func (c *Context) mountPack(l types.Layer, index int) (mnt string, err error) {
	reader, err := pack.OpenTar(l.Source)
	if err != nil {
		return "", types.WrapError(types.ErrRootfsInvalid, err, "opening pack %s", l.Source)
	}

	mnt = filepath.Join(c.stateDir, "packs", strconv.Itoa(index))
	if err = os.MkdirAll(mnt, 0o755); err != nil {
		reader.Close()
		return
	}

	srv, err := packfs.Mount(reader, mnt)
	if err != nil {
		reader.Close()
		return "", types.WrapError(types.ErrRootfsInvalid, err, "serving pack %s", l.Source)
	}

	c.mounts = append(c.mounts, mountRecord{path: mnt, server: srv})
	return
}

// assemble performs the overlay (or bind) mount that yields the composed
// rootfs. Overlayfs wants the top-most lower first in the option string,
// so the listed order is reversed: later layers shadow earlier ones.
func (c *Context) assemble(lowers []string, upper *types.Layer) (err error) {
	if len(lowers) == 0 {
		return types.NewError(types.ErrRootfsInvalid, "no read-only layers to compose")
	}

	reversed := make([]string, len(lowers))
	for i, l := range lowers {
		reversed[len(lowers)-1-i] = l
	}
	lowerOpt := strings.Join(reversed, ":")

	if upper != nil {
		c.UpperDir = upper.Source
		if c.UpperDir == "" {
			c.UpperDir = filepath.Join(c.stateDir, "upper")
		}
		c.WorkDir = filepath.Join(c.stateDir, "work")
		for _, dir := range []string{c.UpperDir, c.WorkDir} {
			if err = os.MkdirAll(dir, 0o700); err != nil {
				return
			}
		}
		err = tools.MountOverlay(c.RootFs, lowerOpt, c.UpperDir, c.WorkDir)
	} else {
		c.ReadOnly = true
		if len(lowers) == 1 {
			// overlayfs refuses a single lower with no upper
			err = tools.MountBind(lowers[0], c.RootFs)
		} else {
			err = tools.MountOverlayRO(c.RootFs, lowerOpt)
		}
	}

	if err != nil {
		return types.WrapError(types.ErrRootfsInvalid, err, "composing rootfs for %s", c.ContainerId)
	}

	c.mounts = append(c.mounts, mountRecord{path: c.RootFs})
	return nil
}

// MountOrder returns the mount points in the order Compose performed
// them; Destroy walks this list backwards.
func (c *Context) MountOrder() []string {
	order := make([]string, len(c.mounts))
	for i, rec := range c.mounts {
		order[i] = rec.path
	}
	return order
}

// MountInNamespace performs the bind operations that only become visible
// after entering the target mount namespace: the standard runtime mounts
// plus the declared host bind layers.
func (c *Context) MountInNamespace() error {
	return NamespaceMounts(c.RootFs, c.binds)
}

// Binds returns the host bind layers deferred to MountInNamespace; the
// container backend hands them to the namespace child.
func (c *Context) Binds() []types.Layer {
	return c.binds
}

// NamespaceMounts is the namespace-side half of composition, callable by
// the spawn child which reconstructs the context from flags.
func NamespaceMounts(rootfs string, binds []types.Layer) error {
	runtimeMounts := []string{"/proc", "/sys", "/dev", "/dev/pts", "/dev/shm", "/tmp", "/run"}
	for _, mnt := range runtimeMounts {
		if err := os.MkdirAll(filepath.Join(rootfs, mnt), 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", mnt, err)
		}
		if err := tools.MountBindRW(mnt, filepath.Join(rootfs, mnt)); err != nil {
			return fmt.Errorf("mount %s: %w", mnt, err)
		}
	}

	for _, conf := range []string{"/etc/resolv.conf", "/etc/hosts"} {
		if _, err := os.Stat(conf); err != nil {
			continue
		}
		if err := tools.MountBind(conf, filepath.Join(rootfs, conf)); err != nil {
			return fmt.Errorf("mount %s: %w", conf, err)
		}
	}

	for _, bind := range binds {
		target := bind.Target
		if target == "" {
			target = bind.Source
		}
		dest := filepath.Join(rootfs, target)
		var err error
		if bind.ReadOnly {
			err = tools.MountBind(bind.Source, dest)
		} else {
			err = tools.MountBindRW(bind.Source, dest)
		}
		if err != nil {
			return fmt.Errorf("bind %s -> %s: %w", bind.Source, target, err)
		}
	}

	return nil
}

// Destroy unmounts everything in exact reverse of the mount order
// performed by Compose, stops the pack file servers and removes the
// scratch directories.
func (c *Context) Destroy() error {
	var firstErr error

	for i := len(c.mounts) - 1; i >= 0; i-- {
		rec := c.mounts[i]
		var err error
		if rec.server != nil {
			err = rec.server.Unmount()
		} else {
			err = tools.Unmount(rec.path)
		}
		if err != nil {
			logger.Warnf("unmount %s for %s: %v", rec.path, c.ContainerId, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	c.mounts = nil

	if firstErr == nil {
		if err := os.RemoveAll(c.stateDir); err != nil {
			firstErr = err
		}
	}
	return firstErr
}

// rollback tears down a partially composed context. Scratch directories
// are removed unless the caller opted into keeping them for debugging.
func (c *Context) rollback() {
	for i := len(c.mounts) - 1; i >= 0; i-- {
		rec := c.mounts[i]
		if rec.server != nil {
			_ = rec.server.Unmount()
		} else {
			_ = tools.Unmount(rec.path)
		}
	}
	c.mounts = nil
	if !c.KeepOnFailure {
		_ = os.RemoveAll(c.stateDir)
	}
}
