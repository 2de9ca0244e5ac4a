/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

package install

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mirkobrombin/chef/pkg/pack"
	"github.com/mirkobrombin/chef/pkg/packfs"
	"github.com/mirkobrombin/chef/pkg/tools"
	"github.com/mirkobrombin/chef/pkg/types"
)

// maxDownloadRetries bounds the download-retry loop; after this many
// attempts the transaction fails for good.
const maxDownloadRetries = 3

// Every handler is idempotent and replay-safe: after a crash the runner
// re-enters the persisted state and runs its handler again, so each one
// must treat already-done work as success.

func handleVerify(ctx context.Context, r *Runner, t *types.Transaction) error {
	publisher, pkgName, err := SplitName(t.Package)
	if err != nil {
		return err
	}
	if _, err := r.apps.Get(t.Package); err == nil {
		return types.NewError(types.ErrAlreadyExists, "package %s is already installed", t.Package)
	}
	if t.Path == "" {
		return types.NewError(types.ErrInvalidArgument, "no pack source for %s", t.Package)
	}
	if !isRemote(t.Path) {
		if _, err := os.Stat(t.Path); err != nil {
			return types.WrapError(types.ErrNotFound, err, "pack archive %s", t.Path)
		}
	}
	r.log(t, types.LogInfo, "verified %s/%s", publisher, pkgName)
	return nil
}

// handleVerifyInstalled is the verify step of uninstall and update: the
// package must already be present.
func handleVerifyInstalled(ctx context.Context, r *Runner, t *types.Transaction) error {
	if _, _, err := SplitName(t.Package); err != nil {
		return err
	}
	if _, err := r.apps.Get(t.Package); err != nil {
		return err
	}
	return nil
}

func handleDownload(ctx context.Context, r *Runner, t *types.Transaction) error {
	publisher, pkgName, err := SplitName(t.Package)
	if err != nil {
		return err
	}
	dest := r.chef.PackPathFor(publisher, pkgName)
	if err := r.fetch.Fetch(ctx, t.Path, dest); err != nil {
		if ctx.Err() != nil {
			return types.WrapError(types.ErrCancelled, ctx.Err(), "download interrupted")
		}
		return types.WrapError(types.ErrInternal, err, "downloading %s", t.Package)
	}
	r.log(t, types.LogInfo, "fetched %s", t.Path)
	return nil
}

// handleDownloadRetry accounts one failed attempt and backs off before
// the runner re-dispatches download. Exhausted retries fail the
// transaction.
func handleDownloadRetry(ctx context.Context, r *Runner, t *types.Transaction) error {
	r.mu.Lock()
	t.Retries++
	retries := t.Retries
	err := r.store.SetRetries(t.Id, retries)
	r.mu.Unlock()
	if err != nil {
		return types.WrapError(types.ErrInternal, err, "persisting retry count")
	}

	if retries >= maxDownloadRetries {
		return types.NewError(types.ErrInternal,
			"download failed after %d attempts", retries)
	}

	backoff := time.Duration(retries) * 2 * time.Second
	r.log(t, types.LogWarning, "download attempt %d failed, retrying in %s", retries, backoff)
	select {
	case <-ctx.Done():
		return types.WrapError(types.ErrCancelled, ctx.Err(), "retry interrupted")
	case <-time.After(backoff):
	}
	return nil
}

func handleLoad(ctx context.Context, r *Runner, t *types.Transaction) error {
	app, err := r.loadApplication(t)
	if err != nil {
		return err
	}
	r.log(t, types.LogInfo, "loaded %s revision %d with %d commands",
		app.Name(), app.Revision, len(app.Commands))
	return nil
}

func handleMount(ctx context.Context, r *Runner, t *types.Transaction) error {
	publisher, pkgName, err := SplitName(t.Package)
	if err != nil {
		return err
	}
	target := r.chef.MountPointFor(publisher, pkgName)

	if mounted, err := tools.IsMounted(target); err != nil {
		return types.WrapError(types.ErrInternal, err, "checking mount for %s", t.Package)
	} else if mounted {
		return nil
	}

	reader, err := pack.OpenTar(r.chef.PackPathFor(publisher, pkgName))
	if err != nil {
		return types.WrapError(types.ErrInternal, err, "opening pack for %s", t.Package)
	}

	server, err := packfs.Mount(reader, target)
	if err != nil {
		_ = reader.Close()
		return types.WrapError(types.ErrInternal, err, "mounting %s", t.Package)
	}

	r.mu.Lock()
	r.mounts[target] = server
	r.mu.Unlock()

	if app, err := r.appFor(t); err == nil {
		app.MountPath = target
	}
	r.log(t, types.LogInfo, "mounted at %s", target)
	return nil
}

func handleGenerateWrappers(ctx context.Context, r *Runner, t *types.Transaction) error {
	app, err := r.appFor(t)
	if err != nil {
		return err
	}
	paths, err := GenerateWrappers(app, r.chef.Options.BinPath, r.chef.Options.ProfilePath)
	if err != nil {
		return types.WrapError(types.ErrInternal, err, "generating wrappers for %s", t.Package)
	}
	app.WrapperPaths = paths
	r.log(t, types.LogInfo, "generated %d wrappers", len(paths))
	return nil
}

func handleStartServices(ctx context.Context, r *Runner, t *types.Transaction) error {
	app, err := r.appFor(t)
	if err != nil {
		return err
	}
	for _, cmd := range app.Commands {
		if cmd.Kind != types.CommandDaemon {
			continue
		}
		if err := r.services.Start(ctx, app, cmd); err != nil {
			return types.WrapError(types.ErrInternal, err, "starting service %s", cmd.Name)
		}
		r.log(t, types.LogInfo, "started service %s", cmd.Name)
	}
	return nil
}

func handleStopServices(ctx context.Context, r *Runner, t *types.Transaction) error {
	app, err := r.appFor(t)
	if err != nil {
		return err
	}
	for _, cmd := range app.Commands {
		if cmd.Kind != types.CommandDaemon {
			continue
		}
		if err := r.services.Stop(ctx, app, cmd); err != nil {
			r.log(t, types.LogWarning, "stopping service %s: %v", cmd.Name, err)
		}
	}
	return nil
}

func handleRemoveWrappers(ctx context.Context, r *Runner, t *types.Transaction) error {
	app, err := r.appFor(t)
	if err != nil {
		// nothing was loaded, nothing to remove
		return nil
	}
	if err := RemoveWrappers(app, r.chef.Options.BinPath); err != nil {
		return types.WrapError(types.ErrInternal, err, "removing wrappers for %s", t.Package)
	}
	return nil
}

func handleUnmount(ctx context.Context, r *Runner, t *types.Transaction) error {
	publisher, pkgName, err := SplitName(t.Package)
	if err != nil {
		return err
	}
	target := r.chef.MountPointFor(publisher, pkgName)
	return r.unmountTarget(target)
}

func handleUnload(ctx context.Context, r *Runner, t *types.Transaction) error {
	r.mu.Lock()
	delete(r.loaded, t.Id)
	r.mu.Unlock()
	return nil
}

func handleUninstall(ctx context.Context, r *Runner, t *types.Transaction) error {
	publisher, pkgName, err := SplitName(t.Package)
	if err != nil {
		return err
	}

	packPath := r.chef.PackPathFor(publisher, pkgName)
	if err := os.Remove(packPath); err != nil && !os.IsNotExist(err) {
		return types.WrapError(types.ErrInternal, err, "removing pack %s", packPath)
	}

	if app, err := r.apps.Get(t.Package); err == nil {
		revDir := r.chef.RevisionDirFor(publisher, pkgName, app.Revision)
		if err := os.RemoveAll(revDir); err != nil {
			return types.WrapError(types.ErrInternal, err, "removing revision data")
		}
	}

	_ = os.Remove(r.chef.MountPointFor(publisher, pkgName))
	r.log(t, types.LogInfo, "uninstalled %s", t.Package)
	return nil
}

// The sweep handlers walk every installed application. Per-application
// failures are logged and skipped: a shutdown sweep must always reach
// done.

func handleStopServicesAll(ctx context.Context, r *Runner, t *types.Transaction) error {
	for _, app := range r.apps.List() {
		for _, cmd := range app.Commands {
			if cmd.Kind != types.CommandDaemon {
				continue
			}
			if err := r.services.Stop(ctx, app, cmd); err != nil {
				r.log(t, types.LogWarning, "stopping %s/%s: %v", app.Name(), cmd.Name, err)
			}
		}
	}
	return nil
}

func handleRemoveWrappersAll(ctx context.Context, r *Runner, t *types.Transaction) error {
	for _, app := range r.apps.List() {
		if err := RemoveWrappers(app, r.chef.Options.BinPath); err != nil {
			r.log(t, types.LogWarning, "removing wrappers of %s: %v", app.Name(), err)
		}
	}
	return nil
}

func handleUnmountAll(ctx context.Context, r *Runner, t *types.Transaction) error {
	for _, app := range r.apps.List() {
		target := r.chef.MountPointFor(app.Publisher, app.Package)
		if err := r.unmountTarget(target); err != nil {
			r.log(t, types.LogWarning, "unmounting %s: %v", target, err)
		}
	}
	return nil
}

func handleUnloadAll(ctx context.Context, r *Runner, t *types.Transaction) error {
	r.mu.Lock()
	r.loaded = make(map[uint64]*types.Application)
	r.mu.Unlock()
	return nil
}

// unmountTarget tears down a pack mount regardless of who mounted it:
// a live packfs server from this process, or a leftover mount from a
// previous one. Unmounting an unmounted path is success.
func (r *Runner) unmountTarget(target string) error {
	r.mu.Lock()
	server := r.mounts[target]
	delete(r.mounts, target)
	r.mu.Unlock()

	if server != nil {
		if err := server.Unmount(); err != nil {
			return fmt.Errorf("unmounting %s: %w", target, err)
		}
		return nil
	}
	mounted, err := tools.IsMounted(target)
	if err != nil {
		return fmt.Errorf("checking mount for %s: %w", target, err)
	}
	if !mounted {
		return nil
	}
	return tools.Unmount(target)
}
