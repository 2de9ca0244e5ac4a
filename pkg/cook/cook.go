/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

// Package cook is the builder daemon: it announces itself to the broker,
// accepts build jobs and runs each one inside a fresh container over a
// tmpfs scratch space. Nothing is persisted; jobs in flight when the
// process dies are failed by the broker as builder-lost.
package cook

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mirkobrombin/chef/pkg/chef"
	"github.com/mirkobrombin/chef/pkg/container"
	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/rpc"
	"github.com/mirkobrombin/chef/pkg/tools"
	"github.com/mirkobrombin/chef/pkg/types"
)

const jobQueueDepth = 32

// Cook runs builds for the architectures it serves.
type Cook struct {
	chef   *chef.Chef
	engine *container.Engine
	conn   *rpc.Conn
	mask   uint32

	mu      sync.Mutex
	pending int

	queue chan rpc.CookBuildReq
}

// New assembles a builder serving the given architectures, connected to
// the broker through conn.
func New(c *chef.Chef, engine *container.Engine, conn *rpc.Conn, archs []types.Architecture) *Cook {
	var mask uint32
	for _, a := range archs {
		mask |= a.Mask()
	}
	return &Cook{
		chef:   c,
		engine: engine,
		conn:   conn,
		mask:   mask,
		queue:  make(chan rpc.CookBuildReq, jobQueueDepth),
	}
}

// Run announces readiness and processes jobs until ctx is cancelled.
func (k *Cook) Run(ctx context.Context) error {
	if err := EnsureBaseRootfs(k.chef); err != nil {
		return err
	}

	k.conn.OnEvent(k.onEvent)
	if err := k.conn.Event(rpc.EventCookReady, rpc.CookReadyEvent{ArchMask: k.mask}); err != nil {
		return err
	}

	logger.WithField("mask", k.mask).Info("builder ready")

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-k.queue:
			k.build(ctx, req)
			k.addPending(-1)
		}
	}
}

func (k *Cook) onEvent(method string, body json.RawMessage) {
	if method != rpc.MethodCookBuild {
		return
	}
	var req rpc.CookBuildReq
	if err := json.Unmarshal(body, &req); err != nil {
		logger.Warnf("cook: bad build event: %v", err)
		return
	}

	select {
	case k.queue <- req:
		k.addPending(1)
	default:
		k.status(req.Id, types.BuildFailed, "builder queue full")
	}
}

func (k *Cook) addPending(delta int) {
	k.mu.Lock()
	k.pending += delta
	size := k.pending
	k.mu.Unlock()
	_ = k.conn.Event(rpc.EventCookUpdate, rpc.CookUpdateEvent{QueueSize: size})
}

func (k *Cook) status(id string, status types.BuildStatus, cause string) {
	_ = k.conn.Event(rpc.EventCookStatus, rpc.CookStatusEvent{
		Id: id, Status: status, Cause: cause,
	})
}

func (k *Cook) artifact(id string, t types.ArtifactType, uri string) {
	_ = k.conn.Event(rpc.EventCookArtifact, rpc.CookArtifactEvent{
		Id: id, Type: t, URI: uri,
	})
}

// build runs one job through sourcing, building and packing, streaming
// each transition to the broker.
func (k *Cook) build(ctx context.Context, req rpc.CookBuildReq) {
	log := logger.WithFields(map[string]interface{}{
		"id":   req.Id,
		"arch": req.Arch.String(),
	})
	log.Info("build started")

	k.status(req.Id, types.BuildSourcing, "")

	scratch, err := AllocScratch(k.chef.Options.ScratchRoot, k.chef.Options.ScratchSize)
	if err != nil {
		k.status(req.Id, types.BuildFailed, err.Error())
		return
	}
	defer func() {
		if err := scratch.Release(); err != nil {
			log.Warnf("releasing scratch: %v", err)
		}
	}()

	outDir, err := k.chef.GetInCacheDirMkdir("artifacts", req.Id)
	if err != nil {
		k.status(req.Id, types.BuildFailed, err.Error())
		return
	}

	if err := k.source(ctx, req, scratch); err != nil {
		k.status(req.Id, types.BuildFailed, err.Error())
		return
	}

	k.status(req.Id, types.BuildBuilding, "")

	exit, err := k.buildInContainer(ctx, req, scratch, outDir)
	if err != nil {
		k.status(req.Id, types.BuildFailed, err.Error())
		return
	}

	logURI := fileURI(filepath.Join(outDir, "build.log"))
	k.artifact(req.Id, types.ArtifactLog, logURI)

	if exit != 0 {
		k.status(req.Id, types.BuildFailed, fmt.Sprintf("build exited %d", exit))
		return
	}

	k.status(req.Id, types.BuildPacking, "")

	packPath, err := findPack(outDir)
	if err != nil {
		k.status(req.Id, types.BuildFailed, err.Error())
		return
	}
	k.artifact(req.Id, types.ArtifactPackage, fileURI(packPath))

	k.status(req.Id, types.BuildDone, "")
	log.Info("build done")
}

// source fetches and unpacks the job's source tree into the scratch.
func (k *Cook) source(ctx context.Context, req rpc.CookBuildReq, scratch *Scratch) error {
	srcDir := filepath.Join(scratch.Dir, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return err
	}

	archive := filepath.Join(scratch.Dir, "source.tar")
	if err := tools.DownloadFile(ctx, req.SourceURL, archive); err != nil {
		return err
	}
	if err := tools.TarUnpack(archive, srcDir); err != nil {
		return fmt.Errorf("unpacking source: %w", err)
	}
	return os.Remove(archive)
}

// buildInContainer composes base rootfs plus scratch upper, applies the
// build policy and runs bakectl against the recipe, waiting for its
// exit.
func (k *Cook) buildInContainer(ctx context.Context, req rpc.CookBuildReq, scratch *Scratch, outDir string) (exit int, err error) {
	upper := filepath.Join(scratch.Dir, "upper")
	if err = os.MkdirAll(upper, 0o755); err != nil {
		return 0, err
	}

	layers := buildLayers(k.chef.Options.BaseRootfsPath, filepath.Join(scratch.Dir, "src"), k.chef.Options.CachePath, outDir, upper)

	// default-deny: only the build tree, the ingredients cache and the
	// output directory are reachable
	policy := types.Policy{
		Level: types.SecurityStrict,
		Fs: []types.FsRule{
			{Path: "/build", Access: types.AccessRead | types.AccessWrite | types.AccessExec},
			{Path: "/ingredients", Access: types.AccessRead},
			{Path: "/out", Access: types.AccessRead | types.AccessWrite},
		},
	}

	cnt, err := k.engine.Create(types.CreateOptions{
		Id:       "bake-" + shortId(req.Id),
		Layers:   layers,
		Hostname: "chef-bake",
		Level:    types.SecurityStrict,
		Policy:   policy,
	})
	if err != nil {
		return 0, fmt.Errorf("creating build container: %w", err)
	}
	defer func() {
		if derr := k.engine.Destroy(cnt.Id); derr != nil {
			logger.Warnf("cook: destroying %s: %v", cnt.Id, derr)
		}
	}()

	self, err := os.Executable()
	if err != nil {
		return 0, err
	}
	if err := k.engine.Upload(ctx, cnt.Id, self, "/usr/bin/chef"); err != nil {
		return 0, fmt.Errorf("injecting chef binary: %w", err)
	}

	argv := []string{
		"/usr/bin/chef", "bakectl",
		"--recipe", filepath.Join("/build", req.RecipePath),
		"--output", "/out",
		"--arch", req.Arch.String(),
		"--platform", req.Platform,
	}
	_, exit, err = k.engine.Spawn(ctx, cnt.Id, argv, nil, types.SpawnWaitExit)
	if err != nil {
		return 0, fmt.Errorf("running bakectl: %w", err)
	}
	return exit, nil
}

// buildLayers is the rootfs recipe for a build container: base, the
// three build binds, then the scratch upper. The writable upper must be
// listed last or composition rejects the stack.
func buildLayers(base, srcDir, cachePath, outDir, upper string) []types.Layer {
	return []types.Layer{
		{Kind: types.LayerBase, Source: base, ReadOnly: true},
		{Kind: types.LayerBind, Source: srcDir, Target: "/build"},
		{Kind: types.LayerBind, Source: cachePath, Target: "/ingredients", ReadOnly: true},
		{Kind: types.LayerBind, Source: outDir, Target: "/out"},
		{Kind: types.LayerUpper, Source: upper},
	}
}

func findPack(outDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(outDir, "*.pack"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("build produced no pack in %s", outDir)
	}
	return matches[0], nil
}

func fileURI(path string) string {
	return "file://" + path
}

// shortId trims a correlation id to its first 8 bytes. Ids arrive over
// the wire, so short ones must not panic.
func shortId(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
