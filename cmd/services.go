package cmd

import (
	"context"
	"path"
	"sync"

	"github.com/mirkobrombin/chef/pkg/chef"
	"github.com/mirkobrombin/chef/pkg/rpc"
	"github.com/mirkobrombin/chef/pkg/types"
)

// containerServices runs package daemons inside per-application
// containers through the cvd socket. Each application gets one
// container holding all of its daemons.
type containerServices struct {
	chef *chef.Chef

	mu   sync.Mutex
	conn *rpc.Conn
}

func (s *containerServices) client() (*rpc.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && s.conn.Err() == nil {
		return s.conn, nil
	}
	conn, err := rpc.Dial("unix", s.chef.Options.CvdSocketPath)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return conn, nil
}

func appContainerId(app *types.Application) string {
	return "app-" + app.Publisher + "-" + app.Package
}

// ensureAppContainer creates the application's container; an
// already-exists answer means a previous daemon start did the work.
func ensureAppContainer(ctx context.Context, conn *rpc.Conn, c *chef.Chef, app *types.Application) (string, error) {
	id := appContainerId(app)

	mount := app.MountPath
	if mount == "" {
		mount = c.MountPointFor(app.Publisher, app.Package)
	}

	var res rpc.CreateRes
	err := conn.Call(ctx, rpc.MethodCreate, &rpc.CreateReq{
		Id: id,
		Layers: []types.Layer{
			{Kind: types.LayerBase, Source: c.Options.BaseRootfsPath, ReadOnly: true},
			{Kind: types.LayerBind, Source: mount, Target: "/app", ReadOnly: true},
			{Kind: types.LayerBind, Source: c.RevisionDirFor(app.Publisher, app.Package, app.Revision), Target: "/data"},
		},
		Hostname: app.Package,
		Level:    types.SecurityDefault,
		Policy: types.Policy{
			Level: types.SecurityDefault,
			Fs: []types.FsRule{
				{Path: "/app", Access: types.AccessRead | types.AccessExec},
				{Path: "/data", Access: types.AccessRead | types.AccessWrite},
			},
		},
	}, &res)
	if types.IsKind(err, types.ErrAlreadyExists) {
		return id, nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *containerServices) Start(ctx context.Context, app *types.Application, cmd types.Command) error {
	conn, err := s.client()
	if err != nil {
		return err
	}

	id, err := ensureAppContainer(ctx, conn, s.chef, app)
	if err != nil {
		return err
	}

	argv := append([]string{path.Join("/app", cmd.Path)}, cmd.Arguments...)
	var res rpc.SpawnRes
	return conn.Call(ctx, rpc.MethodSpawn, &rpc.SpawnReq{
		ContainerId: id,
		Argv:        argv,
	}, &res)
}

// Stop tears the application container down, taking every daemon in it
// along. Stopping an application with no container is success.
func (s *containerServices) Stop(ctx context.Context, app *types.Application, cmd types.Command) error {
	conn, err := s.client()
	if err != nil {
		return err
	}

	err = conn.Call(ctx, rpc.MethodDestroy, &rpc.DestroyReq{
		ContainerId: appContainerId(app),
	}, nil)
	if types.IsKind(err, types.ErrNotFound) {
		return nil
	}
	return err
}
