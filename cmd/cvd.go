package cmd

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mirkobrombin/chef/pkg/chef"
	"github.com/mirkobrombin/chef/pkg/container"
	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/policy"
	"github.com/mirkobrombin/chef/pkg/rpc"
	"github.com/mirkobrombin/chef/pkg/tools"
	"github.com/mirkobrombin/chef/pkg/types"
	"github.com/spf13/cobra"
)

// NewCvdCommand creates the `cvd` command: the container daemon serving
// the container service on a local unix socket.
func NewCvdCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cvd",
		Short: "Run the container daemon",
		RunE:  cvdRun,
	}

	cmd.Flags().BoolP("verbose", "v", false, "enable verbose output")

	return cmd
}

func cvdRun(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger.SetVerbose(verbose)

	c, err := chef.NewChef()
	if err != nil {
		return err
	}

	// layer composition shells out for pack extraction
	if err := tools.EnsureUnixDeps("tar"); err != nil {
		return err
	}

	policyEngine, err := policy.NewEngine("/sys/fs/bpf/chef")
	if err != nil {
		return err
	}
	defer policyEngine.Close()

	engine := container.NewEngine(policyEngine, c.Options.StoreStatesPath)
	engine.SweepOrphans()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := rpc.NewServer()
	registerContainerService(srv, engine)

	socket := c.Options.CvdSocketPath
	if err := os.MkdirAll(filepath.Dir(socket), 0o755); err != nil {
		return err
	}
	_ = os.Remove(socket)
	l, err := net.Listen("unix", socket)
	if err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"socket": socket,
		"mode":   policyEngine.Mode().String(),
	}).Info("cvd listening")

	err = srv.Serve(ctx, l)

	// take the namespaces down before the daemon exits
	for _, cnt := range engine.List() {
		if derr := engine.Destroy(cnt.Id); derr != nil {
			logger.Warnf("destroying %s on shutdown: %v", cnt.Id, derr)
		}
	}
	return err
}

// registerContainerService maps the container service methods onto an
// engine. Shared by cvd and by tests.
func registerContainerService(srv *rpc.Server, engine *container.Engine) {
	srv.Handle(rpc.MethodCreate, func(ctx context.Context, sess *rpc.Session, body json.RawMessage) (interface{}, error) {
		var req rpc.CreateReq
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, types.WrapError(types.ErrInvalidArgument, err, "create request")
		}
		cnt, err := engine.Create(types.CreateOptions{
			Id:            req.Id,
			Layers:        req.Layers,
			Hostname:      req.Hostname,
			Level:         req.Level,
			Policy:        req.Policy,
			KeepOnFailure: req.KeepOnFailure,
		})
		if err != nil {
			return nil, err
		}
		return &rpc.CreateRes{Container: cnt}, nil
	})

	srv.Handle(rpc.MethodSpawn, func(ctx context.Context, sess *rpc.Session, body json.RawMessage) (interface{}, error) {
		var req rpc.SpawnReq
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, types.WrapError(types.ErrInvalidArgument, err, "spawn request")
		}
		var flags types.SpawnFlags
		if req.WaitExit {
			flags |= types.SpawnWaitExit
		}
		pid, exit, err := engine.Spawn(ctx, req.ContainerId, req.Argv, req.Env, flags)
		if err != nil {
			return nil, err
		}
		return &rpc.SpawnRes{Pid: pid, Exit: exit}, nil
	})

	srv.Handle(rpc.MethodKill, func(ctx context.Context, sess *rpc.Session, body json.RawMessage) (interface{}, error) {
		var req rpc.KillReq
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, types.WrapError(types.ErrInvalidArgument, err, "kill request")
		}
		return nil, engine.Kill(req.ContainerId, req.Pid)
	})

	srv.Handle(rpc.MethodUpload, func(ctx context.Context, sess *rpc.Session, body json.RawMessage) (interface{}, error) {
		var req rpc.TransferReq
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, types.WrapError(types.ErrInvalidArgument, err, "upload request")
		}
		return nil, engine.Upload(ctx, req.ContainerId, req.Source, req.Destination)
	})

	srv.Handle(rpc.MethodDownload, func(ctx context.Context, sess *rpc.Session, body json.RawMessage) (interface{}, error) {
		var req rpc.TransferReq
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, types.WrapError(types.ErrInvalidArgument, err, "download request")
		}
		return nil, engine.Download(ctx, req.ContainerId, req.Source, req.Destination)
	})

	srv.Handle(rpc.MethodDestroy, func(ctx context.Context, sess *rpc.Session, body json.RawMessage) (interface{}, error) {
		var req rpc.DestroyReq
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, types.WrapError(types.ErrInvalidArgument, err, "destroy request")
		}
		return nil, engine.Destroy(req.ContainerId)
	})

	srv.Handle(rpc.MethodPs, func(ctx context.Context, sess *rpc.Session, body json.RawMessage) (interface{}, error) {
		return &rpc.PsRes{Containers: engine.List()}, nil
	})
}
