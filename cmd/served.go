package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/mirkobrombin/chef/pkg/chef"
	"github.com/mirkobrombin/chef/pkg/install"
	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/pack"
	"github.com/mirkobrombin/chef/pkg/rpc"
	"github.com/mirkobrombin/chef/pkg/types"
	"github.com/spf13/cobra"
)

// NewServedCommand creates the `served` command: the install daemon
// serving the installer service on a local unix socket.
func NewServedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "served",
		Short: "Run the install daemon",
		RunE:  servedRun,
	}

	cmd.Flags().BoolP("verbose", "v", false, "enable verbose output")

	return cmd
}

func servedRun(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger.SetVerbose(verbose)

	c, err := chef.NewChef()
	if err != nil {
		return err
	}

	store, err := install.NewStore(c.Options.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	apps, err := install.OpenAppStore(filepath.Join(c.Options.StorePath, "applications.json"))
	if err != nil {
		return err
	}

	broadcast := newBroadcaster()

	services := &containerServices{chef: &c}
	runner := install.NewRunner(&c, store, apps, nil, services, broadcast.notify)
	if err := runner.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := rpc.NewServer()
	srv.OnConnect(broadcast.add)
	srv.OnDisconnect(broadcast.remove)
	registerInstallerService(srv, &c, runner, apps)

	socket := c.Options.ServedSocketPath
	if err := os.MkdirAll(filepath.Dir(socket), 0o755); err != nil {
		return err
	}
	_ = os.Remove(socket)
	l, err := net.Listen("unix", socket)
	if err != nil {
		return err
	}

	logger.WithField("socket", socket).Info("served listening")
	err = srv.Serve(ctx, l)

	// run the shutdown sweep, then stop the worker
	if id, serr := runner.Create(types.Transaction{
		Type:      types.TransactionShutdownSweep,
		Ephemeral: true,
	}); serr != nil {
		logger.Warnf("shutdown sweep: %v", serr)
	} else {
		logger.WithField("transaction", id).Info("shutdown sweep queued")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := runner.Stop(stopCtx); serr != nil {
		logger.Warnf("stopping runner: %v", serr)
	}
	return err
}

// broadcaster fans runner notifications out to every connected session.
type broadcaster struct {
	mu       sync.Mutex
	sessions map[*rpc.Session]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{sessions: make(map[*rpc.Session]struct{})}
}

func (b *broadcaster) add(sess *rpc.Session) {
	b.mu.Lock()
	b.sessions[sess] = struct{}{}
	b.mu.Unlock()
}

func (b *broadcaster) remove(sess *rpc.Session) {
	b.mu.Lock()
	delete(b.sessions, sess)
	b.mu.Unlock()
}

func (b *broadcaster) notify(event install.Event, payload interface{}) {
	var method string
	var body interface{}

	switch event {
	case install.EventLog:
		p := payload.(install.LogNotification)
		method = rpc.EventTransactionLog
		body = rpc.TransactionLogEvent{
			Id:        p.TransactionId,
			Level:     p.Entry.Level,
			Timestamp: p.Entry.Timestamp.Unix(),
			State:     string(p.Entry.State),
			Message:   p.Entry.Message,
		}
	case install.EventInstalled, install.EventRemoved, install.EventUpdated:
		p := payload.(install.PackageNotification)
		switch event {
		case install.EventInstalled:
			method = rpc.EventPackageInstalled
		case install.EventRemoved:
			method = rpc.EventPackageRemoved
		default:
			method = rpc.EventPackageUpdated
		}
		body = rpc.PackageEvent{
			Package:       p.Package,
			Revision:      p.Revision,
			TransactionId: p.TransactionId,
		}
	default:
		return
	}

	b.mu.Lock()
	sessions := make([]*rpc.Session, 0, len(b.sessions))
	for sess := range b.sessions {
		sessions = append(sessions, sess)
	}
	b.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.Event(method, body)
	}
}

func registerInstallerService(srv *rpc.Server, c *chef.Chef, runner *install.Runner, apps *install.AppStore) {
	srv.Handle(rpc.MethodInstall, func(ctx context.Context, sess *rpc.Session, body json.RawMessage) (interface{}, error) {
		var req rpc.InstallReq
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, types.WrapError(types.ErrInvalidArgument, err, "install request")
		}

		name, err := packName(req.Path)
		if err != nil {
			return nil, err
		}

		id, err := runner.Create(types.Transaction{
			Type:    types.TransactionInstall,
			Package: name,
			Path:    req.Path,
		})
		if err != nil {
			return &rpc.InstallRes{TransactionId: types.TransactionFailureId}, err
		}
		return &rpc.InstallRes{TransactionId: id}, nil
	})

	srv.Handle(rpc.MethodInstallFromStore, func(ctx context.Context, sess *rpc.Session, body json.RawMessage) (interface{}, error) {
		var req rpc.InstallFromStoreReq
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, types.WrapError(types.ErrInvalidArgument, err, "install request")
		}

		url, err := resolveStorePack(c, req.Package, req.Channel, req.Revision)
		if err != nil {
			return nil, err
		}

		id, err := runner.Create(types.Transaction{
			Type:     types.TransactionInstall,
			Package:  req.Package,
			Path:     url,
			Revision: req.Revision,
		})
		if err != nil {
			return &rpc.InstallRes{TransactionId: types.TransactionFailureId}, err
		}
		return &rpc.InstallRes{TransactionId: id}, nil
	})

	srv.Handle(rpc.MethodRemove, func(ctx context.Context, sess *rpc.Session, body json.RawMessage) (interface{}, error) {
		var req rpc.RemoveReq
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, types.WrapError(types.ErrInvalidArgument, err, "remove request")
		}
		id, err := runner.Create(types.Transaction{
			Type:    types.TransactionUninstall,
			Package: req.Package,
		})
		if err != nil {
			return &rpc.InstallRes{TransactionId: types.TransactionFailureId}, err
		}
		return &rpc.InstallRes{TransactionId: id}, nil
	})

	srv.Handle(rpc.MethodUpdate, func(ctx context.Context, sess *rpc.Session, body json.RawMessage) (interface{}, error) {
		var req rpc.UpdateReq
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, types.WrapError(types.ErrInvalidArgument, err, "update request")
		}

		path := req.Path
		if path == "" {
			url, err := resolveStorePack(c, req.Package, req.Channel, req.Revision)
			if err != nil {
				return nil, err
			}
			path = url
		}

		id, err := runner.Create(types.Transaction{
			Type:     types.TransactionUpdate,
			Package:  req.Package,
			Path:     path,
			Revision: req.Revision,
		})
		if err != nil {
			return &rpc.InstallRes{TransactionId: types.TransactionFailureId}, err
		}
		return &rpc.InstallRes{TransactionId: id}, nil
	})

	srv.Handle(rpc.MethodInfo, func(ctx context.Context, sess *rpc.Session, body json.RawMessage) (interface{}, error) {
		var req rpc.InfoReq
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, types.WrapError(types.ErrInvalidArgument, err, "info request")
		}
		app, err := apps.Get(req.Package)
		if err != nil {
			return nil, err
		}
		return &rpc.InfoRes{Application: app}, nil
	})

	srv.Handle(rpc.MethodListCount, func(ctx context.Context, sess *rpc.Session, body json.RawMessage) (interface{}, error) {
		return &rpc.ListCountRes{Count: apps.Count()}, nil
	})

	srv.Handle(rpc.MethodList, func(ctx context.Context, sess *rpc.Session, body json.RawMessage) (interface{}, error) {
		return &rpc.ListRes{Applications: apps.List()}, nil
	})
}

// packName reads a local pack's manifest to learn the package it
// carries; remote paths keep their name resolution for the transaction.
func packName(path string) (string, error) {
	reader, err := pack.OpenTar(path)
	if err != nil {
		return "", types.WrapError(types.ErrNotFound, err, "opening pack %s", path)
	}
	defer reader.Close()

	manifest, err := pack.ReadManifest(reader)
	if err != nil {
		return "", types.WrapError(types.ErrInvalidArgument, err, "pack %s", path)
	}
	return manifest.Publisher + "/" + manifest.Package, nil
}

// resolveStorePack maps a package coordinate onto a pack URL below the
// configured store.
func resolveStorePack(c *chef.Chef, name, channel string, revision int) (string, error) {
	if c.Options.StoreURL == "" {
		return "", types.NewError(types.ErrUnsupported, "no pack store configured")
	}
	publisher, pkgName, err := install.SplitName(name)
	if err != nil {
		return "", err
	}
	if channel == "" {
		channel = "stable"
	}
	rev := "latest"
	if revision != 0 {
		rev = strconv.Itoa(revision)
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s.pack",
		c.Options.StoreURL, publisher, pkgName, channel, rev), nil
}
