package cmd

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/mirkobrombin/chef/pkg/chef"
	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/rpc"
	"github.com/mirkobrombin/chef/pkg/waiter"
	"github.com/spf13/cobra"
)

// NewWaiterdCommand creates the `waiterd` command: the build broker
// listening for cook workers and build clients on one TCP address.
func NewWaiterdCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "waiterd",
		Short: "Run the build broker",
		RunE:  waiterdRun,
	}

	cmd.Flags().BoolP("verbose", "v", false, "enable verbose output")
	cmd.Flags().String("listen", "", "listen address (defaults to the configured waiter address)")

	return cmd
}

func waiterdRun(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger.SetVerbose(verbose)

	c, err := chef.NewChef()
	if err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("listen")
	if addr == "" {
		addr = c.Options.WaiterAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := rpc.NewServer()
	waiter.NewBroker().Attach(srv)

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	logger.WithField("addr", addr).Info("waiterd listening")
	return srv.Serve(ctx, l)
}
