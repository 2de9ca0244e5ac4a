package cmd

import (
	"context"
	"fmt"

	"github.com/mirkobrombin/chef/pkg/chef"
	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/rpc"
	"github.com/spf13/cobra"
)

// NewOrderCommand creates the `order` command: ask served to install a
// package from the configured store.
func NewOrderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order <publisher/package>",
		Short: "Install a package from the store",
		Args:  cobra.ExactArgs(1),
		RunE:  orderRun,
	}

	cmd.Flags().BoolP("verbose", "v", false, "enable verbose output")
	cmd.Flags().String("channel", "stable", "release channel")
	cmd.Flags().Int("revision", 0, "pin a specific revision (0 means latest)")

	return cmd
}

func orderRun(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger.SetVerbose(verbose)

	c, err := chef.NewChef()
	if err != nil {
		return err
	}

	channel, _ := cmd.Flags().GetString("channel")
	revision, _ := cmd.Flags().GetInt("revision")

	conn, err := rpc.Dial("unix", c.Options.ServedSocketPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	var res rpc.InstallRes
	err = conn.Call(context.Background(), rpc.MethodInstallFromStore,
		rpc.InstallFromStoreReq{
			Package:  args[0],
			Channel:  channel,
			Revision: revision,
		}, &res)
	if err != nil {
		return err
	}

	fmt.Printf("Order placed for %s (transaction %d)\n", args[0], res.TransactionId)
	return nil
}
