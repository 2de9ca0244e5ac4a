package cmd

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/mirkobrombin/chef/pkg/chef"
	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/rpc"
	"github.com/mirkobrombin/chef/pkg/tools"
	"github.com/mirkobrombin/chef/pkg/types"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the `serve` command tree: the user-facing
// package management client talking to the served socket.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Manage installed packages",
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	cmd.AddCommand(&cobra.Command{
		Use:   "install <pack-file>",
		Short: "Install a local pack archive",
		Args:  cobra.ExactArgs(1),
		RunE:  serveInstallRun,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <publisher/package>",
		Short: "Remove an installed package",
		Args:  cobra.ExactArgs(1),
		RunE:  serveRemoveRun,
	})
	update := &cobra.Command{
		Use:   "update <publisher/package>",
		Short: "Update an installed package",
		Args:  cobra.ExactArgs(1),
		RunE:  serveUpdateRun,
	}
	update.Flags().String("path", "", "update from a local pack archive instead of the store")
	update.Flags().String("channel", "stable", "release channel")
	update.Flags().Int("revision", 0, "pin a specific revision (0 means latest)")
	cmd.AddCommand(update)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		Args:  cobra.NoArgs,
		RunE:  serveListRun,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "info <publisher/package>",
		Short: "Show details of an installed package",
		Args:  cobra.ExactArgs(1),
		RunE:  serveInfoRun,
	})
	cmd.AddCommand(&cobra.Command{
		Use:    "run <publisher/package> <command> [args...]",
		Short:  "Run an exported command of an installed package",
		Hidden: true,
		Args:   cobra.MinimumNArgs(2),
		RunE:   serveRunRun,
	})

	return cmd
}

func serveDial(cmd *cobra.Command) (*chef.Chef, *rpc.Conn, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger.SetVerbose(verbose)

	c, err := chef.NewChef()
	if err != nil {
		return nil, nil, err
	}

	conn, err := rpc.Dial("unix", c.Options.ServedSocketPath)
	if err != nil {
		return nil, nil, err
	}
	return c, conn, nil
}

func serveInstallRun(cmd *cobra.Command, args []string) error {
	abs, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	_, conn, err := serveDial(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()

	var res rpc.InstallRes
	err = conn.Call(context.Background(), rpc.MethodInstall,
		rpc.InstallReq{Path: abs}, &res)
	if err != nil {
		return err
	}

	fmt.Printf("Install started (transaction %d)\n", res.TransactionId)
	return nil
}

func serveRemoveRun(cmd *cobra.Command, args []string) error {
	if !tools.ConfirmOperation(fmt.Sprintf("Remove %s and its data?", args[0])) {
		return nil
	}

	_, conn, err := serveDial(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()

	var res rpc.InstallRes
	err = conn.Call(context.Background(), rpc.MethodRemove,
		rpc.RemoveReq{Package: args[0]}, &res)
	if err != nil {
		return err
	}

	fmt.Printf("Removal started (transaction %d)\n", res.TransactionId)
	return nil
}

func serveUpdateRun(cmd *cobra.Command, args []string) error {
	packPath, _ := cmd.Flags().GetString("path")
	channel, _ := cmd.Flags().GetString("channel")
	revision, _ := cmd.Flags().GetInt("revision")

	if packPath != "" {
		abs, err := filepath.Abs(packPath)
		if err != nil {
			return err
		}
		packPath = abs
	}

	_, conn, err := serveDial(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()

	var res rpc.InstallRes
	err = conn.Call(context.Background(), rpc.MethodUpdate,
		rpc.UpdateReq{
			Package:  args[0],
			Path:     packPath,
			Channel:  channel,
			Revision: revision,
		}, &res)
	if err != nil {
		return err
	}

	fmt.Printf("Update started (transaction %d)\n", res.TransactionId)
	return nil
}

func serveListRun(cmd *cobra.Command, args []string) error {
	_, conn, err := serveDial(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()

	var res rpc.ListRes
	err = conn.Call(context.Background(), rpc.MethodList, nil, &res)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(res.Applications))
	for _, app := range res.Applications {
		rows = append(rows, []string{
			app.Name(),
			strconv.Itoa(app.Revision),
			strconv.Itoa(len(app.Commands)),
			app.InstallTimestamp.Format("2006-01-02 15:04"),
		})
	}

	tools.ShowTable([]string{"Package", "Revision", "Commands", "Installed"}, rows)
	return nil
}

func serveInfoRun(cmd *cobra.Command, args []string) error {
	_, conn, err := serveDial(cmd)
	if err != nil {
		return err
	}
	defer conn.Close()

	var res rpc.InfoRes
	err = conn.Call(context.Background(), rpc.MethodInfo,
		rpc.InfoReq{Package: args[0]}, &res)
	if err != nil {
		return err
	}

	tools.PrintStructKeyVal(res.Application)
	return nil
}

// serveRunRun is the target of generated wrappers: it resolves the
// named command of an installed package and executes it inside the
// application's container, propagating the exit code.
func serveRunRun(cmd *cobra.Command, args []string) error {
	c, conn, err := serveDial(cmd)
	if err != nil {
		return err
	}

	var res rpc.InfoRes
	err = conn.Call(context.Background(), rpc.MethodInfo,
		rpc.InfoReq{Package: args[0]}, &res)
	conn.Close()
	if err != nil {
		return err
	}

	var command *types.Command
	for i := range res.Application.Commands {
		if res.Application.Commands[i].Name == args[1] {
			command = &res.Application.Commands[i]
			break
		}
	}
	if command == nil {
		return types.NewError(types.ErrNotFound,
			"package %s exports no command %q", args[0], args[1])
	}

	cvd, err := rpc.Dial("unix", c.Options.CvdSocketPath)
	if err != nil {
		return err
	}
	defer cvd.Close()

	id, err := ensureAppContainer(context.Background(), cvd, c, res.Application)
	if err != nil {
		return err
	}

	argv := append([]string{path.Join("/app", command.Path)}, command.Arguments...)
	argv = append(argv, args[2:]...)

	var spawned rpc.SpawnRes
	err = cvd.Call(context.Background(), rpc.MethodSpawn, &rpc.SpawnReq{
		ContainerId: id,
		Argv:        argv,
		WaitExit:    true,
	}, &spawned)
	if err != nil {
		return err
	}

	if spawned.Exit != 0 {
		os.Exit(spawned.Exit)
	}
	return nil
}
