package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/mirkobrombin/chef/pkg/chef"
	"github.com/mirkobrombin/chef/pkg/container"
	"github.com/mirkobrombin/chef/pkg/cook"
	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/policy"
	"github.com/mirkobrombin/chef/pkg/rpc"
	"github.com/mirkobrombin/chef/pkg/tools"
	"github.com/mirkobrombin/chef/pkg/types"
	"github.com/spf13/cobra"
)

// NewCookdCommand creates the `cookd` command: the builder daemon that
// connects to waiterd and bakes recipes in containers.
func NewCookdCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cookd",
		Short: "Run the builder daemon",
		RunE:  cookdRun,
	}

	cmd.Flags().BoolP("verbose", "v", false, "enable verbose output")
	cmd.Flags().StringSlice("arch", nil, "architectures to serve (defaults to the host's)")
	cmd.Flags().String("waiter", "", "broker address (defaults to the configured one)")

	return cmd
}

func cookdRun(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger.SetVerbose(verbose)

	c, err := chef.NewChef()
	if err != nil {
		return err
	}

	// source unpacking and rootfs seeding shell out
	if err := tools.EnsureUnixDeps("tar", "/bin/sh"); err != nil {
		return err
	}

	archNames, _ := cmd.Flags().GetStringSlice("arch")
	archs, err := resolveArchs(archNames)
	if err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("waiter")
	if addr == "" {
		addr = c.Options.WaiterAddr
	}

	policyEngine, err := policy.NewEngine("/sys/fs/bpf/chef")
	if err != nil {
		return err
	}
	defer policyEngine.Close()

	// build containers live in their own states subtree so cvd's
	// orphan sweep never touches them
	engine := container.NewEngine(policyEngine, filepath.Join(c.Options.StoreStatesPath, "build"))
	engine.SweepOrphans()

	conn, err := rpc.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cook.New(&c, engine, conn, archs).Run(ctx)
}

// resolveArchs parses the flag values, defaulting to the architecture
// cookd itself runs on.
func resolveArchs(names []string) ([]types.Architecture, error) {
	if len(names) == 0 {
		arch, err := hostArch()
		if err != nil {
			return nil, err
		}
		return []types.Architecture{arch}, nil
	}

	archs := make([]types.Architecture, 0, len(names))
	for _, name := range names {
		arch := types.ParseArchitecture(name)
		if arch == types.ArchUnknown {
			return nil, fmt.Errorf("resolveArchs: unknown architecture %q", name)
		}
		archs = append(archs, arch)
	}
	return archs, nil
}

func hostArch() (types.Architecture, error) {
	switch runtime.GOARCH {
	case "386":
		return types.ArchX86, nil
	case "amd64":
		return types.ArchX64, nil
	case "arm":
		return types.ArchArmhf, nil
	case "arm64":
		return types.ArchArm64, nil
	case "riscv64":
		return types.ArchRiscv64, nil
	}
	return types.ArchUnknown, fmt.Errorf("no chef architecture maps to %s", runtime.GOARCH)
}
