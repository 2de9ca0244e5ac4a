package cmd

import (
	"fmt"

	"github.com/mirkobrombin/chef/pkg/container"
	"github.com/spf13/cobra"
)

// NewSpawnCommand creates the hidden `spawn` command: the re-exec entry
// point that becomes a container's init. Never invoked by users.
func NewSpawnCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "spawn",
		Short:  "Container init entry point (hidden)",
		Hidden: true,
		RunE:   spawnRun,
	}

	cmd.Flags().String("spec", "", "path to the init spec")

	return cmd
}

func spawnRun(cmd *cobra.Command, args []string) error {
	spec, _ := cmd.Flags().GetString("spec")
	if spec == "" {
		return fmt.Errorf("spec is mandatory")
	}
	return container.RunInit(spec)
}
