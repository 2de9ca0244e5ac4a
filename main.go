package main

import (
	"fmt"
	"os"

	"github.com/mirkobrombin/chef/cmd"
	"github.com/spf13/cobra"
)

var version = "0.0.1"

func main() {
	rootCmd := &cobra.Command{
		Use:   "chef",
		Short: "recipe-driven package builds and containerized installs",
		Long:  `chef bakes recipes into packs, distributes the builds over cook workers and installs the results into isolated containers`,
	}

	rootCmd.AddCommand(cmd.NewServedCommand())
	rootCmd.AddCommand(cmd.NewCvdCommand())
	rootCmd.AddCommand(cmd.NewCookdCommand())
	rootCmd.AddCommand(cmd.NewWaiterdCommand())
	rootCmd.AddCommand(cmd.NewBakeCommand())
	rootCmd.AddCommand(cmd.NewOrderCommand())
	rootCmd.AddCommand(cmd.NewServeCommand())
	rootCmd.AddCommand(cmd.NewConfigCommand())
	rootCmd.AddCommand(cmd.NewSpawnCommand())
	rootCmd.AddCommand(cmd.NewBakectlCommand())
	rootCmd.AddCommand(cmd.NewDedupCommand())
	rootCmd.AddCommand(cmd.NewGenSchemaCommand())
	rootCmd.AddCommand(cmd.NewValidateCommand())

	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
