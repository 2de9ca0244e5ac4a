package cmd

import (
	"fmt"

	"github.com/mirkobrombin/chef/pkg/chef"
	"github.com/mirkobrombin/dabadee/pkg/dabadee"
	"github.com/mirkobrombin/dabadee/pkg/hash"
	"github.com/mirkobrombin/dabadee/pkg/processor"
	"github.com/mirkobrombin/dabadee/pkg/storage"
	"github.com/spf13/cobra"
)

func NewDedupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "dedup",
		Short:  "Deduplicate the ingredients cache into the dabadee store",
		RunE:   dedupRun,
		Hidden: true,
	}

	cmd.Flags().BoolP("verbose", "v", false, "enable verbose output")
	cmd.Flags().String("path", "", "the path to deduplicate (defaults to the ingredients cache)")

	return cmd
}

func dedupRun(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	path, _ := cmd.Flags().GetString("path")

	c, err := chef.NewChef()
	if err != nil {
		return err
	}

	if path == "" {
		path = c.Options.CachePath
	}

	if verbose {
		fmt.Printf("Deduplicating path %s\n", path)
	}

	s, err := storage.NewStorage(c.Options.DaBaDeeStoreOptions)
	if err != nil {
		return err
	}

	h := hash.NewSHA256Generator()
	p := processor.NewDedupProcessor(path, s, h, 2)

	d := dabadee.NewDaBaDee(p, verbose)
	return d.Run()
}
