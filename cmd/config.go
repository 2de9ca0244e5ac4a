/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mirkobrombin/chef/pkg/chef"
	"github.com/mirkobrombin/go-struct-flags/v1/binder"
	"github.com/spf13/cobra"
)

// NewConfigCommand returns the cobra command for setting a single chef
// option key/value.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config -k key -v value",
		Short: "Set a chef option key/value",
		Long: `Set a single chef option to a given value and persist the configuration.
Use JSON field names for KEY (e.g. store_url, waiter_addr, scratch_size).`,
		RunE: runConfig,
	}

	cmd.Flags().StringP("key", "k", "", "option key (required)")
	cmd.Flags().StringP("value", "v", "", "option value (required)")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

// runConfig binds the key onto the loaded options by JSON field name and
// writes the result back to the user configuration file.
func runConfig(cmd *cobra.Command, args []string) error {
	key, err := cmd.Flags().GetString("key")
	if err != nil {
		return fmt.Errorf("a key is required")
	}
	value, err := cmd.Flags().GetString("value")
	if err != nil {
		return fmt.Errorf("a value is required")
	}

	c, err := chef.NewChef()
	if err != nil {
		return err
	}

	b, err := binder.NewBinder(&c.Options, os.TempDir(), false)
	if err != nil {
		return err
	}
	if err := b.Run(key, []string{value}); err != nil {
		return err
	}

	confPath := os.Getenv("CHEF_OPTS_FILE")
	if confPath == "" {
		homedir, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		confPath = filepath.Join(homedir, ".config", "chef", "chef.json")
	}
	if err := os.MkdirAll(filepath.Dir(confPath), 0o755); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(c.Options, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(confPath, raw, 0o644); err != nil {
		return err
	}

	fmt.Printf("Option %s=%s saved to %s\n", key, value, confPath)
	return nil
}
