package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/creack/pty"
	"github.com/mirkobrombin/chef/pkg/pack"
	"github.com/mirkobrombin/chef/pkg/types"
	"github.com/spf13/cobra"
)

// NewBakectlCommand creates the hidden `bakectl` command: the
// in-container build driver spawned by cookd. It runs the recipe steps
// under a pty, stages their output and packs it into a pack archive.
func NewBakectlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "bakectl",
		Short:  "Execute recipe steps inside a build container",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE:   bakectlRun,
	}

	cmd.Flags().String("recipe", "", "recipe file to bake")
	cmd.Flags().String("output", "/out", "directory receiving the pack and the build log")
	cmd.Flags().String("arch", "", "architecture being baked")
	cmd.Flags().String("platform", "", "platform being baked")
	_ = cmd.MarkFlagRequired("recipe")

	return cmd
}

func bakectlRun(cmd *cobra.Command, args []string) error {
	recipePath, _ := cmd.Flags().GetString("recipe")
	output, _ := cmd.Flags().GetString("output")
	archName, _ := cmd.Flags().GetString("arch")
	platform, _ := cmd.Flags().GetString("platform")

	raw, err := os.ReadFile(recipePath)
	if err != nil {
		return err
	}

	var recipe types.Recipe
	if err := json.Unmarshal(raw, &recipe); err != nil {
		return fmt.Errorf("bakectlRun: parsing recipe: %s", err)
	}
	if len(recipe.Steps) == 0 {
		return fmt.Errorf("bakectlRun: recipe %s has no steps", recipe.Name)
	}

	publisher, pkg, err := splitRecipeName(recipe.Name)
	if err != nil {
		return err
	}
	if err := recipeSupports(recipe, archName, platform); err != nil {
		return err
	}

	logFile, err := os.Create(filepath.Join(output, "build.log"))
	if err != nil {
		return err
	}
	defer logFile.Close()

	destDir := filepath.Join(output, ".dest")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	defer os.RemoveAll(destDir)

	srcDir := filepath.Dir(recipePath)
	sink := io.MultiWriter(os.Stdout, logFile)

	for i, step := range recipe.Steps {
		fmt.Fprintf(sink, "==> step %d/%d: %s\n", i+1, len(recipe.Steps), step)
		if err := runStep(step, srcDir, destDir, sink); err != nil {
			fmt.Fprintf(sink, "==> step %d failed: %s\n", i+1, err)
			return err
		}
	}

	manifest := pack.Manifest{
		Publisher: publisher,
		Package:   pkg,
		Revision:  recipe.Revision,
		Commands:  recipe.Commands,
	}
	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(destDir, pack.ManifestName), encoded, 0o644); err != nil {
		return err
	}

	packPath := filepath.Join(output, publisher+"-"+pkg+".pack")
	fmt.Fprintf(sink, "==> packing %s\n", packPath)
	return pack.PackDir(destDir, packPath)
}

// runStep runs one shell step under a pty so build tools behave as they
// do interactively, teeing everything to the build log.
func runStep(step, srcDir, destDir string, sink io.Writer) error {
	c := exec.Command("/bin/sh", "-c", step)
	c.Dir = srcDir
	c.Env = append(os.Environ(), "DESTDIR="+destDir)

	tty, err := pty.Start(c)
	if err != nil {
		return err
	}
	defer tty.Close()

	// The pty returns EIO when the child side closes; that is the
	// normal end of output, not a failure.
	_, _ = io.Copy(sink, tty)

	return c.Wait()
}

func splitRecipeName(name string) (publisher, pkg string, err error) {
	parts := strings.Split(name, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		err = fmt.Errorf("splitRecipeName: %q is not publisher/package", name)
		return
	}
	return parts[0], parts[1], nil
}

func recipeSupports(recipe types.Recipe, archName, platform string) error {
	if archName != "" && len(recipe.Architectures) > 0 {
		found := false
		for _, a := range recipe.Architectures {
			if a == archName {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("recipe %s does not support %s", recipe.Name, archName)
		}
	}
	if platform != "" && recipe.Platform != "" && recipe.Platform != platform {
		return fmt.Errorf("recipe %s targets %s, not %s", recipe.Name, recipe.Platform, platform)
	}
	return nil
}
