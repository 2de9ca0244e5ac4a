package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mirkobrombin/chef/pkg/chef"
	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/rpc"
	"github.com/mirkobrombin/chef/pkg/types"
	"github.com/spf13/cobra"
)

// NewBakeCommand creates the `bake` command: submit a build to the
// broker and follow it until it reaches a terminal status.
func NewBakeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bake <source-url>",
		Short: "Submit a recipe build to the broker",
		Args:  cobra.ExactArgs(1),
		RunE:  bakeRun,
	}

	cmd.Flags().BoolP("verbose", "v", false, "enable verbose output")
	cmd.Flags().String("waiter", "", "broker address (defaults to the configured waiter address)")
	cmd.Flags().String("arch", "", "target architecture (defaults to the host architecture)")
	cmd.Flags().String("platform", "linux", "target platform")
	cmd.Flags().String("recipe", "recipe.json", "recipe path inside the source tree")

	return cmd
}

func bakeRun(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger.SetVerbose(verbose)

	c, err := chef.NewChef()
	if err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("waiter")
	if addr == "" {
		addr = c.Options.WaiterAddr
	}

	archName, _ := cmd.Flags().GetString("arch")
	var arch types.Architecture
	if archName == "" {
		if arch, err = hostArch(); err != nil {
			return err
		}
	} else if arch = types.ParseArchitecture(archName); arch == types.ArchUnknown {
		return fmt.Errorf("bake: unknown architecture %q", archName)
	}

	platform, _ := cmd.Flags().GetString("platform")
	recipePath, _ := cmd.Flags().GetString("recipe")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := rpc.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	statusCh := make(chan rpc.CookStatusEvent, 16)
	conn.OnEvent(func(method string, body json.RawMessage) {
		switch method {
		case rpc.EventCookStatus:
			var ev rpc.CookStatusEvent
			if json.Unmarshal(body, &ev) == nil {
				select {
				case statusCh <- ev:
				default:
				}
			}
		case rpc.EventCookArtifact:
			var ev rpc.CookArtifactEvent
			if json.Unmarshal(body, &ev) == nil {
				fmt.Printf("%s artifact ready: %s\n", ev.Type, ev.URI)
			}
		}
	})

	var res rpc.BuildRes
	err = conn.Call(ctx, rpc.MethodBuild, rpc.BuildReq{
		Arch:       arch,
		Platform:   platform,
		SourceURL:  args[0],
		RecipePath: recipePath,
	}, &res)
	if err != nil {
		return err
	}

	fmt.Printf("Build %s accepted (%s)\n", res.CorrelationId, res.Status)

	final, err := bakeWait(ctx, conn, res.CorrelationId, statusCh)
	if err != nil {
		return err
	}

	if final.Status == types.BuildFailed {
		if final.Cause != "" {
			return fmt.Errorf("build failed: %s", final.Cause)
		}
		return fmt.Errorf("build failed")
	}

	for _, t := range []types.ArtifactType{types.ArtifactLog, types.ArtifactPackage} {
		var art rpc.ArtifactRes
		if err := conn.Call(ctx, rpc.MethodArtifact,
			rpc.ArtifactReq{Id: res.CorrelationId, Type: t}, &art); err == nil && art.URI != "" {
			fmt.Printf("%s: %s\n", t, art.URI)
		}
	}

	fmt.Println("Build done")
	return nil
}

// bakeWait follows status events for the given build, polling the
// broker as a fallback in case an event is dropped.
func bakeWait(ctx context.Context, conn *rpc.Conn, id string,
	statusCh <-chan rpc.CookStatusEvent) (res rpc.StatusRes, err error) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			err = types.NewError(types.ErrCancelled, "bake interrupted")
			return
		case ev := <-statusCh:
			if ev.Id != id {
				continue
			}
			fmt.Printf("Build %s: %s\n", ev.Id, ev.Status)
			if ev.Status.Terminal() {
				res.Status = ev.Status
				res.Cause = ev.Cause
				return
			}
		case <-ticker.C:
			if err = conn.Call(ctx, rpc.MethodStatus, rpc.StatusReq{Id: id}, &res); err != nil {
				return
			}
			if res.Status.Terminal() {
				fmt.Printf("Build %s: %s\n", id, res.Status)
				return
			}
		}
	}
}
