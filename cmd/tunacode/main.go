// Command tunacode is a thin manual-exercising shim around the agent
// orchestration core. It is not the product surface: spec.md §1 explicitly
// treats the terminal UI and config wizard as external collaborators, so
// this entrypoint stays a minimal `run` command wiring a Runtime to
// stdin/stdout, grounded on the teacher's cmd/nexus/main.go build-info and
// cobra root-command conventions (buildRootCmd, ldflags-populated version
// vars) without any of its channel/gateway/plugin command surface.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds:
//
//	go build -ldflags "-X main.version=v0.1.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the command tree, separated from main for testability.
func buildRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "tunacode",
		Short:        "TunaCode agent orchestration core",
		Long:         "tunacode drives the request orchestrator, tool dispatcher, and compaction controller against a single user message for manual exercising. The interactive terminal UI is a separate, external collaborator.",
		Version:      fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults to built-in values plus environment variables)")

	root.AddCommand(buildRunCmd(&configPath))
	root.AddCommand(buildConfigSchemaCmd())
	return root
}
