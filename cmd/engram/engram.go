// Package engramcmder
package engramcmder

import (
	configcmder "github.com/papercomputeco/engram/cmd/engram/config"
	servecmder "github.com/papercomputeco/engram/cmd/engram/serve"
	statuscmder "github.com/papercomputeco/engram/cmd/engram/status"
	versioncmder "github.com/papercomputeco/engram/cmd/version"
	"github.com/spf13/cobra"
)

const engramLongDesc string = `Engram is a memory service for AI agents.

It persists each memory across a vector index and a knowledge graph,
serves hybrid-ranked recall, and tracks project milestones, conflicts,
and memory quality over time.

Run services using:
  engram serve         Run the API and MCP server
  engram status        Check a running server
  engram config        Inspect and edit configuration`

const engramShortDesc string = "Engram - Agent Memory Orchestration"

func NewEngramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engram",
		Short: engramShortDesc,
		Long:  engramLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Config directory (default: $ENGRAM_DIR or ~/.engram)")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
