// Package engramcmder
package engramcmder

import (
	"github.com/spf13/cobra"

	compactcmder "github.com/engramhq/engram/cmd/engram/compact"
	configcmder "github.com/engramhq/engram/cmd/engram/config"
	servecmder "github.com/engramhq/engram/cmd/engram/serve"
	versioncmder "github.com/engramhq/engram/cmd/version"
)

const engramLongDesc string = `Engram consolidates captured knowledge and schedules its recall.

Near-duplicate chunks are collapsed into canonical representatives, and
anything worth remembering is resurfaced on a spaced-repetition schedule.

Common commands:
  engram serve     Run the API server and background workers
  engram compact   Merge drifted canonical clusters and collect orphans
  engram config    Manage persistent configuration`

const engramShortDesc string = "Engram - memory consolidation and recall"

func NewEngramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engram",
		Short: engramShortDesc,
		Long:  engramLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .engram/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(compactcmder.NewCompactCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
