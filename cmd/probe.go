// cmd/probe.go
package cmd

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/depthlens/internal/collab"
	"github.com/xkilldash9x/depthlens/internal/orchestrator"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newProbeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Report immersive display support as the engine would see it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			probe := collab.NewCachedProbe(orchestrator.NewProbe(a.cfg.Immersive()))
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(probe.Probe(cmd.Context()))
		},
	}
}
