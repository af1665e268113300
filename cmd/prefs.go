// cmd/prefs.go
package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
	"github.com/xkilldash9x/depthlens/internal/collab"
	"github.com/xkilldash9x/depthlens/internal/orchestrator"
)

// knownPrefs are the flags the engine reads.
var knownPrefs = []string{core.PrefDebugMode, core.PrefCORSNoticeShown}

func newPrefsCmd(a *app) *cobra.Command {
	prefsCmd := &cobra.Command{
		Use:   "prefs",
		Short: "Read and write stored preference flags",
	}

	prefsCmd.AddCommand(&cobra.Command{
		Use:   "get [key]",
		Short: "Print one flag, or every known flag",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := knownPrefs
			if len(args) == 1 {
				keys = args
			}
			return withPrefs(cmd, a, func(p collab.Prefs) error {
				for _, k := range keys {
					v, err := collab.GetBool(cmd.Context(), p, k)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s=%t\n", k, v)
				}
				return nil
			})
		},
	})

	prefsCmd.AddCommand(&cobra.Command{
		Use:   "set <key> <true|false>",
		Short: "Store a flag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[1], err)
			}
			return withPrefs(cmd, a, func(p collab.Prefs) error {
				return collab.SetBool(cmd.Context(), p, args[0], v)
			})
		},
	})
	return prefsCmd
}

func withPrefs(cmd *cobra.Command, a *app, fn func(collab.Prefs) error) error {
	p, err := orchestrator.OpenPrefs(cmd.Context(), a.cfg.Prefs())
	if err != nil {
		return err
	}
	defer p.Close()
	return fn(p)
}
