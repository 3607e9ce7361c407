package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mickgian/pratikoai-retrieval/internal/config"
)

var tiersCmd = &cobra.Command{
	Use:   "tiers",
	Short: "Print the resolved model tier registry",
	Long: `Print every model tier after defaults, MODEL_TIERS_FILE and TIER_<NAME>_*
overrides are applied. Invalid models fall back to the provider default with a warning.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load()
		registry, err := config.LoadTierRegistry(cfg.ModelTiersFile, newLogger())
		if err != nil {
			return err
		}
		return printTiers(cmd.OutOrStdout(), registry)
	},
}

func printTiers(w io.Writer, registry *config.TierRegistry) error {
	for _, name := range registry.Names() {
		tier, err := registry.Resolve(name)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, tier.String())
	}
	return nil
}
