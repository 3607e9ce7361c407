package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var prewarmCmd = &cobra.Command{
	Use:   "prewarm",
	Short: "Ping the premium providers and print their health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer app.Close()

		health := app.Selector.PreWarm(cmd.Context())
		names := make([]string, 0, len(health))
		for name := range health {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			status := "healthy"
			if !health[name] {
				status = "unhealthy"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s\n", name, status)
		}
		sel := app.Selector.Select("")
		fmt.Fprintf(cmd.OutOrStdout(), "selected: %s/%s degraded=%t\n", sel.Provider, sel.Model, sel.IsDegraded)
		return nil
	},
}
