package main

import (
	"github.com/spf13/cobra"

	"github.com/fraudshield/fraudshield/internal/app"
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	var load bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Print the model registry status",
		Long: `Print one entry per detector model. Without --load nothing is read from
disk, so every model shows as not loaded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app.App) error {
				if load {
					a.Models.Warm(cmd.Context())
				}
				return printJSON(cmd.OutOrStdout(), a.Models.Status())
			})
		},
	}
	cmd.Flags().BoolVar(&load, "load", false, "load every model before reporting")
	return cmd
}
