package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fraudshield/fraudshield/internal/app"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API until SIGINT or SIGTERM.

Examples:
  fraudshield serve
  fraudshield serve --config /etc/fraudshield/fraudshield.yaml --addr :9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				opts.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return opts.withApp(ctx, func(a *app.App) error {
				return a.Serve(ctx)
			})
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "override listen address")
	return cmd
}
