package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fraudshield/fraudshield/internal/app"
	"github.com/fraudshield/fraudshield/internal/config"
	"github.com/fraudshield/fraudshield/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "fraudshield",
		Short: "FraudShield - deepfake, voice and phishing detection",
		Long: `FraudShield scores uploaded images for deepfakes, audio clips for synthetic
voices and URLs or messages for phishing.

Models are read from the configured models directory. A missing model is
replaced by a simulated score unless simulation is disabled.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "fraudshield.yaml", "config file path")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newCheckCmd(opts),
		newModelsCmd(opts),
		newBenchCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", o.configPath, err)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if err := logging.Configure(cfg.Logging); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

// withApp builds the application, runs fn and releases it.
func (o *rootOptions) withApp(ctx context.Context, fn func(*app.App) error) error {
	a, err := app.New(ctx, o.cfg, Version)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))
	return fn(a)
}
