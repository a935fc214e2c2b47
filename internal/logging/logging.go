package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/fraudshield/fraudshield/internal/config"
)

// Configure applies the logging section to the standard logrus logger.
func Configure(cfg config.LoggingConfig) error {
	return apply(log.StandardLogger(), cfg, os.Stderr)
}

func apply(logger *log.Logger, cfg config.LoggingConfig, out io.Writer) error {
	level, err := log.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "json":
		logger.SetFormatter(&log.JSONFormatter{})
	case "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	logger.SetLevel(level)
	logger.SetOutput(out)
	return nil
}
