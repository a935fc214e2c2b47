package audit

import (
	"context"
	"errors"

	"github.com/fraudshield/fraudshield/internal/config"
)

// FromConfig builds the emitter described by cfg. A disabled config yields a
// nil *Emitter, on which Emit and Close are no-ops.
func FromConfig(cfg config.AuditConfig, onDrop func()) (*Emitter, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var sinks []Sink
	if cfg.FilePath != "" {
		fs, err := NewFileSink(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fs)
	}
	if cfg.WebhookURL != "" {
		ws, err := NewWebhookSink(cfg.WebhookURL, cfg.WebhookHeaders, cfg.WebhookTimeout)
		if err != nil {
			return nil, errors.Join(err, closeAll(sinks))
		}
		sinks = append(sinks, ws)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, LogSink{})
	}

	return NewEmitter(EmitterConfig{
		QueueSize:       cfg.QueueSize,
		Workers:         cfg.Workers,
		ShutdownTimeout: cfg.ShutdownTimeout,
		OnDrop:          onDrop,
	}, sinks), nil
}

func closeAll(sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		errs = append(errs, s.Close(context.Background()))
	}
	return errors.Join(errs...)
}
