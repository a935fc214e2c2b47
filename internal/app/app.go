// Package app assembles the service from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/fraudshield/fraudshield/internal/audit"
	"github.com/fraudshield/fraudshield/internal/config"
	"github.com/fraudshield/fraudshield/internal/detect"
	"github.com/fraudshield/fraudshield/internal/features"
	"github.com/fraudshield/fraudshield/internal/metrics"
	"github.com/fraudshield/fraudshield/internal/model"
	"github.com/fraudshield/fraudshield/internal/scratch"
	"github.com/fraudshield/fraudshield/internal/server"
	"github.com/fraudshield/fraudshield/internal/telemetry"
)

// App holds the long-lived components shared by the CLI commands.
type App struct {
	Config    *config.Config
	Models    *model.Registry
	Detector  *detect.Detector
	Metrics   *metrics.Collector
	Telemetry *telemetry.Provider
}

// New builds the registry, detector, metrics and tracing. Models are loaded
// lazily on first use.
func New(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	a := &App{Config: cfg}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.NewCollector(cfg.Metrics.Namespace)
	}

	tp, err := telemetry.NewProvider(ctx, cfg.Telemetry, version)
	if err != nil {
		return nil, err
	}
	a.Telemetry = tp

	opts := model.OptionsFromConfig(cfg.Models)
	if a.Metrics != nil {
		opts.Observer = a.Metrics
	}
	a.Models = model.NewRegistry(opts)

	var sim *detect.Simulator
	if cfg.Detection.Simulation.Enabled {
		sim = detect.NewSimulator(cfg.Detection.Simulation.Seed)
	} else {
		log.Info("simulation disabled: detections without a model will fail")
	}

	dopts := detect.Options{
		Extractor: features.NewExtractor(nil).WithMaxImagePixels(cfg.Detection.MaxImagePixels),
		Models:    a.Models,
		Simulator: sim,
		Timeout:   cfg.Detection.Timeout,
		Tracer:    tp.Tracer(),
	}
	if a.Metrics != nil {
		dopts.Recorder = a.Metrics
	}
	a.Detector = detect.New(dopts)
	return a, nil
}

// Serve runs the HTTP API with its background jobs until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config

	store, err := scratch.NewStore(cfg.Scratch.Dir, cfg.Server.MaxUploadBytes)
	if err != nil {
		return err
	}
	// Remove uploads left behind by a previous run.
	if _, err := store.Sweep(0); err != nil {
		log.WithError(err).Warn("scratch: startup sweep failed")
	}
	janitor := scratch.NewJanitor(store, cfg.Scratch.MaxAge, a.Metrics.SweptFiles)
	if err := janitor.Start(cfg.Scratch.SweepSchedule); err != nil {
		return err
	}
	defer janitor.Stop()

	emitter, err := audit.FromConfig(cfg.Audit, a.Metrics.AuditDropped)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	defer emitter.Close(context.Background())

	var wg sync.WaitGroup
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer func() {
		stopWatch()
		wg.Wait()
	}()
	if cfg.Models.Watch {
		if err := a.startWatcher(watchCtx, &wg); err != nil {
			log.WithError(err).Warn("model watcher disabled")
		}
	}

	go a.Models.Warm(ctx)

	srv, err := server.New(server.Options{
		Config:       cfg.Server,
		Detector:     a.Detector,
		Models:       a.Models,
		Scratch:      store,
		Audit:        emitter,
		Metrics:      a.Metrics,
		MetricsPath:  cfg.Metrics.Path,
		PreviewChars: cfg.Audit.PreviewChars,
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"addr":       cfg.Server.Addr,
		"simulation": a.Detector.Simulating(),
		"models_dir": cfg.Models.Dir,
	}).Info("starting FraudShield")
	return srv.Start(ctx)
}

func (a *App) startWatcher(ctx context.Context, wg *sync.WaitGroup) error {
	if _, err := os.Stat(a.Config.Models.Dir); err != nil {
		return fmt.Errorf("models dir: %w", err)
	}
	w, err := model.NewWatcher(a.Models, a.Config.Models.WatchDebounce)
	if err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("model watcher stopped")
		}
		if err := w.Stop(); err != nil {
			log.WithError(err).Debug("model watcher close")
		}
	}()
	return nil
}

// Close releases models and flushes traces.
func (a *App) Close(ctx context.Context) error {
	err := a.Models.Close()
	a.Telemetry.Shutdown(ctx)
	return err
}
