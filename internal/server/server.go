package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fraudshield/fraudshield/internal/audit"
	"github.com/fraudshield/fraudshield/internal/config"
	"github.com/fraudshield/fraudshield/internal/detect"
	"github.com/fraudshield/fraudshield/internal/metrics"
	"github.com/fraudshield/fraudshield/internal/model"
	"github.com/fraudshield/fraudshield/internal/scratch"
	"github.com/fraudshield/fraudshield/internal/web"
)

// Detector runs detections. *detect.Detector satisfies it.
type Detector interface {
	Deepfake(ctx context.Context, path string) detect.DeepfakeResult
	Voice(ctx context.Context, path string) detect.VoiceResult
	Phishing(ctx context.Context, input string) detect.PhishingResult
}

// Models is the registry surface behind /models. *model.Registry satisfies it.
type Models interface {
	Status() []model.Status
	Reload(kind model.Kind) error
	ReloadAll() error
}

// Options wires the server's collaborators. Models, Audit and Metrics are
// optional.
type Options struct {
	Config       config.ServerConfig
	Detector     Detector
	Models       Models
	Scratch      *scratch.Store
	Audit        *audit.Emitter
	Metrics      *metrics.Collector
	MetricsPath  string
	PreviewChars int
}

// Server is the FraudShield HTTP API.
type Server struct {
	mux      *http.ServeMux
	handler  http.Handler
	cfg      config.ServerConfig
	detector Detector
	models   Models
	scratch  *scratch.Store
	audit    *audit.Emitter
	metrics  *metrics.Collector
	preview  int
	inFlight chan struct{}
}

// New creates a server with all routes registered.
func New(opts Options) (*Server, error) {
	if opts.Detector == nil {
		return nil, errors.New("server: detector is required")
	}
	if opts.Scratch == nil {
		return nil, errors.New("server: scratch store is required")
	}

	s := &Server{
		mux:      http.NewServeMux(),
		cfg:      opts.Config,
		detector: opts.Detector,
		models:   opts.Models,
		scratch:  opts.Scratch,
		audit:    opts.Audit,
		metrics:  opts.Metrics,
		preview:  opts.PreviewChars,
	}
	if opts.Config.MaxInFlight > 0 {
		s.inFlight = make(chan struct{}, opts.Config.MaxInFlight)
	}

	landing := web.Handler()
	s.mux.Handle("GET /{$}", landing)
	s.mux.Handle("GET /index.html", landing)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /deepfake", s.limit(s.handleDeepfake))
	s.mux.HandleFunc("POST /voicecheck", s.limit(s.handleVoice))
	s.mux.HandleFunc("POST /phishingcheck", s.limit(s.handlePhishing))
	if s.models != nil {
		s.mux.HandleFunc("GET /models", s.handleModels)
		s.mux.HandleFunc("POST /models/reload", s.handleReload)
	}
	if s.metrics != nil && opts.MetricsPath != "" {
		s.mux.Handle("GET "+opts.MetricsPath, s.metrics.Handler())
	}

	// Outermost first: request id, CORS, access log, panic recovery.
	s.handler = withRequestID(withCORS(s.withAccessLog(withRecover(s.mux))))
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start serves on the configured address until ctx is canceled, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", ln.Addr().String()).Info("FraudShield API listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

// limit answers 429 once max_in_flight detections are running.
func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	if s.inFlight == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case s.inFlight <- struct{}{}:
			defer func() { <-s.inFlight }()
			next(w, r)
		default:
			writeDetail(w, http.StatusTooManyRequests, msgTooManyRequests)
		}
	}
}
