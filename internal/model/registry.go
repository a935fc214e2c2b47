package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/fraudshield/fraudshield/internal/config"
)

// Observer is notified after every load attempt.
type Observer interface {
	ModelLoaded(kind Kind, err error)
}

// LoaderFunc opens a model artefact. Load is the production implementation.
type LoaderFunc func(kind Kind, path string, opts LoadOptions) (Handle, error)

// Options configures a Registry.
type Options struct {
	Paths    map[Kind]string
	Load     LoadOptions
	Loader   LoaderFunc
	Observer Observer
}

// OptionsFromConfig maps the models config section onto registry options.
func OptionsFromConfig(cfg config.ModelsConfig) Options {
	return Options{
		Paths: map[Kind]string{
			KindDeepfake: cfg.ModelPath(cfg.Deepfake),
			KindVoice:    cfg.ModelPath(cfg.Voice),
			KindPhishing: cfg.ModelPath(cfg.Phishing),
		},
		Load: LoadOptions{
			RuntimeLibrary: cfg.OnnxRuntimeLibrary,
			ModelDir:       cfg.Dir,
		},
	}
}

// Status describes one registry slot.
type Status struct {
	Kind      Kind      `json:"kind"`
	Path      string    `json:"path"`
	Loaded    bool      `json:"loaded"`
	Available bool      `json:"available"`
	Format    Format    `json:"format,omitempty"`
	Error     string    `json:"error,omitempty"`
	LoadedAt  time.Time `json:"loaded_at,omitzero"`
}

type slot struct {
	kind Kind
	path string

	// mu is held for reading while a handle is in use and for writing while
	// it is loaded or swapped.
	mu       sync.RWMutex
	loaded   bool
	handle   Handle
	err      error
	loadedAt time.Time
}

// Registry owns one lazily loaded model per kind. Lookups are safe for
// concurrent use; Reload swaps a model once in-flight uses have finished.
type Registry struct {
	opts  Options
	slots map[Kind]*slot
}

// NewRegistry builds a registry. Nothing is loaded until first use.
func NewRegistry(opts Options) *Registry {
	if opts.Loader == nil {
		opts.Loader = Load
	}
	r := &Registry{opts: opts, slots: make(map[Kind]*slot, len(Kinds))}
	for _, k := range Kinds {
		r.slots[k] = &slot{kind: k, path: opts.Paths[k]}
	}
	return r
}

// Path returns the configured artefact path for kind.
func (r *Registry) Path(kind Kind) string {
	if s, ok := r.slots[kind]; ok {
		return s.path
	}
	return ""
}

// UseImage runs fn with the deepfake model.
func (r *Registry) UseImage(fn func(ImageClassifier) error) error {
	return r.use(KindDeepfake, func(h Handle) error {
		c, ok := h.(ImageClassifier)
		if !ok {
			return fmt.Errorf("%w: %s: %T is not an image classifier", ErrUnavailable, KindDeepfake, h)
		}
		return fn(c)
	})
}

// UseAudio runs fn with the voice model.
func (r *Registry) UseAudio(fn func(AudioClassifier) error) error {
	return r.use(KindVoice, func(h Handle) error {
		c, ok := h.(AudioClassifier)
		if !ok {
			return fmt.Errorf("%w: %s: %T is not an audio classifier", ErrUnavailable, KindVoice, h)
		}
		return fn(c)
	})
}

// UseTabular runs fn with the phishing model.
func (r *Registry) UseTabular(fn func(TabularClassifier) error) error {
	return r.use(KindPhishing, func(h Handle) error {
		c, ok := h.(TabularClassifier)
		if !ok {
			return fmt.Errorf("%w: %s: %T is not a tabular classifier", ErrUnavailable, KindPhishing, h)
		}
		return fn(c)
	})
}

func (r *Registry) use(kind Kind, fn func(Handle) error) error {
	s, ok := r.slots[kind]
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", ErrUnavailable, kind)
	}

	s.mu.RLock()
	for !s.loaded {
		s.mu.RUnlock()
		s.mu.Lock()
		if !s.loaded {
			r.loadLocked(s)
		}
		s.mu.Unlock()
		s.mu.RLock()
	}
	defer s.mu.RUnlock()

	if s.handle == nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, s.err)
	}
	return fn(s.handle)
}

// loadLocked replaces the slot's handle. The caller holds s.mu for writing.
func (r *Registry) loadLocked(s *slot) {
	old := s.handle

	h, err := r.opts.Loader(s.kind, s.path, r.opts.Load)
	if h == nil && err == nil {
		err = errors.New("loader returned no model")
	}
	s.loaded = true
	s.handle = h
	s.err = err
	s.loadedAt = time.Now()

	if old != nil {
		if cerr := old.Close(); cerr != nil {
			log.WithField("kind", s.kind).WithError(cerr).Warn("closing previous model failed")
		}
	}

	entry := log.WithFields(log.Fields{"kind": s.kind, "path": s.path})
	switch {
	case err == nil:
		entry.WithField("format", h.Format()).Info("model loaded")
	case errors.Is(err, ErrNotFound):
		entry.Warn("model file missing; detector will run without it")
	default:
		entry.WithError(err).Error("model load failed")
	}

	if r.opts.Observer != nil {
		r.opts.Observer.ModelLoaded(s.kind, err)
	}
}

// Reload re-reads kind's artefact and swaps it in. The returned error is the
// load error, in which case the slot is left unavailable.
func (r *Registry) Reload(kind Kind) error {
	s, ok := r.slots[kind]
	if !ok {
		return fmt.Errorf("unknown model kind %q", kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r.loadLocked(s)
	return s.err
}

// ReloadAll reloads every kind and joins the errors.
func (r *Registry) ReloadAll() error {
	var errs []error
	for _, k := range Kinds {
		errs = append(errs, r.Reload(k))
	}
	return errors.Join(errs...)
}

// Status reports every slot without triggering a load.
func (r *Registry) Status() []Status {
	out := make([]Status, 0, len(Kinds))
	for _, k := range Kinds {
		s := r.slots[k]
		s.mu.RLock()
		st := Status{
			Kind:      k,
			Path:      s.path,
			Loaded:    s.loaded,
			Available: s.handle != nil,
			LoadedAt:  s.loadedAt,
		}
		if s.handle != nil {
			st.Format = s.handle.Format()
		}
		if s.err != nil {
			st.Error = s.err.Error()
		}
		s.mu.RUnlock()
		out = append(out, st)
	}
	return out
}

// Close releases every loaded model.
func (r *Registry) Close() error {
	var errs []error
	for _, k := range Kinds {
		s := r.slots[k]
		s.mu.Lock()
		if s.handle != nil {
			errs = append(errs, s.handle.Close())
			s.handle = nil
		}
		s.loaded = false
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Warm loads every kind that has not been loaded yet. It is optional; the
// registry otherwise loads on first use.
func (r *Registry) Warm(ctx context.Context) {
	for _, k := range Kinds {
		if ctx.Err() != nil {
			return
		}
		s := r.slots[k]
		s.mu.Lock()
		if !s.loaded {
			r.loadLocked(s)
		}
		s.mu.Unlock()
	}
}
