package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fraudshield/fraudshield/internal/features"
)

// LoadOptions carries process-wide settings for loading artefacts.
type LoadOptions struct {
	// RuntimeLibrary is an explicit ONNX Runtime shared library path.
	RuntimeLibrary string
	// ModelDir is probed for a bundled runtime library.
	ModelDir string
}

// inputLen is the number of values each kind's model consumes.
func inputLen(kind Kind) int {
	switch kind {
	case KindDeepfake:
		return features.ImageSize * features.ImageSize * 3
	case KindVoice:
		return features.AudioFeatures
	case KindPhishing:
		return features.NumFeatures
	}
	return 0
}

// Load opens the artefact at path for kind. The format is chosen by file
// extension: .onnx for any kind, .json for the voice MLP and the phishing
// logistic model. Pickle-based .pkl, .pth and .pt files are rejected with
// ErrUnsupportedFormat.
func Load(kind Kind, path string, opts LoadOptions) (h Handle, err error) {
	if path == "" {
		return nil, fmt.Errorf("%s: %w: no path configured", kind, ErrNotFound)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w: %s", kind, ErrNotFound, path)
		}
		return nil, fmt.Errorf("%s: stat %s: %w", kind, path, statErr)
	}

	// cgo-backed runtimes can panic on malformed artefacts
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("%s: load %s: panic: %v", kind, path, r)
		}
	}()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".onnx":
		if err := initRuntime(opts.RuntimeLibrary, opts.ModelDir); err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		s, err := newONNXSession(kind, path, inputLen(kind))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kind, err)
		}
		return s, nil
	case ".json":
		switch kind {
		case KindVoice:
			m, err := loadMLP(path, features.AudioFeatures, 2)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", kind, err)
			}
			return m, nil
		case KindPhishing:
			m, err := loadLogistic(path, features.NumFeatures)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", kind, err)
			}
			return m, nil
		}
		return nil, fmt.Errorf("%s: %w: no native json format, export to onnx", kind, ErrUnsupportedFormat)
	case ".pkl", ".pth", ".pt", ".joblib":
		return nil, fmt.Errorf("%s: %w: %s is a python pickle, export to onnx or json", kind, ErrUnsupportedFormat, ext)
	default:
		return nil, fmt.Errorf("%s: %w: %q", kind, ErrUnsupportedFormat, ext)
	}
}
