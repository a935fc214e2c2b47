package model

import (
	"context"
	"errors"
	"math"
)

// Kind identifies one of the three detectors' models.
type Kind string

const (
	KindDeepfake Kind = "deepfake"
	KindVoice    Kind = "voice"
	KindPhishing Kind = "phishing"
)

// Kinds lists every model kind in a stable order.
var Kinds = []Kind{KindDeepfake, KindVoice, KindPhishing}

// Format is the on-disk artefact format of a loaded model.
type Format string

const (
	FormatONNX Format = "onnx"
	FormatJSON Format = "json"
)

var (
	// ErrNotFound is returned when the model artefact does not exist.
	ErrNotFound = errors.New("model file not found")
	// ErrUnsupportedFormat is returned for artefacts this service cannot read,
	// including pickle-based .pkl and .pth files.
	ErrUnsupportedFormat = errors.New("unsupported model format")
	// ErrUnavailable wraps every lookup failure from the registry.
	ErrUnavailable = errors.New("model unavailable")
	// ErrIncompatible is returned when a model's inputs or outputs do not fit
	// the feature layout of its kind.
	ErrIncompatible = errors.New("model incompatible with feature layout")
	// ErrRuntimeUnavailable is returned when the ONNX Runtime shared library
	// cannot be located or initialised.
	ErrRuntimeUnavailable = errors.New("onnxruntime unavailable")
)

// Handle is a loaded model.
type Handle interface {
	Kind() Kind
	Format() Format
	Close() error
}

// ImageClassifier scores a [1,224,224,3] NHWC tensor and returns P(deepfake).
type ImageClassifier interface {
	Handle
	ClassifyImage(ctx context.Context, tensor []float32) (float64, error)
}

// AudioClassifier returns class probabilities for the 16-value audio vector.
// Index 1 is the synthetic-voice class.
type AudioClassifier interface {
	Handle
	ClassifyAudio(ctx context.Context, features []float32) ([]float64, error)
}

// TabularClassifier returns P(phishing) for the 15-value phishing vector.
type TabularClassifier interface {
	Handle
	PredictProba(ctx context.Context, features []float32) (float64, error)
}

// positiveProbability reduces raw model output to the positive-class
// probability. A single value already in [0,1] is taken as-is, any other
// single value is treated as a logit. Two or more values are softmaxed and
// index 1 is returned.
func positiveProbability(out []float32) (float64, error) {
	switch len(out) {
	case 0:
		return 0, errors.New("model produced no output")
	case 1:
		v := float64(out[0])
		if v >= 0 && v <= 1 {
			return v, nil
		}
		return sigmoid(v), nil
	default:
		return softmax(out)[1], nil
	}
}

// classProbabilities returns a two-class distribution. Single-value outputs
// are expanded to [1-p, p].
func classProbabilities(out []float32) ([]float64, error) {
	if len(out) >= 2 {
		return softmax(out), nil
	}
	p, err := positiveProbability(out)
	if err != nil {
		return nil, err
	}
	return []float64{1 - p, p}, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func softmax(xs []float32) []float64 {
	maxV := math.Inf(-1)
	for _, x := range xs {
		maxV = math.Max(maxV, float64(x))
	}
	out := make([]float64, len(xs))
	var sum float64
	for i, x := range xs {
		out[i] = math.Exp(float64(x) - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
