package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// denseLayer is y = W x + b with W stored as [out][in].
type denseLayer struct {
	weight [][]float64
	bias   []float64
}

func (l denseLayer) forward(x []float64) []float64 {
	out := make([]float64, len(l.weight))
	for o, row := range l.weight {
		s := l.bias[o]
		for i, w := range row {
			s += w * x[i]
		}
		out[o] = s
	}
	return out
}

// mlpClassifier is a feed-forward network of dense layers with ReLU between
// them. Dropout layers of the training graph are identities at inference.
type mlpClassifier struct {
	layers []denseLayer
}

// loadMLP reads a state dict exported to JSON, keyed like "0.weight",
// "0.bias", "3.weight". Layers are applied in ascending index order.
func loadMLP(path string, inputs, classes int) (*mlpClassifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mlp weights: %w", err)
	}
	var dict map[string]json.RawMessage
	if err := json.Unmarshal(raw, &dict); err != nil {
		return nil, fmt.Errorf("parse mlp weights: %w", err)
	}

	byIndex := map[int]*denseLayer{}
	for key, val := range dict {
		// keys may carry a module prefix such as "net.0.weight"
		dot := strings.LastIndex(key, ".")
		if dot <= 0 {
			return nil, fmt.Errorf("parse mlp weights: unexpected key %q", key)
		}
		param := key[dot+1:]
		prefix := key[:dot]
		if j := strings.LastIndex(prefix, "."); j >= 0 {
			prefix = prefix[j+1:]
		}
		idx, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("parse mlp weights: unexpected key %q", key)
		}
		layer := byIndex[idx]
		if layer == nil {
			layer = &denseLayer{}
			byIndex[idx] = layer
		}
		switch param {
		case "weight":
			if err := json.Unmarshal(val, &layer.weight); err != nil {
				return nil, fmt.Errorf("parse %s: %w", key, err)
			}
		case "bias":
			if err := json.Unmarshal(val, &layer.bias); err != nil {
				return nil, fmt.Errorf("parse %s: %w", key, err)
			}
		default:
			return nil, fmt.Errorf("parse mlp weights: unexpected key %q", key)
		}
	}

	indices := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	m := &mlpClassifier{}
	width := inputs
	for _, idx := range indices {
		l := byIndex[idx]
		if len(l.weight) == 0 || len(l.bias) != len(l.weight) {
			return nil, fmt.Errorf("%w: layer %d weight/bias mismatch", ErrIncompatible, idx)
		}
		for _, row := range l.weight {
			if len(row) != width {
				return nil, fmt.Errorf("%w: layer %d takes %d inputs, previous layer emits %d", ErrIncompatible, idx, len(row), width)
			}
		}
		width = len(l.weight)
		m.layers = append(m.layers, *l)
	}
	if len(m.layers) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrIncompatible)
	}
	if width != classes {
		return nil, fmt.Errorf("%w: network emits %d classes, want %d", ErrIncompatible, width, classes)
	}
	return m, nil
}

func (m *mlpClassifier) Kind() Kind     { return KindVoice }
func (m *mlpClassifier) Format() Format { return FormatJSON }
func (m *mlpClassifier) Close() error   { return nil }

func (m *mlpClassifier) ClassifyAudio(ctx context.Context, features []float32) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x := make([]float64, len(features))
	for i, v := range features {
		x[i] = float64(v)
	}
	if len(x) != len(m.layers[0].weight[0]) {
		return nil, fmt.Errorf("%w: got %d features", ErrIncompatible, len(x))
	}
	for i, l := range m.layers {
		x = l.forward(x)
		if i < len(m.layers)-1 {
			for j := range x {
				x[j] = math.Max(0, x[j])
			}
		}
	}
	logits := make([]float32, len(x))
	for i, v := range x {
		logits[i] = float32(v)
	}
	return softmax(logits), nil
}

// logisticClassifier is a binary logistic regression exported as
// {"coef": [...], "intercept": b}.
type logisticClassifier struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

func loadLogistic(path string, inputs int) (*logisticClassifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read logistic weights: %w", err)
	}
	var m logisticClassifier
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse logistic weights: %w", err)
	}
	if len(m.Coef) != inputs {
		return nil, fmt.Errorf("%w: %d coefficients, want %d", ErrIncompatible, len(m.Coef), inputs)
	}
	return &m, nil
}

func (m *logisticClassifier) Kind() Kind     { return KindPhishing }
func (m *logisticClassifier) Format() Format { return FormatJSON }
func (m *logisticClassifier) Close() error   { return nil }

func (m *logisticClassifier) PredictProba(ctx context.Context, features []float32) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(features) != len(m.Coef) {
		return 0, fmt.Errorf("%w: got %d features", ErrIncompatible, len(features))
	}
	z := m.Intercept
	for i, c := range m.Coef {
		z += c * float64(features[i])
	}
	return sigmoid(z), nil
}
