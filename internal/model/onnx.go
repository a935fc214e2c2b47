package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var runtimeMu sync.Mutex

// initRuntime loads the ONNX Runtime shared library once per process.
func initRuntime(libPath, modelDir string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	resolved := resolveSharedLibraryPath(libPath, modelDir)
	if resolved == "" {
		return fmt.Errorf("%w: shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime", ErrRuntimeUnavailable)
	}
	ort.SetSharedLibraryPath(resolved)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	return nil
}

// resolveSharedLibraryPath locates a platform-specific onnxruntime library.
// An explicit path wins, then ONNXRUNTIME_SHARED_LIBRARY_PATH, then common
// names in the model directory and system library directories.
func resolveSharedLibraryPath(explicit, modelDir string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.dylib",
		"onnxruntime.dylib",
		"libonnxruntime.so",
		"onnxruntime.so",
		"onnxruntime.dll",
	}
	dirs := []string{
		".",
		"/opt/homebrew/lib",
		"/usr/local/lib",
		"/usr/lib",
	}
	if modelDir != "" {
		dirs = append([]string{modelDir, filepath.Join(modelDir, "lib")}, dirs...)
	}

	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

// onnxSession wraps a single-input single-output float32 session with
// pre-allocated tensors. Run calls are serialised.
type onnxSession struct {
	kind Kind

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// newONNXSession opens path and checks that its first float input holds
// exactly inputLen values once dynamic dimensions are pinned to 1.
func newONNXSession(kind Kind, path string, inputLen int) (*onnxSession, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect onnx model: %w", err)
	}

	in, err := pickFloatIO(inputs, "input")
	if err != nil {
		return nil, err
	}
	out, err := pickFloatIO(outputs, "prob")
	if err != nil {
		return nil, err
	}

	inShape := pinDynamic(in.Dimensions)
	if got := inShape.FlattenedSize(); got != int64(inputLen) {
		return nil, fmt.Errorf("%w: input %q has shape %v, want %d values", ErrIncompatible, in.Name, in.Dimensions, inputLen)
	}
	outShape := pinDynamic(out.Dimensions)

	input, err := ort.NewEmptyTensor[float32](inShape)
	if err != nil {
		return nil, fmt.Errorf("allocate input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		path,
		[]string{in.Name},
		[]string{out.Name},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &onnxSession{
		kind:    kind,
		session: session,
		input:   input,
		output:  output,
	}, nil
}

func (s *onnxSession) Kind() Kind     { return s.kind }
func (s *onnxSession) Format() Format { return FormatONNX }

func (s *onnxSession) run(ctx context.Context, values []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errors.New("onnx session closed")
	}
	copy(s.input.GetData(), values)
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	raw := s.output.GetData()
	out := make([]float32, len(raw))
	copy(out, raw)
	return out, nil
}

func (s *onnxSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := errors.Join(s.session.Destroy(), s.input.Destroy(), s.output.Destroy())
	s.session, s.input, s.output = nil, nil, nil
	return err
}

func (s *onnxSession) ClassifyImage(ctx context.Context, tensor []float32) (float64, error) {
	out, err := s.run(ctx, tensor)
	if err != nil {
		return 0, err
	}
	return positiveProbability(out)
}

func (s *onnxSession) ClassifyAudio(ctx context.Context, features []float32) ([]float64, error) {
	out, err := s.run(ctx, features)
	if err != nil {
		return nil, err
	}
	return classProbabilities(out)
}

func (s *onnxSession) PredictProba(ctx context.Context, features []float32) (float64, error) {
	out, err := s.run(ctx, features)
	if err != nil {
		return 0, err
	}
	return positiveProbability(out)
}

// pickFloatIO chooses the float32 tensor among infos, preferring a name that
// contains hint. sklearn exports, for instance, carry an int64 label output
// next to the probabilities.
func pickFloatIO(infos []ort.InputOutputInfo, hint string) (ort.InputOutputInfo, error) {
	var floats []ort.InputOutputInfo
	for _, info := range infos {
		if info.OrtValueType == ort.ONNXTypeTensor && info.DataType == ort.TensorElementDataTypeFloat {
			floats = append(floats, info)
		}
	}
	if len(floats) == 0 {
		return ort.InputOutputInfo{}, fmt.Errorf("%w: no float32 tensor among %v", ErrIncompatible, ioNames(infos))
	}
	for _, info := range floats {
		if strings.Contains(strings.ToLower(info.Name), hint) {
			return info, nil
		}
	}
	return floats[0], nil
}

func pinDynamic(dims ort.Shape) ort.Shape {
	shape := make(ort.Shape, len(dims))
	for i, v := range dims {
		if v > 0 {
			shape[i] = v
			continue
		}
		shape[i] = 1
	}
	return shape
}

func ioNames(infos []ort.InputOutputInfo) []string {
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names
}
