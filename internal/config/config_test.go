package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, "models", cfg.Models.Dir)
	assert.True(t, cfg.Detection.Simulation.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Detection.Timeout)
	assert.Equal(t, 40_000_000, cfg.Detection.MaxImagePixels)
	assert.NoError(t, Validate(cfg))
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fraudshield.yaml")
	body := `
server:
  addr: ":9090"
  max_upload_bytes: 1024
models:
  dir: /srv/models
  phishing: phishing.onnx
detection:
  timeout: 250ms
  max_image_pixels: 1000000
  simulation:
    enabled: false
    seed: 42
logging:
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.EqualValues(t, 1024, cfg.Server.MaxUploadBytes)
	assert.Equal(t, "/srv/models", cfg.Models.Dir)
	assert.Equal(t, "phishing.onnx", cfg.Models.Phishing)
	assert.Equal(t, "deepfake_model.onnx", cfg.Models.Deepfake, "unset keys keep defaults")
	assert.Equal(t, 250*time.Millisecond, cfg.Detection.Timeout)
	assert.False(t, cfg.Detection.Simulation.Enabled)
	assert.EqualValues(t, 42, cfg.Detection.Simulation.Seed)
	assert.Equal(t, 1_000_000, cfg.Detection.MaxImagePixels)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FRAUDSHIELD_ADDR", ":7000")
	t.Setenv("FRAUDSHIELD_MODELS_DIR", "/opt/models")
	t.Setenv("FRAUDSHIELD_SIMULATION", "false")
	t.Setenv("ONNXRUNTIME_SHARED_LIBRARY_PATH", "/usr/lib/libonnxruntime.so")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "/opt/models", cfg.Models.Dir)
	assert.False(t, cfg.Detection.Simulation.Enabled)
	assert.Equal(t, "/usr/lib/libonnxruntime.so", cfg.Models.OnnxRuntimeLibrary)
}

func TestModelPath(t *testing.T) {
	m := ModelsConfig{Dir: "models"}
	assert.Equal(t, filepath.Join("models", "voice_model.json"), m.ModelPath("voice_model.json"))
	assert.Equal(t, "/abs/model.onnx", m.ModelPath("/abs/model.onnx"))
	assert.Equal(t, "", m.ModelPath(""))
}
