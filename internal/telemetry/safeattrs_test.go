package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fraudshield/fraudshield/internal/config"
)

func TestSafeAttributesFiltersSubmissions(t *testing.T) {
	kvs := map[string]interface{}{
		"input_text":    "verify your account",
		"upload.path":   "/tmp/x.png",
		"Filename":      "face.png",
		"api_key":       "sk-123",
		"authorization": "secret",
		"detect.kind":   "phishing",
		"long_string":   string(make([]byte, 600)),
		"degraded":      true,
		"latency_ms":    int64(12),
		"score":         0.5,
		"classes":       []int{0, 1},
		"ignored":       struct{}{},
	}

	got := map[attribute.Key]attribute.Value{}
	for _, a := range SafeAttributes(kvs) {
		got[a.Key] = a.Value
	}

	assert.Len(t, got, 5)
	assert.Equal(t, "phishing", got["detect.kind"].AsString())
	assert.True(t, got["degraded"].AsBool())
	assert.Equal(t, int64(12), got["latency_ms"].AsInt64())
	assert.Equal(t, 0.5, got["score"].AsFloat64())
	assert.Equal(t, []int64{0, 1}, got["classes"].AsInt64Slice())
}

func TestSafeAttributesEmpty(t *testing.T) {
	assert.Nil(t, SafeAttributes(nil))
}

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), config.TelemetryConfig{}, "dev")
	require.NoError(t, err)
	assert.False(t, p.Enabled)

	_, span := p.Tracer().Start(context.Background(), "x")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	p.Shutdown(context.Background())

	var nilProvider *Provider
	assert.NotNil(t, nilProvider.Tracer())
}

func TestProviderRejectsUnknownProtocol(t *testing.T) {
	_, err := NewProvider(context.Background(), config.TelemetryConfig{
		Enabled:  true,
		Endpoint: "localhost:4317",
		Protocol: "udp",
		Service:  "fraudshield",
	}, "dev")
	assert.ErrorContains(t, err, "unknown protocol")
}
