package audit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudshield/fraudshield/internal/config"
	"github.com/fraudshield/fraudshield/internal/detect"
)

func TestBuildEventPhishingPreviewIsRedacted(t *testing.T) {
	res := detect.PhishingResult{
		RiskLevel:      detect.RiskHigh,
		RiskPercentage: 87,
		Outcome:        detect.Outcome{Status: detect.StatusOK, Source: detect.SourceModel},
	}
	input := "Verify now https://bank.example.com/login?session=abcdef0123456789 or lose access"
	ev := BuildEvent(FromPhishing("req-1", input, 40, res, 1500*time.Microsecond))

	assert.Equal(t, "req-1", ev.RequestID)
	assert.Equal(t, detect.KindPhishing, ev.Kind)
	assert.Equal(t, "High", ev.Verdict)
	assert.Equal(t, 0.87, ev.Score)
	assert.Equal(t, 1.5, ev.LatencyMs)
	assert.NotContains(t, ev.InputPreview, "session=")
	assert.LessOrEqual(t, len([]rune(ev.InputPreview)), 41)
	assert.True(t, strings.HasSuffix(ev.InputPreview, "…"))
}

func TestBuildEventMediaHasNoPreview(t *testing.T) {
	cause := detect.Cause{Code: detect.CauseInputUnreadable, Message: "x"}
	res := detect.DeepfakeResult{
		Confidence: 0.2,
		Outcome:    detect.Outcome{Status: detect.StatusDegraded, Source: detect.SourceModel, Error: &cause},
	}
	p := FromDeepfake("", "image/png", res, time.Millisecond)
	p.Input = "should never appear"
	p.PreviewChars = 100
	ev := BuildEvent(p)

	assert.NotEmpty(t, ev.RequestID, "a request id is generated")
	assert.Empty(t, ev.InputPreview)
	assert.Equal(t, "input_unreadable", ev.ErrorCode)
	assert.Equal(t, "image/png", ev.ContentType)
	assert.Equal(t, "authentic", ev.Verdict)
}

func TestFileSinkWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Deliver(context.Background(), &Event{Version: "1", RequestID: "req-1", Kind: "voice"}))
	require.NoError(t, sink.Deliver(context.Background(), &Event{Version: "1", RequestID: "req-2", Kind: "voice"}))
	require.NoError(t, sink.Close(context.Background()))
	require.NoError(t, sink.Close(context.Background()))
	assert.Error(t, sink.Deliver(context.Background(), &Event{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, "req-1", decoded.RequestID)
}

func TestWebhookSinkRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.Header.Get("X-Test"))
		assert.Equal(t, "req-9", r.Header.Get("X-Request-ID"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	sink, err := NewWebhookSink(srv.URL, map[string]string{"X-Test": "1"}, time.Second)
	require.NoError(t, err)
	require.NoError(t, sink.Deliver(context.Background(), &Event{RequestID: "req-9"}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookSinkDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("fail"))
	}))

	sink, err := NewWebhookSink(srv.URL, nil, 200*time.Millisecond)
	require.NoError(t, err)
	err = sink.Deliver(context.Background(), &Event{RequestID: "r"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 418")
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmitterDropsWhenQueueFull(t *testing.T) {
	wait := make(chan struct{})
	var drops atomic.Int32
	em := NewEmitter(EmitterConfig{
		QueueSize:       1,
		Workers:         1,
		ShutdownTimeout: time.Second,
		OnDrop:          func() { drops.Add(1) },
	}, []Sink{&blockingSink{wait: wait}})

	ev := &Event{RequestID: "r1"}
	em.Emit(ev)
	em.Emit(ev)
	em.Emit(ev)

	st := em.Stats()
	assert.NotZero(t, st.Dropped)
	assert.Equal(t, int32(st.Dropped), drops.Load())

	close(wait)
	em.Close(context.Background())

	before := em.Stats().Dropped
	em.Emit(ev)
	assert.Equal(t, before+1, em.Stats().Dropped, "emit after close drops")
}

func TestEmitterDeliversToWebhook(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Event
	)
	srv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err == nil {
			mu.Lock()
			received = append(received, ev)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))

	sink, err := NewWebhookSink(srv.URL, nil, time.Second)
	require.NoError(t, err)
	em := NewEmitter(EmitterConfig{QueueSize: 8, Workers: 2}, []Sink{sink})

	for i := 0; i < 5; i++ {
		em.Emit(&Event{RequestID: "integration", Kind: "phishing"})
	}
	em.Close(context.Background())

	mu.Lock()
	assert.Len(t, received, 5)
	mu.Unlock()
	st := em.Stats()
	assert.Equal(t, uint64(5), st.Enqueued)
	assert.Equal(t, uint64(5), st.Delivered[sink.Name()])
	assert.Zero(t, st.Failed[sink.Name()])
	assert.Zero(t, st.Dropped)
}

func TestNilEmitterIsNoop(t *testing.T) {
	var em *Emitter
	em.Emit(&Event{})
	em.Close(context.Background())
	assert.Equal(t, Stats{}, em.Stats())
}

func TestFromConfig(t *testing.T) {
	em, err := FromConfig(config.AuditConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, em)

	path := filepath.Join(t.TempDir(), "audit.jsonl")
	em, err = FromConfig(config.AuditConfig{Enabled: true, FilePath: path, QueueSize: 4}, nil)
	require.NoError(t, err)
	require.NotNil(t, em)
	em.Emit(&Event{RequestID: "cfg"})
	em.Close(context.Background())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"request_id":"cfg"`)

	em, err = FromConfig(config.AuditConfig{Enabled: true}, nil)
	require.NoError(t, err)
	assert.Contains(t, em.Stats().Delivered, "log")
	em.Close(context.Background())
}

type blockingSink struct {
	wait chan struct{}
}

func (s *blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Deliver(context.Context, *Event) error {
	<-s.wait
	return nil
}

func (s *blockingSink) Close(context.Context) error { return nil }

func newTestServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping: cannot open listener: %v", err)
	}
	srv := httptest.NewUnstartedServer(h)
	srv.Listener = ln
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}
