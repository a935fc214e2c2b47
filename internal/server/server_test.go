package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudshield/fraudshield/internal/audit"
	"github.com/fraudshield/fraudshield/internal/config"
	"github.com/fraudshield/fraudshield/internal/detect"
	"github.com/fraudshield/fraudshield/internal/metrics"
	"github.com/fraudshield/fraudshield/internal/model"
	"github.com/fraudshield/fraudshield/internal/scratch"
)

type fakeDetector struct {
	mu       sync.Mutex
	paths    []string
	contents []string
	inputs   []string
	block    chan struct{}
	panicky  bool
}

func (d *fakeDetector) record(path string) {
	data, _ := os.ReadFile(path)
	d.mu.Lock()
	d.paths = append(d.paths, path)
	d.contents = append(d.contents, string(data))
	d.mu.Unlock()
}

func (d *fakeDetector) Deepfake(_ context.Context, path string) detect.DeepfakeResult {
	d.record(path)
	return detect.DeepfakeResult{
		IsDeepfake:  true,
		Confidence:  0.8,
		Explanation: "x",
		Outcome:     detect.Outcome{Status: detect.StatusOK, Source: detect.SourceModel},
	}
}

func (d *fakeDetector) Voice(_ context.Context, path string) detect.VoiceResult {
	d.record(path)
	return detect.VoiceResult{
		Confidence: 0.6,
		Outcome:    detect.Outcome{Status: detect.StatusOK, Source: detect.SourceModel},
	}
}

func (d *fakeDetector) Phishing(_ context.Context, input string) detect.PhishingResult {
	if d.panicky {
		panic("boom")
	}
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	d.inputs = append(d.inputs, input)
	d.mu.Unlock()
	return detect.PhishingResult{
		RiskLevel:      detect.RiskMedium,
		RiskPercentage: 66,
		Explanation:    "Medium risk detected (66%).",
		Outcome:        detect.Outcome{Status: detect.StatusOK, Source: detect.SourceModel},
	}
}

type fakeModels struct {
	mu       sync.Mutex
	reloaded []model.Kind
}

func (m *fakeModels) Status() []model.Status {
	return []model.Status{{Kind: model.KindPhishing, Loaded: true, Available: true}}
}

func (m *fakeModels) Reload(kind model.Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloaded = append(m.reloaded, kind)
	return errors.New("corrupt")
}

func (m *fakeModels) ReloadAll() error {
	for _, k := range model.Kinds {
		_ = m.Reload(k)
	}
	return nil
}

type harness struct {
	srv       *Server
	det       *fakeDetector
	models    *fakeModels
	scratch   string
	auditPath string
	emitter   *audit.Emitter
	collector *metrics.Collector
}

func newHarness(t *testing.T, mutate func(*config.ServerConfig)) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Server.MaxUploadBytes = 1 << 20
	cfg.Server.MaxInFlight = 0
	if mutate != nil {
		mutate(&cfg.Server)
	}

	dir := t.TempDir()
	store, err := scratch.NewStore(filepath.Join(dir, "scratch"), cfg.Server.MaxUploadBytes)
	require.NoError(t, err)

	auditPath := filepath.Join(dir, "audit.jsonl")
	em, err := audit.FromConfig(config.AuditConfig{Enabled: true, FilePath: auditPath}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { em.Close(context.Background()) })

	h := &harness{
		det:       &fakeDetector{},
		models:    &fakeModels{},
		scratch:   store.Dir(),
		auditPath: auditPath,
		emitter:   em,
		collector: metrics.NewCollector("test"),
	}
	h.srv, err = New(Options{
		Config:       cfg.Server,
		Detector:     h.det,
		Models:       h.models,
		Scratch:      store,
		Audit:        em,
		Metrics:      h.collector,
		MetricsPath:  "/metrics",
		PreviewChars: 20,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func uploadRequest(t *testing.T, path, field, filename, contentType string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func phishingRequest(text string) *http.Request {
	form := url.Values{"input_text": {text}}
	req := httptest.NewRequest(http.MethodPost, "/phishingcheck", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decodeDetail(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body detailBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Detail
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeepfakeUpload(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(uploadRequest(t, "/deepfake", "file", "face.png", "image/png", []byte("pngdata")))
	require.Equal(t, http.StatusOK, rr.Code)

	var res detect.DeepfakeResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.True(t, res.IsDeepfake)
	assert.Equal(t, 0.8, res.Confidence)

	require.Len(t, h.det.paths, 1)
	assert.Equal(t, ".png", filepath.Ext(h.det.paths[0]))
	assert.Equal(t, "pngdata", h.det.contents[0])
	assertScratchEmpty(t, h.scratch)
}

func TestDeepfakeRejectsUnsupportedType(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(uploadRequest(t, "/deepfake", "file", "doc.pdf", "application/pdf", []byte("%PDF")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, msgUnsupportedMedia, decodeDetail(t, rr))
	assert.Empty(t, h.det.paths)
	assertScratchEmpty(t, h.scratch)
}

func TestVoiceUpload(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(uploadRequest(t, "/voicecheck", "file", "clip.wav", "audio/wav", []byte("RIFF")))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"is_fake":false`)
	assertScratchEmpty(t, h.scratch)

	rr = h.do(uploadRequest(t, "/voicecheck", "file", "face.png", "image/png", []byte("x")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, msgUnsupportedAudio, decodeDetail(t, rr))
}

func TestUploadMissingFile(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(uploadRequest(t, "/voicecheck", "attachment", "clip.wav", "audio/wav", []byte("RIFF")))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = h.do(phishingRequestAt("/deepfake"))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func phishingRequestAt(path string) *http.Request {
	req := phishingRequest("hello")
	req.URL.Path = path
	return req
}

func TestUploadTooLarge(t *testing.T) {
	h := newHarness(t, func(c *config.ServerConfig) { c.MaxUploadBytes = 256 })

	rr := h.do(uploadRequest(t, "/deepfake", "file", "big.png", "image/png", bytes.Repeat([]byte("a"), 1024)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Empty(t, h.det.paths)
	assertScratchEmpty(t, h.scratch)
}

func TestPhishingValidation(t *testing.T) {
	h := newHarness(t, nil)

	cases := []struct {
		text   string
		status int
		detail string
	}{
		{"", http.StatusBadRequest, msgEmptyText},
		{"   \n\t ", http.StatusBadRequest, msgEmptyText},
		{strings.Repeat("a", 10001), http.StatusBadRequest, msgTextTooLong},
		{strings.Repeat("€", 10000), http.StatusOK, ""},
		{"http://192.168.0.1/login?verify=1", http.StatusOK, ""},
	}
	for _, tc := range cases {
		rr := h.do(phishingRequest(tc.text))
		assert.Equal(t, tc.status, rr.Code, "len=%d", len(tc.text))
		if tc.detail != "" {
			assert.Equal(t, tc.detail, decodeDetail(t, rr))
		}
	}
	assert.Len(t, h.det.inputs, 2)
}

func TestPhishingMultipartForm(t *testing.T) {
	h := newHarness(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("input_text", "verify your account"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/phishingcheck", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rr := h.do(req)
	require.Equal(t, http.StatusOK, rr.Code)

	var res detect.PhishingResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, detect.RiskMedium, res.RiskLevel)
	assert.Equal(t, 66, res.RiskPercentage)
	assert.Equal(t, []string{"verify your account"}, h.det.inputs)
}

func TestCORSAndPreflight(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(httptest.NewRequest(http.MethodOptions, "/phishingcheck", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", rr.Header().Get("Access-Control-Allow-Headers"))

	rr = h.do(phishingRequest(""))
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"), "error responses carry CORS too")
}

func TestRequestIDEchoed(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rr := h.do(req)
	assert.Equal(t, "abc-123", rr.Header().Get(requestIDHeader))
	assert.Equal(t, "ok\n", rr.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "bad id with spaces")
	rr = h.do(req)
	assert.Len(t, rr.Header().Get(requestIDHeader), 36)
}

func TestLandingAndMetrics(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")

	h.do(phishingRequest("hello"))
	rr = h.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `test_http_requests_total{code="200",route="POST /phishingcheck"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t, nil)
	rr := h.do(httptest.NewRequest(http.MethodGet, "/deepfake", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestModelsEndpoints(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(httptest.NewRequest(http.MethodGet, "/models", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"kind":"phishing"`)

	rr = h.do(httptest.NewRequest(http.MethodPost, "/models/reload?kind=voice", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []model.Kind{model.KindVoice}, h.models.reloaded)

	rr = h.do(httptest.NewRequest(http.MethodPost, "/models/reload?kind=nope", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, msgUnknownKind, decodeDetail(t, rr))

	h.models.reloaded = nil
	rr = h.do(httptest.NewRequest(http.MethodPost, "/models/reload", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, model.Kinds, h.models.reloaded)
}

func TestPanicBecomes500(t *testing.T) {
	h := newHarness(t, nil)
	h.det.panicky = true

	rr := h.do(phishingRequest("hello"))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, msgInternal, decodeDetail(t, rr))
}

func TestInFlightLimit(t *testing.T) {
	h := newHarness(t, func(c *config.ServerConfig) { c.MaxInFlight = 1 })
	h.det.block = make(chan struct{})

	done := make(chan int, 1)
	go func() { done <- h.do(phishingRequest("first")).Code }()

	require.Eventually(t, func() bool { return len(h.srv.inFlight) == 1 }, time.Second, 5*time.Millisecond)
	rr := h.do(phishingRequest("second"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	close(h.det.block)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestAuditEventsWritten(t *testing.T) {
	h := newHarness(t, nil)

	req := phishingRequest("Verify now at https://bank.example.com/login?token=secretsecretsecret please")
	req.Header.Set(requestIDHeader, "audit-1")
	require.Equal(t, http.StatusOK, h.do(req).Code)
	require.Equal(t, http.StatusOK, h.do(uploadRequest(t, "/deepfake", "file", "a.jpg", "image/jpeg", []byte("x"))).Code)
	h.emitter.Close(context.Background())

	data, err := os.ReadFile(h.auditPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var ev audit.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, "audit-1", ev.RequestID)
	assert.Equal(t, detect.KindPhishing, ev.Kind)
	assert.Equal(t, "Medium", ev.Verdict)
	assert.NotContains(t, ev.InputPreview, "secret")

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.Equal(t, "image/jpeg", ev.ContentType)
	assert.Empty(t, ev.InputPreview)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok\n", string(body))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
