// Package audit records one event per finished detection and ships it to
// configured sinks off the request path.
package audit

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/fraudshield/fraudshield/internal/detect"
	"github.com/fraudshield/fraudshield/internal/redact"
)

const eventVersion = "1"

// Event is the audit record of a single detection.
type Event struct {
	Version      string    `json:"version"`
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	Source       string    `json:"source"`
	Verdict      string    `json:"verdict"`
	Score        float64   `json:"score"`
	ErrorCode    string    `json:"error_code,omitempty"`
	LatencyMs    float64   `json:"latency_ms"`
	ContentType  string    `json:"content_type,omitempty"`
	InputPreview string    `json:"input_preview,omitempty"`
}

// BuildParams collects what the HTTP layer knows about a detection.
type BuildParams struct {
	RequestID   string
	Kind        string
	Outcome     detect.Outcome
	Verdict     string
	Score       float64
	Latency     time.Duration
	ContentType string
	// Input is the submitted phishing text. It is redacted and truncated to
	// PreviewChars runes; other kinds never carry a preview.
	Input        string
	PreviewChars int
}

// BuildEvent assembles an Event from params.
func BuildEvent(p BuildParams) *Event {
	ev := &Event{
		Version:     eventVersion,
		Timestamp:   time.Now().UTC(),
		RequestID:   ensureRequestID(p.RequestID),
		Kind:        p.Kind,
		Status:      string(p.Outcome.Status),
		Source:      string(p.Outcome.Source),
		Verdict:     p.Verdict,
		Score:       math.Round(p.Score*1e4) / 1e4,
		LatencyMs:   float64(p.Latency.Microseconds()) / 1000,
		ContentType: p.ContentType,
	}
	if p.Outcome.Error != nil {
		ev.ErrorCode = string(p.Outcome.Error.Code)
	}
	if p.Kind == detect.KindPhishing && p.PreviewChars > 0 {
		ev.InputPreview = redact.Preview(p.Input, p.PreviewChars)
	}
	return ev
}

// FromDeepfake builds params for a deepfake result.
func FromDeepfake(requestID, contentType string, res detect.DeepfakeResult, latency time.Duration) BuildParams {
	return BuildParams{
		RequestID:   requestID,
		Kind:        detect.KindDeepfake,
		Outcome:     res.Outcome,
		Verdict:     res.Verdict(),
		Score:       res.Confidence,
		Latency:     latency,
		ContentType: contentType,
	}
}

// FromVoice builds params for a voice result.
func FromVoice(requestID, contentType string, res detect.VoiceResult, latency time.Duration) BuildParams {
	return BuildParams{
		RequestID:   requestID,
		Kind:        detect.KindVoice,
		Outcome:     res.Outcome,
		Verdict:     res.Verdict(),
		Score:       res.Confidence,
		Latency:     latency,
		ContentType: contentType,
	}
}

// FromPhishing builds params for a phishing result. The score is the risk
// percentage scaled to [0,1].
func FromPhishing(requestID, input string, previewChars int, res detect.PhishingResult, latency time.Duration) BuildParams {
	return BuildParams{
		RequestID:    requestID,
		Kind:         detect.KindPhishing,
		Outcome:      res.Outcome,
		Verdict:      res.Verdict(),
		Score:        float64(res.RiskPercentage) / 100,
		Latency:      latency,
		Input:        input,
		PreviewChars: previewChars,
	}
}

// LogEvent writes the event to the standard logger.
func LogEvent(ev *Event) {
	if ev == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.WithError(err).Warn("audit: marshal event")
		return
	}
	log.WithField("event", string(data)).Info("audit event")
}

func ensureRequestID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
