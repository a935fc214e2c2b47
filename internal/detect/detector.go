package detect

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fraudshield/fraudshield/internal/features"
	"github.com/fraudshield/fraudshield/internal/model"
	"github.com/fraudshield/fraudshield/internal/telemetry"
)

// Detector kinds as used in logs, metrics and spans.
const (
	KindDeepfake = "deepfake"
	KindVoice    = "voice"
	KindPhishing = "phishing"
)

// Models gives scoped access to loaded models. *model.Registry satisfies it.
type Models interface {
	UseImage(fn func(model.ImageClassifier) error) error
	UseAudio(fn func(model.AudioClassifier) error) error
	UseTabular(fn func(model.TabularClassifier) error) error
}

// Recorder receives one observation per finished detection.
type Recorder interface {
	ObserveDetection(kind string, status Status, verdict string, elapsed time.Duration)
}

// Options configures a Detector.
type Options struct {
	Extractor *features.Extractor
	Models    Models
	// Simulator stands in for missing models. Nil means strict mode, where
	// a missing model fails the detection.
	Simulator *Simulator
	Timeout   time.Duration
	Tracer    trace.Tracer
	Recorder  Recorder
}

// Detector runs the three detection pipelines. It is safe for concurrent use.
type Detector struct {
	extractor *features.Extractor
	models    Models
	sim       *Simulator
	timeout   time.Duration
	tracer    trace.Tracer
	recorder  Recorder
}

const defaultTimeout = 10 * time.Second

func New(opts Options) *Detector {
	d := &Detector{
		extractor: opts.Extractor,
		models:    opts.Models,
		sim:       opts.Simulator,
		timeout:   opts.Timeout,
		tracer:    opts.Tracer,
		recorder:  opts.Recorder,
	}
	if d.extractor == nil {
		d.extractor = features.NewExtractor(nil)
	}
	if d.models == nil {
		d.models = noModels{}
	}
	if d.timeout <= 0 {
		d.timeout = defaultTimeout
	}
	if d.tracer == nil {
		d.tracer = noop.NewTracerProvider().Tracer("fraudshield/detect")
	}
	return d
}

// Simulating reports whether missing models are replaced by simulated scores.
func (d *Detector) Simulating() bool { return d.sim != nil }

// Deepfake analyses the image or video at path.
func (d *Detector) Deepfake(ctx context.Context, path string) DeepfakeResult {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "detect.deepfake")
	defer span.End()

	res := runBounded(ctx, d.timeout, func(ctx context.Context) DeepfakeResult {
		return d.deepfake(ctx, path)
	}, failedDeepfake)
	d.finish(span, KindDeepfake, start, res.Outcome, res.Verdict())
	return res
}

// Voice analyses the audio file at path.
func (d *Detector) Voice(ctx context.Context, path string) VoiceResult {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "detect.voice")
	defer span.End()

	res := runBounded(ctx, d.timeout, func(ctx context.Context) VoiceResult {
		return d.voice(ctx, path)
	}, failedVoice)
	d.finish(span, KindVoice, start, res.Outcome, res.Verdict())
	return res
}

// Phishing analyses a URL or free text.
func (d *Detector) Phishing(ctx context.Context, input string) PhishingResult {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "detect.phishing")
	defer span.End()

	res := runBounded(ctx, d.timeout, func(ctx context.Context) PhishingResult {
		return d.phishing(ctx, input)
	}, failedPhishing)
	d.finish(span, KindPhishing, start, res.Outcome, res.Verdict())
	return res
}

func (d *Detector) deepfake(ctx context.Context, path string) DeepfakeResult {
	tensor := d.extractor.Image(path)
	if err := ctx.Err(); err != nil {
		return failedDeepfake(contextCause(err))
	}

	var p float64
	err := d.models.UseImage(func(c model.ImageClassifier) error {
		var err error
		p, err = c.ClassifyImage(ctx, tensor.Data)
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return failedDeepfake(contextCause(ctxErr))
		}
		cause := modelCause(KindDeepfake, err)
		if d.sim == nil {
			return failedDeepfake(cause)
		}
		isDeepfake, conf := d.sim.Verdict()
		return DeepfakeResult{
			IsDeepfake:  isDeepfake,
			Confidence:  conf,
			Explanation: deepfakeExplanation(isDeepfake),
			Outcome:     Outcome{Status: StatusDegraded, Source: SourceSimulation, Error: &cause},
		}
	}

	p = clamp01(p)
	res := DeepfakeResult{
		IsDeepfake:  p > 0.5,
		Confidence:  p,
		Explanation: deepfakeExplanation(p > 0.5),
		Outcome:     Outcome{Status: StatusOK, Source: SourceModel},
	}
	if tensor.Synthetic {
		res.Outcome = degradedInput(KindDeepfake, tensor.Cause)
	}
	return res
}

func (d *Detector) voice(ctx context.Context, path string) VoiceResult {
	vec := d.extractor.Audio(path)
	if err := ctx.Err(); err != nil {
		return failedVoice(contextCause(err))
	}

	var probs []float64
	err := d.models.UseAudio(func(c model.AudioClassifier) error {
		var err error
		probs, err = c.ClassifyAudio(ctx, vec.Values)
		return err
	})
	if err == nil && len(probs) < 2 {
		err = errors.New("audio model returned fewer than two classes")
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return failedVoice(contextCause(ctxErr))
		}
		cause := modelCause(KindVoice, err)
		if d.sim == nil {
			return failedVoice(cause)
		}
		isFake, conf := d.sim.Verdict()
		return VoiceResult{
			IsFake:      isFake,
			Confidence:  conf,
			Explanation: voiceExplanation(isFake),
			Outcome:     Outcome{Status: StatusDegraded, Source: SourceSimulation, Error: &cause},
		}
	}

	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	res := VoiceResult{
		IsFake:      best == 1,
		Confidence:  clamp01(probs[best]),
		Explanation: voiceExplanation(best == 1),
		Outcome:     Outcome{Status: StatusOK, Source: SourceModel},
	}
	if vec.Synthetic {
		res.Outcome = degradedInput(KindVoice, vec.Cause)
	}
	return res
}

func (d *Detector) phishing(ctx context.Context, input string) PhishingResult {
	vec := features.ExtractText(input)

	var score float64
	outcome := Outcome{Status: StatusOK, Source: SourceModel}
	err := d.models.UseTabular(func(c model.TabularClassifier) error {
		var err error
		score, err = c.PredictProba(ctx, vec.Float32())
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return failedPhishing(contextCause(ctxErr))
		}
		cause := modelCause(KindPhishing, err)
		if d.sim == nil {
			return failedPhishing(cause)
		}
		score = d.sim.PhishingScore()
		outcome = Outcome{Status: StatusDegraded, Source: SourceSimulation, Error: &cause}
	}

	level, pct, explanation := scorePhishing(vec, clamp01(score))
	return PhishingResult{
		RiskLevel:      level,
		RiskPercentage: pct,
		Explanation:    explanation,
		Outcome:        outcome,
	}
}

// runBounded runs fn under timeout. Decoding and inference cannot be
// interrupted, so on expiry the worker is abandoned and its result dropped.
func runBounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) T, fail func(Cause) T) T {
	if err := ctx.Err(); err != nil {
		return fail(contextCause(err))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan T, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("detection panicked")
				done <- fail(Cause{Code: CauseInternal, Message: "internal error during analysis"})
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return fail(contextCause(ctx.Err()))
	}
}

func (d *Detector) finish(span trace.Span, kind string, start time.Time, out Outcome, verdict string) {
	elapsed := time.Since(start)

	attrs := map[string]interface{}{
		"detect.kind":    kind,
		"detect.status":  string(out.Status),
		"detect.source":  string(out.Source),
		"detect.verdict": verdict,
	}
	entry := log.WithFields(log.Fields{
		"kind":       kind,
		"status":     out.Status,
		"source":     out.Source,
		"verdict":    verdict,
		"latency_ms": elapsed.Milliseconds(),
	})
	if out.Error != nil {
		attrs["detect.cause"] = string(out.Error.Code)
		entry = entry.WithField("cause", out.Error.Code)
	}
	span.SetAttributes(telemetry.SafeAttributes(attrs)...)

	switch out.Status {
	case StatusFailed:
		span.SetStatus(codes.Error, string(out.Error.Code))
		entry.Warn("detection failed")
	case StatusDegraded:
		entry.Info("detection degraded")
	default:
		entry.Debug("detection finished")
	}

	if d.recorder != nil {
		d.recorder.ObserveDetection(kind, out.Status, verdict, elapsed)
	}
}

func contextCause(err error) Cause {
	if errors.Is(err, context.DeadlineExceeded) {
		return Cause{Code: CauseTimeout, Message: "analysis exceeded its deadline"}
	}
	return Cause{Code: CauseCanceled, Message: "request was canceled"}
}

// modelCause keeps file paths and runtime details out of the response; the
// full error is logged instead.
func modelCause(kind string, err error) Cause {
	if errors.Is(err, model.ErrUnavailable) {
		log.WithField("kind", kind).WithError(err).Debug("model unavailable")
		return Cause{Code: CauseModelUnavailable, Message: kind + " model is not available"}
	}
	log.WithField("kind", kind).WithError(err).Warn("model inference failed")
	return Cause{Code: CauseModelError, Message: kind + " model failed to score the input"}
}

func degradedInput(kind string, err error) Outcome {
	log.WithField("kind", kind).WithError(err).Info("upload unreadable; substitute features used")
	return Outcome{
		Status: StatusDegraded,
		Source: SourceModel,
		Error:  &Cause{Code: CauseInputUnreadable, Message: "upload could not be decoded; substitute features were used"},
	}
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

type noModels struct{}

func (noModels) UseImage(func(model.ImageClassifier) error) error {
	return model.ErrUnavailable
}

func (noModels) UseAudio(func(model.AudioClassifier) error) error {
	return model.ErrUnavailable
}

func (noModels) UseTabular(func(model.TabularClassifier) error) error {
	return model.ErrUnavailable
}
