package detect

// Status tells how much of a result is backed by real signal.
type Status string

const (
	// StatusOK means real features went through a real model.
	StatusOK Status = "ok"
	// StatusDegraded means features were substituted or the score simulated.
	StatusDegraded Status = "degraded"
	// StatusFailed means no verdict could be produced.
	StatusFailed Status = "failed"
)

// Source names where the score came from.
type Source string

const (
	SourceModel      Source = "model"
	SourceSimulation Source = "simulation"
	SourceNone       Source = "none"
)

// CauseCode classifies why a result is degraded or failed.
type CauseCode string

const (
	CauseModelUnavailable CauseCode = "model_unavailable"
	CauseModelError       CauseCode = "model_error"
	CauseInputUnreadable  CauseCode = "input_unreadable"
	CauseTimeout          CauseCode = "timeout"
	CauseCanceled         CauseCode = "canceled"
	CauseInternal         CauseCode = "internal"
)

// Cause is the structured error attached to degraded and failed results.
type Cause struct {
	Code    CauseCode `json:"code"`
	Message string    `json:"message"`
}

// Outcome is embedded in every result and serialised inline.
type Outcome struct {
	Status Status `json:"status"`
	Source Source `json:"source"`
	Error  *Cause `json:"error,omitempty"`
}

// RiskLevel is the phishing risk bucket.
type RiskLevel string

const (
	RiskLow     RiskLevel = "Low"
	RiskMedium  RiskLevel = "Medium"
	RiskHigh    RiskLevel = "High"
	RiskUnknown RiskLevel = "Unknown"
)

type DeepfakeResult struct {
	IsDeepfake  bool    `json:"is_deepfake"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
	Outcome
}

type VoiceResult struct {
	IsFake      bool    `json:"is_fake"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
	Outcome
}

type PhishingResult struct {
	RiskLevel      RiskLevel `json:"risk_level"`
	RiskPercentage int       `json:"risk_percentage"`
	Explanation    string    `json:"explanation"`
	Outcome
}

const (
	explainDeepfake  = "The facial features show inconsistencies typical of AI-generated content. Detected anomalies in eye movement and facial symmetry."
	explainAuthentic = "No signs of digital manipulation detected. Facial features appear natural and consistent."
	explainSynthetic = "Audio spectral patterns indicate synthetic generation. Detected unnatural frequency distributions and lack of human vocal irregularities."
	explainHuman     = "Audio characteristics consistent with natural human speech. No indicators of artificial synthesis detected."

	explainDeepfakeFailed = "Deepfake analysis could not be completed."
	explainVoiceFailed    = "Voice analysis could not be completed."
	explainPhishingFailed = "Phishing analysis could not be completed."
)

func deepfakeExplanation(isDeepfake bool) string {
	if isDeepfake {
		return explainDeepfake
	}
	return explainAuthentic
}

func voiceExplanation(isFake bool) string {
	if isFake {
		return explainSynthetic
	}
	return explainHuman
}

func failedDeepfake(c Cause) DeepfakeResult {
	return DeepfakeResult{
		Explanation: explainDeepfakeFailed,
		Outcome:     Outcome{Status: StatusFailed, Source: SourceNone, Error: &c},
	}
}

func failedVoice(c Cause) VoiceResult {
	return VoiceResult{
		Explanation: explainVoiceFailed,
		Outcome:     Outcome{Status: StatusFailed, Source: SourceNone, Error: &c},
	}
}

func failedPhishing(c Cause) PhishingResult {
	return PhishingResult{
		RiskLevel:   RiskUnknown,
		Explanation: explainPhishingFailed,
		Outcome:     Outcome{Status: StatusFailed, Source: SourceNone, Error: &c},
	}
}

// Verdict is a short label for metrics and audit records.
func (r DeepfakeResult) Verdict() string {
	switch {
	case r.Status == StatusFailed:
		return "none"
	case r.IsDeepfake:
		return "deepfake"
	default:
		return "authentic"
	}
}

func (r VoiceResult) Verdict() string {
	switch {
	case r.Status == StatusFailed:
		return "none"
	case r.IsFake:
		return "synthetic"
	default:
		return "human"
	}
}

func (r PhishingResult) Verdict() string {
	if r.Status == StatusFailed {
		return "none"
	}
	return string(r.RiskLevel)
}
