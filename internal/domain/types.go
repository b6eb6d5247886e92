package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Phase models the intake orchestrator lifecycle.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// CaptureState models the microphone lifecycle.
type CaptureState string

const (
	CaptureIdle      CaptureState = "idle"
	CaptureRecording CaptureState = "recording"
)

// RiskLevel is the coarse severity assigned by the backend.
type RiskLevel string

const (
	RiskUnknown RiskLevel = ""
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
)

// ParseRiskLevel normalizes backend spellings ("High", " low ") and maps
// anything unrecognized to RiskUnknown.
func ParseRiskLevel(raw string) RiskLevel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return RiskLow
	case "medium":
		return RiskMedium
	case "high":
		return RiskHigh
	default:
		return RiskUnknown
	}
}

func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		// Non-string values are treated as absent.
		*r = RiskUnknown
		return nil
	}
	*r = ParseRiskLevel(raw)
	return nil
}

// Known reports whether the level is one of low, medium or high.
func (r RiskLevel) Known() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// RetrievedContext is a guideline snippet used as supporting evidence.
type RetrievedContext struct {
	Title          string    `json:"title"`
	RiskLevel      RiskLevel `json:"risk"`
	ReferralNeeded bool      `json:"referral"`
}

// SOAPNote is the structured clinical note returned with a case.
type SOAPNote struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// Empty reports whether every section is blank.
func (n SOAPNote) Empty() bool {
	return strings.TrimSpace(n.Subjective) == "" &&
		strings.TrimSpace(n.Objective) == "" &&
		strings.TrimSpace(n.Assessment) == "" &&
		strings.TrimSpace(n.Plan) == ""
}

// CaseResult is the structured, non-diagnostic summary produced by analysis.
// The client renders what the backend returns; UrgentAlert does not imply
// ReferralNeeded here.
type CaseResult struct {
	CaseID              string             `json:"case_id,omitempty"`
	Symptoms            []string           `json:"symptoms"`
	RiskLevel           RiskLevel          `json:"risk_level"`
	PossibleRiskPattern string             `json:"possible_risk_pattern"`
	RecommendedActions  []string           `json:"recommended_actions"`
	ReferralNeeded      bool               `json:"referral_needed"`
	UrgentAlert         bool               `json:"urgent_alert"`
	RetrievedContexts   []RetrievedContext `json:"retrieved_contexts"`
	GraphInsights       []string           `json:"graph_insights,omitempty"`
	SOAPNote            SOAPNote           `json:"soap_note"`
}

// TranscriptionResult is the backend answer for one uploaded recording.
type TranscriptionResult struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// TranscriptOutcome classifies a finished transcription attempt.
type TranscriptOutcome string

const (
	TranscriptRecognized  TranscriptOutcome = "recognized"
	TranscriptNoSpeech    TranscriptOutcome = "no_speech"
	TranscriptServerError TranscriptOutcome = "server_error"
	TranscriptFailed      TranscriptOutcome = "failed"
)

// Outcome returns how the result should be applied to the intake draft.
// Whitespace-only text counts as no speech.
func (r TranscriptionResult) Outcome() TranscriptOutcome {
	if strings.TrimSpace(r.Error) != "" {
		return TranscriptServerError
	}
	if strings.TrimSpace(r.Text) == "" {
		return TranscriptNoSpeech
	}
	return TranscriptRecognized
}

// AudioArtifact is a finalized recording ready for upload.
type AudioArtifact struct {
	Data        []byte
	FileName    string
	ContentType string
	Duration    time.Duration
	// Language is the tag the audio was recorded in; empty for uploaded files.
	Language string
}

// Empty reports whether the artifact carries no audio payload.
func (a AudioArtifact) Empty() bool {
	return len(a.Data) == 0
}

// NarrationEntry is one immutable line of the agent narration log.
type NarrationEntry struct {
	Sequence  uint64    `json:"seq"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"ts"`
}

// OrchestratorState is a read-only snapshot of the intake state machine.
// Error and Result are never both set.
type OrchestratorState struct {
	Phase  Phase       `json:"phase"`
	Error  string      `json:"error,omitempty"`
	Result *CaseResult `json:"result,omitempty"`
}

// CaptureStatus summarizes the microphone side of a session.
type CaptureStatus struct {
	State    CaptureState `json:"state"`
	Language string       `json:"language"`
}

// SessionStatus is the combined view handed to front ends.
type SessionStatus struct {
	SessionID    string            `json:"session_id"`
	Capture      CaptureStatus     `json:"capture"`
	Orchestrator OrchestratorState `json:"orchestrator"`
	Draft        string            `json:"draft"`
}
