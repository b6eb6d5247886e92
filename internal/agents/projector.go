// Package agents derives the four-stage pipeline display from orchestrator
// state. It holds no state of its own.
package agents

import "fieldtriage/internal/domain"

// Severity selects the risk chip colour.
type Severity string

const (
	SeverityNeutral Severity = "neutral"
	SeverityOK      Severity = "ok"
	SeverityWarn    Severity = "warn"
	SeverityDanger  Severity = "danger"
)

const (
	LabelRunning = "Running"
	LabelReady   = "Ready"
	ActivityIdle = "Idle"

	RiskPending     = "Pending"
	RiskPlaceholder = "—"
)

// Status is one agent row.
type Status struct {
	Name     string `json:"name"`
	Activity string `json:"activity"`
	Running  bool   `json:"running"`
	Label    string `json:"label"`
}

// RiskChip summarizes the case risk once a result exists.
type RiskChip struct {
	Level    domain.RiskLevel `json:"level,omitempty"`
	Text     string           `json:"text"`
	Caption  string           `json:"caption"`
	Severity Severity         `json:"severity"`
	Set      bool             `json:"set"`
}

// Board is the full projection.
type Board struct {
	Agents []Status `json:"agents"`
	Risk   RiskChip `json:"risk"`
}

type agent struct {
	name     string
	activity string
}

var pipeline = [...]agent{
	{name: "Agent A", activity: "Transcribing"},
	{name: "Agent B", activity: "Checking history & guidelines"},
	{name: "Agent C", activity: "Risk analysis"},
	{name: "Agent D", activity: "Drafting case summary"},
}

// Project maps state to the board. All four agents run together while a
// submission is in flight.
func Project(state domain.OrchestratorState) Board {
	running := state.Phase == domain.PhaseSubmitting

	board := Board{Agents: make([]Status, 0, len(pipeline))}
	for _, a := range pipeline {
		s := Status{Name: a.name, Activity: ActivityIdle, Running: running, Label: LabelReady}
		if running {
			s.Activity = a.activity
			s.Label = LabelRunning
		}
		board.Agents = append(board.Agents, s)
	}
	board.Risk = riskChip(state)
	return board
}

func riskChip(state domain.OrchestratorState) RiskChip {
	if state.Phase != domain.PhaseDone || state.Result == nil {
		return RiskChip{Text: RiskPending, Caption: RiskPlaceholder, Severity: SeverityNeutral}
	}
	level := state.Result.RiskLevel
	text := string(level)
	if !level.Known() {
		text = "unknown"
	}
	caption := "No referral"
	if state.Result.ReferralNeeded {
		caption = "Referral needed"
	}
	return RiskChip{
		Level:    level,
		Text:     text,
		Caption:  caption,
		Severity: SeverityFor(level),
		Set:      true,
	}
}

// SeverityFor orders levels high > medium > low > unknown.
func SeverityFor(level domain.RiskLevel) Severity {
	switch level {
	case domain.RiskHigh:
		return SeverityDanger
	case domain.RiskMedium:
		return SeverityWarn
	case domain.RiskLow:
		return SeverityOK
	default:
		return SeverityNeutral
	}
}
