package ports

import (
	"context"
	"io"

	"fieldtriage/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture holding the input device until Stop.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture acquires exclusive microphone sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// Transcriber uploads a finished recording and returns recognized text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio domain.AudioArtifact, language string) (domain.TranscriptionResult, error)
}

// CaseAnalyzer submits finalized case text for structured analysis.
type CaseAnalyzer interface {
	Analyze(ctx context.Context, text string) (domain.CaseResult, error)
}

// Normalizer rewrites recognized text into the intake vocabulary.
type Normalizer interface {
	Apply(text string) (string, error)
}

// Narrator receives one line per meaningful transition.
type Narrator interface {
	Append(message string) domain.NarrationEntry
}
