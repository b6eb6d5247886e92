package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"fieldtriage/internal/domain"
	"fieldtriage/internal/logging"
	"fieldtriage/internal/observe"
	"fieldtriage/internal/ports"
)

var ErrNoAudio = errors.New("recording is empty")

// Transcription uploads finished recordings and applies the outcome to the
// intake draft. Failures surface only as narration; the draft is replaced
// only by a recognized transcript.
type Transcription struct {
	transcriber ports.Transcriber
	normalizer  ports.Normalizer
	narrator    ports.Narrator
	draft       *IntakeDraft
	metrics     *observe.Metrics
	logger      *slog.Logger

	gen generation
}

func NewTranscription(
	transcriber ports.Transcriber,
	normalizer ports.Normalizer,
	narrator ports.Narrator,
	draft *IntakeDraft,
	metrics *observe.Metrics,
	logger *slog.Logger,
) *Transcription {
	return &Transcription{
		transcriber: transcriber,
		normalizer:  normalizer,
		narrator:    narrator,
		draft:       draft,
		metrics:     metrics,
		logger:      logging.Component(logger, "transcription"),
	}
}

// Run performs one transcription request with no retry. The returned error is
// non-nil only for an empty artifact or a closed session; every backend
// outcome is reported through the TranscriptOutcome.
func (t *Transcription) Run(ctx context.Context, artifact domain.AudioArtifact, language string) (domain.TranscriptOutcome, error) {
	seen, closed := t.gen.current()
	if closed {
		return "", ErrSessionClosed
	}
	if artifact.Empty() {
		return "", ErrNoAudio
	}

	t.narrator.Append("Agent A: Uploading audio for transcription…")
	result, err := t.transcriber.Transcribe(ctx, artifact, language)
	if t.gen.stale(seen) {
		t.logger.Debug("discarding transcription for closed session", slog.Bool("failed", err != nil))
		return "", ErrSessionClosed
	}

	if err != nil {
		t.metrics.RecordTranscript(ctx, domain.TranscriptFailed)
		t.narrator.Append(fmt.Sprintf("Agent A: Transcription failed (%s).", err.Error()))
		return domain.TranscriptFailed, nil
	}

	outcome := result.Outcome()
	t.metrics.RecordTranscript(ctx, outcome)
	switch outcome {
	case domain.TranscriptServerError:
		t.narrator.Append(fmt.Sprintf("Agent A: Transcription error (%s).", strings.TrimSpace(result.Error)))
	case domain.TranscriptNoSpeech:
		t.narrator.Append("Agent A: No speech detected.")
	case domain.TranscriptRecognized:
		t.draft.Set(t.normalize(strings.TrimSpace(result.Text)))
		t.narrator.Append("Agent A: Transcription completed.")
	}
	return outcome, nil
}

func (t *Transcription) normalize(text string) string {
	if t.normalizer == nil {
		return text
	}
	normalized, err := t.normalizer.Apply(text)
	if err != nil {
		t.logger.Warn("vocabulary normalization failed, keeping raw transcript", slog.Any("error", err))
		return text
	}
	return strings.TrimSpace(normalized)
}

// Close discards the result of any request still in flight.
func (t *Transcription) Close() {
	t.gen.close()
}
