package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"fieldtriage/internal/domain"
	"fieldtriage/internal/narration"
	"fieldtriage/internal/observe"
	"fieldtriage/internal/ports"
)

var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrSessionBusy         = errors.New("session is recording or submitting")
)

// SessionDeps are the collaborators a Session drives.
type SessionDeps struct {
	Microphone  ports.AudioCapture
	Transcriber ports.Transcriber
	Analyzer    ports.CaseAnalyzer
	Normalizer  ports.Normalizer
	// Narration defaults to a fresh log of narration.DefaultCapacity.
	Narration *narration.Log
}

// SessionConfig holds per-session settings.
type SessionConfig struct {
	Language string
	Capture  CaptureConfig
	Logger   *slog.Logger
	Metrics  *observe.Metrics
}

// Session is one intake context: narration log, draft, microphone and
// orchestrator. Close releases everything it holds.
type Session struct {
	id            string
	log           *narration.Log
	draft         *IntakeDraft
	capture       *CaptureSession
	transcription *Transcription
	orchestrator  *IntakeOrchestrator
	logger        *slog.Logger

	mu       sync.Mutex
	language string
	closed   bool
}

// NewSession validates the language and seeds the narration log.
func NewSession(deps SessionDeps, cfg SessionConfig) (*Session, error) {
	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = domain.DefaultLanguage
	}
	if !domain.IsSupportedLanguage(language) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
	if deps.Analyzer == nil || deps.Transcriber == nil {
		return nil, errors.New("session requires a transcriber and a case analyzer")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	id := uuid.NewString()
	logger = logger.With(slog.String("session_id", id))

	log := deps.Narration
	if log == nil {
		log = narration.NewLog(narration.DefaultCapacity, narration.WithLogger(logger))
	}
	log.Seed(narration.ReadyLines...)

	captureCfg := cfg.Capture
	if captureCfg.Logger == nil {
		captureCfg.Logger = logger
	}
	if captureCfg.Metrics == nil {
		captureCfg.Metrics = cfg.Metrics
	}

	draft := &IntakeDraft{}
	s := &Session{
		id:            id,
		log:           log,
		draft:         draft,
		transcription: NewTranscription(deps.Transcriber, deps.Normalizer, log, draft, cfg.Metrics, logger),
		orchestrator:  NewIntakeOrchestrator(deps.Analyzer, log, cfg.Metrics, logger),
		logger:        logger,
		language:      language,
	}
	if deps.Microphone != nil {
		s.capture = NewCaptureSession(deps.Microphone, log, captureCfg)
	}
	logger.Info("intake session opened", slog.String("language", language))
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Draft() *IntakeDraft {
	return s.draft
}

func (s *Session) Narration() *narration.Log {
	return s.log
}

func (s *Session) Orchestrator() *IntakeOrchestrator {
	return s.orchestrator
}

func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

// SetLanguage changes the intake language. Rejected while recording or
// submitting.
func (s *Session) SetLanguage(tag string) error {
	tag = strings.TrimSpace(tag)
	if !domain.IsSupportedLanguage(tag) {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, tag)
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.captureState() == domain.CaptureRecording || s.orchestrator.Busy() {
		return ErrSessionBusy
	}
	s.mu.Lock()
	s.language = tag
	s.mu.Unlock()
	return nil
}

// StartRecording acquires the microphone in the current language.
func (s *Session) StartRecording(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.capture == nil {
		return fmt.Errorf("%w: no microphone configured", ErrDeviceUnavailable)
	}
	if err := s.capture.Start(ctx, s.Language()); err != nil {
		return err
	}
	// Close may have run while the device was being acquired.
	if err := s.checkOpen(); err != nil {
		s.capture.Abort()
		return err
	}
	return nil
}

// StopRecording releases the microphone and returns the finalized audio.
func (s *Session) StopRecording(ctx context.Context) (domain.AudioArtifact, error) {
	if s.capture == nil {
		return domain.AudioArtifact{}, ErrNotRecording
	}
	return s.capture.Stop(ctx)
}

// StopAndTranscribe ends the recording and uploads it.
func (s *Session) StopAndTranscribe(ctx context.Context) (domain.TranscriptOutcome, error) {
	artifact, err := s.StopRecording(ctx)
	if err != nil {
		return "", err
	}
	return s.Transcribe(ctx, artifact)
}

// Transcribe uploads a finished recording in the language it was recorded
// in, or the session language for untagged audio.
func (s *Session) Transcribe(ctx context.Context, artifact domain.AudioArtifact) (domain.TranscriptOutcome, error) {
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	language := artifact.Language
	if language == "" {
		language = s.Language()
	}
	return s.transcription.Run(ctx, artifact, language)
}

// Submit sends the current draft for analysis.
func (s *Session) Submit(ctx context.Context) (domain.OrchestratorState, error) {
	return s.orchestrator.Submit(ctx, s.draft.Text())
}

func (s *Session) State() domain.OrchestratorState {
	return s.orchestrator.State()
}

// Status is the combined read-only view for front ends.
func (s *Session) Status() domain.SessionStatus {
	return domain.SessionStatus{
		SessionID:    s.id,
		Capture:      domain.CaptureStatus{State: s.captureState(), Language: s.Language()},
		Orchestrator: s.orchestrator.State(),
		Draft:        s.draft.Text(),
	}
}

// Close releases the microphone if held and discards responses still in
// flight. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.capture != nil {
		s.capture.Abort()
	}
	s.transcription.Close()
	s.orchestrator.Close()
	s.logger.Info("intake session closed")
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) captureState() domain.CaptureState {
	if s.capture == nil {
		return domain.CaptureIdle
	}
	return s.capture.State()
}
