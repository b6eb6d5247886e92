package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"fieldtriage/internal/audio"
	"fieldtriage/internal/domain"
	"fieldtriage/internal/logging"
	"fieldtriage/internal/observe"
	"fieldtriage/internal/ports"
)

var (
	ErrDeviceUnavailable = errors.New("microphone unavailable")
	ErrAlreadyRecording  = errors.New("recording already in progress")
	ErrNotRecording      = errors.New("no active recording")
)

// CaptureConfig controls microphone capture.
type CaptureConfig struct {
	Audio     ports.AudioConfig
	ChunkSize int
	Logger    *slog.Logger
	Metrics   *observe.Metrics
}

// CaptureSession owns the microphone while recording. At most one recording
// exists at a time.
type CaptureSession struct {
	mic      ports.AudioCapture
	narrator ports.Narrator
	cfg      CaptureConfig
	logger   *slog.Logger

	mu       sync.Mutex
	starting bool
	current  *activeRecording
}

func NewCaptureSession(mic ports.AudioCapture, narrator ports.Narrator, cfg CaptureConfig) *CaptureSession {
	if cfg.ChunkSize < minChunkSize {
		cfg.ChunkSize = defaultChunkSize
	}
	return &CaptureSession{
		mic:      mic,
		narrator: narrator,
		cfg:      cfg,
		logger:   logging.Component(cfg.Logger, "capture"),
	}
}

// Start acquires the microphone and begins accumulating audio.
func (c *CaptureSession) Start(ctx context.Context, language string) error {
	c.mu.Lock()
	if c.current != nil || c.starting {
		c.mu.Unlock()
		return ErrAlreadyRecording
	}
	c.starting = true
	c.mu.Unlock()

	recCtx, cancel := context.WithCancel(ctx)
	session, err := c.mic.Start(recCtx, c.cfg.Audio)
	if err != nil {
		cancel()
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
		c.narrator.Append(fmt.Sprintf("Agent A: Microphone access failed (%s).", err.Error()))
		c.logger.Warn("microphone acquisition failed", slog.Any("error", err))
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	rec := &activeRecording{
		cancel:   cancel,
		audio:    session,
		language: language,
		pumpDone: make(chan struct{}),
	}

	c.mu.Lock()
	c.current = rec
	c.starting = false
	c.mu.Unlock()

	go pumpAudioChunks(rec, c.cfg.ChunkSize, c.logger, rec.pumpDone)

	c.cfg.Metrics.RecordingStarted(ctx)
	c.narrator.Append(fmt.Sprintf("Agent A: Recording started (%s).", language))
	return nil
}

// Stop releases the microphone and finalizes the captured audio into a WAV
// artifact tagged with the language the recording was started in. The
// device is released even when finalization fails. A recording that
// captured no PCM yields an empty artifact. Stop on an idle session returns
// ErrNotRecording and changes nothing.
func (c *CaptureSession) Stop(ctx context.Context) (domain.AudioArtifact, error) {
	rec, err := c.take()
	if err != nil {
		return domain.AudioArtifact{}, err
	}

	c.release(ctx, rec)
	c.narrator.Append("Agent A: Recording stopped.")

	chunks, readErr := rec.drain()
	if readErr != nil {
		// The audio captured before the failure is still finalized.
		c.logger.Warn("recording ended with a read error", slog.Any("error", readErr))
		c.narrator.Append(fmt.Sprintf("Agent A: Recording interrupted (%s).", readErr.Error()))
	}
	artifact, err := audio.Finalize(chunks, audio.Format{
		SampleRate: c.cfg.Audio.SampleRate,
		Channels:   c.cfg.Audio.Channels,
	})
	if err != nil {
		c.logger.Warn("recording could not be finalized", slog.Any("error", err))
		c.narrator.Append(fmt.Sprintf("Agent A: Recording could not be saved (%s).", err.Error()))
		return domain.AudioArtifact{}, fmt.Errorf("finalize recording: %w", err)
	}
	if artifact.Empty() {
		c.narrator.Append("Agent A: Recording captured no audio.")
	}
	artifact.Language = rec.language
	c.logger.Debug("recording finalized",
		slog.Int("bytes", len(artifact.Data)),
		slog.Duration("duration", artifact.Duration),
	)
	return artifact, nil
}

// Abort releases the microphone and discards captured audio. Used on
// teardown; it does not narrate.
func (c *CaptureSession) Abort() {
	rec, err := c.take()
	if err != nil {
		return
	}
	c.release(context.Background(), rec)
	rec.drain()
	c.logger.Debug("recording discarded")
}

// State reports whether the microphone is held.
func (c *CaptureSession) State() domain.CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil || c.starting {
		return domain.CaptureRecording
	}
	return domain.CaptureIdle
}

func (c *CaptureSession) take() (*activeRecording, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNotRecording
	}
	rec := c.current
	c.current = nil
	return rec, nil
}

func (c *CaptureSession) release(ctx context.Context, rec *activeRecording) {
	if err := rec.audio.Stop(); err != nil {
		c.logger.Warn("microphone did not stop cleanly", slog.Any("error", err))
	}
	<-rec.pumpDone
	_ = rec.audio.Close()
	rec.cancel()
	c.cfg.Metrics.RecordingStopped(ctx)
}
