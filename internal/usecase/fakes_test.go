package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"fieldtriage/internal/domain"
	"fieldtriage/internal/narration"
	"fieldtriage/internal/ports"
)

type fakeMicrophone struct {
	mu       sync.Mutex
	sessions []*fakeAudioSession
	err      error
	calls    int
}

func (f *fakeMicrophone) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no audio session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

// fakeAudioSession yields its chunks, then fails with readErr if set, or
// blocks until Stop.
type fakeAudioSession struct {
	mu        sync.Mutex
	chunks    [][]byte
	readErr   error
	stopCalls int
	stopErr   error

	stopOnce sync.Once
	stopped  chan struct{}
}

func newFakeAudioSession(chunks ...[]byte) *fakeAudioSession {
	return &fakeAudioSession{chunks: chunks, stopped: make(chan struct{})}
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.chunks) > 0 {
		n := copy(p, f.chunks[0])
		f.chunks = f.chunks[1:]
		f.mu.Unlock()
		return n, nil
	}
	readErr := f.readErr
	f.mu.Unlock()
	if readErr != nil {
		return 0, readErr
	}
	<-f.stopped
	return 0, io.EOF
}

func (f *fakeAudioSession) Close() error { return nil }

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.stopped) })
	return f.stopErr
}

func (f *fakeAudioSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeTranscriber struct {
	mu       sync.Mutex
	result   domain.TranscriptionResult
	err      error
	entered  chan struct{}
	block    chan struct{}
	calls    int
	language string
	audio    domain.AudioArtifact
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio domain.AudioArtifact, language string) (domain.TranscriptionResult, error) {
	f.mu.Lock()
	f.calls++
	f.language = language
	f.audio = audio
	entered, block := f.entered, f.block
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return f.result, f.err
}

// fakeAnalyzer optionally signals entry and blocks until released.
type fakeAnalyzer struct {
	mu      sync.Mutex
	result  domain.CaseResult
	err     error
	calls   int
	texts   []string
	entered chan struct{}
	release chan struct{}
}

func (f *fakeAnalyzer) Analyze(_ context.Context, text string) (domain.CaseResult, error) {
	f.mu.Lock()
	f.calls++
	f.texts = append(f.texts, text)
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return f.result, f.err
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type suffixNormalizer struct {
	err error
}

func (n suffixNormalizer) Apply(text string) (string, error) {
	if n.err != nil {
		return "", n.err
	}
	return text + " (normalized)", nil
}

// narrated returns log messages oldest first.
func narrated(log *narration.Log) []string {
	entries := log.Entries()
	out := make([]string, len(entries))
	for i, entry := range entries {
		out[len(entries)-1-i] = entry.Message
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
