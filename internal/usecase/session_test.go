package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"fieldtriage/internal/domain"
	"fieldtriage/internal/narration"
)

func newTestSession(t *testing.T, deps SessionDeps, language string) *Session {
	t.Helper()
	if deps.Transcriber == nil {
		deps.Transcriber = &fakeTranscriber{}
	}
	if deps.Analyzer == nil {
		deps.Analyzer = &fakeAnalyzer{}
	}
	session, err := NewSession(deps, SessionConfig{Language: language})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(session.Close)
	return session
}

func TestNewSessionSeedsNarrationAndDefaults(t *testing.T) {
	t.Parallel()

	session := newTestSession(t, SessionDeps{}, "")
	if session.Language() != domain.DefaultLanguage {
		t.Fatalf("expected default language, got %q", session.Language())
	}
	if session.ID() == "" {
		t.Fatal("expected a session id")
	}
	if diff := cmp.Diff(narration.ReadyLines, narrated(session.Narration())); diff != "" {
		t.Fatalf("seed mismatch (-want +got):\n%s", diff)
	}

	status := session.Status()
	if status.Capture.State != domain.CaptureIdle || status.Orchestrator.Phase != domain.PhaseIdle {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestNewSessionRejectsUnknownLanguage(t *testing.T) {
	t.Parallel()

	_, err := NewSession(SessionDeps{Transcriber: &fakeTranscriber{}, Analyzer: &fakeAnalyzer{}}, SessionConfig{Language: "fr"})
	if !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
}

func TestSessionRecordTranscribeSubmit(t *testing.T) {
	t.Parallel()

	transcriber := &fakeTranscriber{result: domain.TranscriptionResult{Text: "pet dard aur ulti"}}
	analyzer := &fakeAnalyzer{result: domain.CaseResult{RiskLevel: domain.RiskMedium}}
	mic := &fakeMicrophone{sessions: []*fakeAudioSession{newFakeAudioSession(make([]byte, 1024))}}
	session := newTestSession(t, SessionDeps{
		Microphone:  mic,
		Transcriber: transcriber,
		Analyzer:    analyzer,
		Normalizer:  suffixNormalizer{},
	}, "hi")

	if err := session.SetLanguage("bn"); err != nil {
		t.Fatalf("set language: %v", err)
	}
	if err := session.StartRecording(context.Background()); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if err := session.SetLanguage("en"); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy while recording, got %v", err)
	}

	outcome, err := session.StopAndTranscribe(context.Background())
	if err != nil || outcome != domain.TranscriptRecognized {
		t.Fatalf("unexpected transcription %s (%v)", outcome, err)
	}
	if transcriber.language != "bn" || transcriber.audio.Empty() {
		t.Fatalf("transcriber got language %q and %d bytes", transcriber.language, len(transcriber.audio.Data))
	}
	if session.Draft().Text() != "pet dard aur ulti (normalized)" {
		t.Fatalf("unexpected draft %q", session.Draft().Text())
	}

	state, err := session.Submit(context.Background())
	if err != nil || state.Phase != domain.PhaseDone {
		t.Fatalf("unexpected submit %+v (%v)", state, err)
	}
	if analyzer.texts[0] != "pet dard aur ulti (normalized)" {
		t.Fatalf("analyzer got %q", analyzer.texts[0])
	}

	want := append(append([]string{}, narration.ReadyLines...),
		"Agent A: Recording started (bn).",
		"Agent A: Recording stopped.",
		"Agent A: Uploading audio for transcription…",
		"Agent A: Transcription completed.",
		"Agent A: Transcribing and normalizing intake…",
		"Agent B: Retrieved guideline context and matched rural scenarios.",
		"Agent C: Completed risk classification and generated case summary.",
	)
	if diff := cmp.Diff(want, narrated(session.Narration())); diff != "" {
		t.Fatalf("narration mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionCloseReleasesMicrophone(t *testing.T) {
	t.Parallel()

	audioSession := newFakeAudioSession()
	session := newTestSession(t, SessionDeps{
		Microphone: &fakeMicrophone{sessions: []*fakeAudioSession{audioSession}},
	}, "ta")

	if err := session.StartRecording(context.Background()); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	session.Close()
	session.Close()

	if audioSession.stops() == 0 {
		t.Fatal("expected microphone released on close")
	}
	if session.Status().Capture.State != domain.CaptureIdle {
		t.Fatal("expected idle capture after close")
	}
	if _, err := session.Submit(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if err := session.StartRecording(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSessionTranscribesInRecordingLanguage(t *testing.T) {
	t.Parallel()

	transcriber := &fakeTranscriber{result: domain.TranscriptionResult{Text: "khokla"}}
	mic := &fakeMicrophone{sessions: []*fakeAudioSession{newFakeAudioSession(make([]byte, 512))}}
	session := newTestSession(t, SessionDeps{Microphone: mic, Transcriber: transcriber}, "mr")

	if err := session.StartRecording(context.Background()); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	artifact, err := session.StopRecording(context.Background())
	if err != nil {
		t.Fatalf("stop recording: %v", err)
	}
	if err := session.SetLanguage("ta"); err != nil {
		t.Fatalf("set language: %v", err)
	}

	if _, err := session.Transcribe(context.Background(), artifact); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if transcriber.language != "mr" {
		t.Fatalf("expected upload in the recording language, got %q", transcriber.language)
	}

	artifact.Language = ""
	if _, err := session.Transcribe(context.Background(), artifact); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if transcriber.language != "ta" {
		t.Fatalf("expected untagged audio in the session language, got %q", transcriber.language)
	}
}

func TestSessionSilentRecordingIsNotUploaded(t *testing.T) {
	t.Parallel()

	transcriber := &fakeTranscriber{}
	mic := &fakeMicrophone{sessions: []*fakeAudioSession{newFakeAudioSession()}}
	session := newTestSession(t, SessionDeps{Microphone: mic, Transcriber: transcriber}, "hi")

	if err := session.StartRecording(context.Background()); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if _, err := session.StopAndTranscribe(context.Background()); !errors.Is(err, ErrNoAudio) {
		t.Fatalf("expected ErrNoAudio, got %v", err)
	}
	if transcriber.calls != 0 {
		t.Fatalf("expected no upload, got %d calls", transcriber.calls)
	}
}

func TestSessionWithoutMicrophone(t *testing.T) {
	t.Parallel()

	session := newTestSession(t, SessionDeps{}, "en")
	if err := session.StartRecording(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if _, err := session.StopRecording(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
}

func TestNarrationScenarioKeepsNewestEighty(t *testing.T) {
	t.Parallel()

	session := newTestSession(t, SessionDeps{Narration: narration.NewLog(narration.DefaultCapacity)}, "hi")
	log := session.Narration()
	for i := 0; i < 85; i++ {
		log.Append(fmt.Sprintf("event %d", i+1))
	}

	entries := log.Entries()
	if len(entries) != narration.DefaultCapacity {
		t.Fatalf("expected %d entries, got %d", narration.DefaultCapacity, len(entries))
	}
	if entries[0].Message != "event 85" || entries[len(entries)-1].Message != "event 6" {
		t.Fatalf("unexpected window %q .. %q", entries[0].Message, entries[len(entries)-1].Message)
	}
}
