package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"fieldtriage/internal/audio"
	"fieldtriage/internal/backend"
	"fieldtriage/internal/bootstrap"
	"fieldtriage/internal/config"
	"fieldtriage/internal/domain"
	"fieldtriage/internal/ports"
	"fieldtriage/internal/report"
	"fieldtriage/internal/usecase"
)

type testMicrophone struct{}

func (testMicrophone) Start(context.Context, ports.AudioConfig) (ports.AudioSession, error) {
	return &testAudioSession{pcm: make([]byte, 2048), stopped: make(chan struct{})}, nil
}

// testAudioSession yields pcm once, then blocks until Stop.
type testAudioSession struct {
	mu       sync.Mutex
	pcm      []byte
	stopOnce sync.Once
	stopped  chan struct{}
}

func (s *testAudioSession) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.pcm) > 0 {
		n := copy(p, s.pcm)
		s.pcm = s.pcm[n:]
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()
	<-s.stopped
	return 0, io.EOF
}

func (s *testAudioSession) Stop() error {
	s.stopOnce.Do(func() { close(s.stopped) })
	return nil
}

func (s *testAudioSession) Close() error { return nil }

const caseJSON = `{
  "symptoms": ["chest pain", "sweating"],
  "risk_level": "High",
  "possible_risk_pattern": "possible cardiac event",
  "recommended_actions": ["Refer to PHC immediately"],
  "referral_needed": true,
  "urgent_alert": true,
  "retrieved_contexts": [{"title": "Chest pain protocol", "risk": "high", "referral": true}],
  "soap_note": {"subjective": "Chest pain", "objective": "Sweating", "assessment": "High risk", "plan": "Refer"}
}`

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"text": "seene mein dard (%s)"}`, r.FormValue("language"))
	})
	mux.HandleFunc("/analyze_case", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if strings.Contains(body.Text, "explode") {
			http.Error(w, "model offline", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, caseJSON)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestApp(t *testing.T, backendURL string) (*App, *usecase.Session, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Backend.BaseURL = backendURL
	cfg.Viewer.Metrics = false
	cfg.Intake.SOAPFile = filepath.Join(t.TempDir(), "soap_note.pdf")

	services, err := bootstrap.Build(cfg, nil, bootstrap.Options{Microphone: testMicrophone{}})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(func() { _ = services.Close(context.Background()) })

	var out bytes.Buffer
	app := NewApp(services.Session, services.Exporter, &out, AppOptions{SOAPPath: cfg.Intake.SOAPFile})
	return app, services.Session, &out
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err  error
		want string
	}{
		"blank":       {usecase.ErrBlankIntake, "Nothing to submit: the draft is empty."},
		"in flight":   {usecase.ErrSubmissionInFlight, "A case is already being analyzed."},
		"closed":      {usecase.ErrSessionClosed, "The session is closed."},
		"recording":   {usecase.ErrAlreadyRecording, "Already recording."},
		"not running": {usecase.ErrNotRecording, "Not recording."},
		"busy":        {usecase.ErrSessionBusy, "Finish recording or analysis first."},
		"no audio":    {usecase.ErrNoAudio, "The recording captured no audio."},
		"no note":     {report.ErrEmptyNote, "The case has no SOAP note to export."},
		"language":    {fmt.Errorf("%w: %q", usecase.ErrUnsupportedLanguage, "fr"), "Unsupported language; choose one of hi, en, mr, bn, ta."},
		"analysis":    {&backend.AnalysisError{Status: 500, Detail: "model offline"}, "Analysis failed: model offline"},
		"other":       {errors.New("boom"), "boom"},
		"device":      {fmt.Errorf("%w: %w", usecase.ErrDeviceUnavailable, errors.New("busy")), "Microphone unavailable: busy"},
		"no device":   {fmt.Errorf("%w: no microphone configured", usecase.ErrDeviceUnavailable), "Microphone unavailable: no microphone configured"},
		"bare device": {usecase.ErrDeviceUnavailable, "Microphone unavailable."},
		"ffmpeg device": {
			fmt.Errorf("%w: %w", usecase.ErrDeviceUnavailable, &audio.DeviceError{Device: "default", Reason: "permission denied"}),
			`Microphone "default" unavailable: permission denied`,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(tc.err); got != tc.want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}
}

func TestOutcomeMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.TranscriptOutcome]string{
		domain.TranscriptRecognized:  "transcript added to the draft",
		domain.TranscriptNoSpeech:    "no speech detected",
		domain.TranscriptServerError: "the server could not transcribe the recording",
		domain.TranscriptFailed:      "upload failed",
	}
	for outcome, want := range cases {
		if got := outcomeMessage(outcome); got != want {
			t.Fatalf("outcomeMessage(%s) = %q", outcome, got)
		}
	}
}

func TestAppDraftCommands(t *testing.T) {
	t.Parallel()

	app, session, out := newTestApp(t, "http://127.0.0.1:1")
	ctx := context.Background()

	app.Handle(ctx, "fever for three days")
	app.Handle(ctx, "  cough  ")
	if got := session.Draft().Text(); got != "fever for three days\ncough" {
		t.Fatalf("unexpected draft %q", got)
	}

	app.Handle(ctx, ":show")
	if !strings.Contains(out.String(), "fever for three days") {
		t.Fatalf("show did not print draft:\n%s", out.String())
	}

	app.Handle(ctx, ":clear")
	if session.Draft().Text() != "" {
		t.Fatal("expected cleared draft")
	}

	app.Handle(ctx, ":lang mr")
	if session.Language() != "mr" {
		t.Fatalf("expected language mr, got %q", session.Language())
	}

	out.Reset()
	app.Handle(ctx, ":lang fr")
	app.Handle(ctx, ":submit")
	app.Handle(ctx, ":stop")
	app.Handle(ctx, ":soap")
	app.Handle(ctx, ":bogus")
	for _, want := range []string{
		"Unsupported language",
		"Nothing to submit",
		"Not recording.",
		"No analyzed case to export yet.",
		`Unknown command "bogus"`,
	} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}

	if !app.Handle(ctx, ":quit") {
		t.Fatal("expected :quit to end the loop")
	}
}

func TestAppRecordTranscribeSubmitExport(t *testing.T) {
	t.Parallel()

	server := newBackend(t)
	app, session, out := newTestApp(t, server.URL)
	ctx := context.Background()

	app.Handle(ctx, ":lang bn")
	app.Handle(ctx, ":record")
	if session.Status().Capture.State != domain.CaptureRecording {
		t.Fatalf("expected recording, output:\n%s", out.String())
	}
	app.Handle(ctx, ":stop")
	if got := session.Draft().Text(); got != "seene mein dard (bn)" {
		t.Fatalf("unexpected draft %q", got)
	}

	app.Handle(ctx, ":submit")
	state := session.State()
	if state.Phase != domain.PhaseDone || state.Result == nil || state.Result.RiskLevel != domain.RiskHigh {
		t.Fatalf("unexpected state %+v", state)
	}
	for _, want := range []string{report.UrgentBanner, "Chest pain protocol", "Agent D"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}

	path := filepath.Join(t.TempDir(), "case.pdf")
	app.Handle(ctx, ":soap "+path)
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Fatalf("expected SOAP export at %s: %v", path, err)
	}

	out.Reset()
	app.Handle(ctx, ":log")
	for _, want := range []string{"Recording started (bn)", "Transcription completed", "Completed risk classification"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("narration missing %q:\n%s", want, out.String())
		}
	}
}

func TestAppSubmitFailureShowsDetail(t *testing.T) {
	t.Parallel()

	server := newBackend(t)
	app, session, out := newTestApp(t, server.URL)
	ctx := context.Background()

	app.Handle(ctx, "patient says it will explode")
	app.Handle(ctx, ":submit")
	if !strings.Contains(out.String(), "Analysis failed: model offline") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
	state := session.State()
	if state.Phase != domain.PhaseFailed || state.Error != "model offline" {
		t.Fatalf("unexpected state %+v", state)
	}

	out.Reset()
	app.Handle(ctx, ":status")
	if !strings.Contains(out.String(), "Last error: model offline") {
		t.Fatalf("status missing error:\n%s", out.String())
	}
}

func TestAppRunStopsAtEndOfInput(t *testing.T) {
	t.Parallel()

	app, session, out := newTestApp(t, "http://127.0.0.1:1")
	if err := app.Run(context.Background(), strings.NewReader("dizziness\n:show\n")); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if session.Draft().Text() != "dizziness" {
		t.Fatalf("unexpected draft %q", session.Draft().Text())
	}
	if !strings.Contains(out.String(), "Session "+session.ID()) {
		t.Fatalf("missing greeting:\n%s", out.String())
	}
}
