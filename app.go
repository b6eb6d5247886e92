package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"fieldtriage/internal/agents"
	"fieldtriage/internal/audio"
	"fieldtriage/internal/backend"
	"fieldtriage/internal/domain"
	"fieldtriage/internal/logging"
	"fieldtriage/internal/report"
	"fieldtriage/internal/usecase"
)

const helpText = `Type intake notes line by line; each line is appended to the draft.
Commands:
  :record        start recording in the session language
  :stop          stop recording and transcribe into the draft
  :submit        analyze the draft
  :clear         clear the draft
  :lang <tag>    switch language (hi, en, mr, bn, ta)
  :show          print the draft
  :log           print the narration log, newest first
  :soap [path]   export the SOAP note of the last case as PDF
  :status        print the agent board
  :quit          leave`

// AppOptions configures the interactive intake loop.
type AppOptions struct {
	Printer  report.Printer
	SOAPPath string
	// Follow prints narration entries as they are appended.
	Follow bool
	Prompt bool
	Logger *slog.Logger
}

// App is the interactive intake front end over one session.
type App struct {
	session  *usecase.Session
	exporter *report.Exporter
	printer  report.Printer
	soapPath string
	follow   bool
	prompt   bool
	logger   *slog.Logger

	outMu sync.Mutex
	out   io.Writer
}

func NewApp(session *usecase.Session, exporter *report.Exporter, out io.Writer, opts AppOptions) *App {
	return &App{
		session:  session,
		exporter: exporter,
		printer:  opts.Printer,
		soapPath: opts.SOAPPath,
		follow:   opts.Follow,
		prompt:   opts.Prompt,
		logger:   logging.Component(opts.Logger, "app"),
		out:      out,
	}
}

// Run reads lines from in until :quit, end of input, or ctx ends.
func (a *App) Run(ctx context.Context, in io.Reader) error {
	if a.follow {
		_, updates, cancel := a.session.Narration().Subscribe(0)
		defer cancel()
		go func() {
			for entry := range updates {
				a.printf("  · %s\n", entry.Message)
			}
		}()
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	a.printf("Session %s (%s). Type :help for commands.\n", a.session.ID(), a.session.Language())
	for {
		if a.prompt {
			a.printf("> ")
		}
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if a.Handle(ctx, line) {
				return nil
			}
		}
	}
}

// Handle processes one input line and reports whether the loop should end.
func (a *App) Handle(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if !strings.HasPrefix(trimmed, ":") {
		a.session.Draft().Append(trimmed)
		return false
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(trimmed, ":"), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "record":
		if err := a.session.StartRecording(ctx); err != nil {
			a.fail(err)
			return false
		}
		a.printf("Recording… type :stop when done.\n")
	case "stop":
		a.stop(ctx)
	case "submit":
		a.submit(ctx)
	case "clear":
		a.session.Draft().Clear()
	case "lang":
		if err := a.session.SetLanguage(arg); err != nil {
			a.fail(err)
			return false
		}
		a.printf("Language set to %s.\n", a.session.Language())
	case "show":
		a.showDraft()
	case "log":
		a.render(func(w io.Writer) error {
			return a.printer.RenderNarration(w, a.session.Narration().Entries())
		})
	case "soap":
		a.exportSOAP(arg)
	case "status":
		a.status()
	case "help", "h", "?":
		a.printf("%s\n", helpText)
	case "quit", "q", "exit":
		return true
	default:
		a.printf("Unknown command %q. Type :help for commands.\n", name)
	}
	return false
}

func (a *App) stop(ctx context.Context) {
	outcome, err := a.session.StopAndTranscribe(ctx)
	if err != nil {
		a.fail(err)
		return
	}
	a.printf("Transcription: %s\n", outcomeMessage(outcome))
	if outcome == domain.TranscriptRecognized {
		a.showDraft()
	}
}

func (a *App) submit(ctx context.Context) {
	state, err := a.session.Submit(ctx)
	if err != nil {
		a.fail(err)
		return
	}
	if state.Result != nil {
		a.render(func(w io.Writer) error { return a.printer.RenderCase(w, *state.Result) })
	}
	a.render(func(w io.Writer) error { return a.printer.RenderBoard(w, agents.Project(state)) })
}

func (a *App) exportSOAP(path string) {
	state := a.session.State()
	if state.Phase != domain.PhaseDone || state.Result == nil {
		a.printf("No analyzed case to export yet.\n")
		return
	}
	if path == "" {
		path = a.soapPath
	}
	if err := a.exporter.Export(path, state.Result); err != nil {
		a.fail(err)
		return
	}
	if path == "" {
		path = report.DefaultSOAPFile
	}
	a.printf("SOAP note written to %s.\n", path)
}

func (a *App) status() {
	status := a.session.Status()
	a.printf("Language: %s  Microphone: %s  Phase: %s\n",
		status.Capture.Language, status.Capture.State, status.Orchestrator.Phase)
	if status.Orchestrator.Error != "" {
		a.printf("Last error: %s\n", status.Orchestrator.Error)
	}
	a.render(func(w io.Writer) error {
		return a.printer.RenderBoard(w, agents.Project(status.Orchestrator))
	})
}

func (a *App) showDraft() {
	text := a.session.Draft().Text()
	if text == "" {
		a.printf("(draft is empty)\n")
		return
	}
	a.printf("%s\n", text)
}

func (a *App) fail(err error) {
	a.logger.Debug("command failed", slog.Any("error", err))
	a.printf("%s\n", errorMessage(err))
}

func (a *App) render(fn func(io.Writer) error) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	if err := fn(a.out); err != nil {
		a.logger.Warn("render failed", slog.Any("error", err))
	}
}

func (a *App) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

func outcomeMessage(outcome domain.TranscriptOutcome) string {
	switch outcome {
	case domain.TranscriptRecognized:
		return "transcript added to the draft"
	case domain.TranscriptNoSpeech:
		return "no speech detected"
	case domain.TranscriptServerError:
		return "the server could not transcribe the recording"
	case domain.TranscriptFailed:
		return "upload failed"
	default:
		return string(outcome)
	}
}

func errorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, usecase.ErrBlankIntake):
		return "Nothing to submit: the draft is empty."
	case errors.Is(err, usecase.ErrSubmissionInFlight):
		return "A case is already being analyzed."
	case errors.Is(err, usecase.ErrSessionClosed):
		return "The session is closed."
	case errors.Is(err, usecase.ErrAlreadyRecording):
		return "Already recording."
	case errors.Is(err, usecase.ErrNotRecording):
		return "Not recording."
	case errors.Is(err, usecase.ErrNoAudio):
		return "The recording captured no audio."
	case errors.Is(err, usecase.ErrSessionBusy):
		return "Finish recording or analysis first."
	case errors.Is(err, usecase.ErrUnsupportedLanguage):
		return "Unsupported language; choose one of " + strings.Join(domain.SupportedLanguages, ", ") + "."
	case errors.Is(err, usecase.ErrDeviceUnavailable):
		return deviceMessage(err)
	case errors.Is(err, report.ErrEmptyNote):
		return "The case has no SOAP note to export."
	case errors.Is(err, backend.ErrAnalysisFailed):
		return "Analysis failed: " + err.Error()
	default:
		return err.Error()
	}
}

// deviceMessage names the failing input device once, without repeating the
// sentinel text that wraps it.
func deviceMessage(err error) string {
	var deviceErr *audio.DeviceError
	if errors.As(err, &deviceErr) {
		reason := deviceErr.Reason
		if reason == "" && deviceErr.Err != nil {
			reason = deviceErr.Err.Error()
		}
		if reason == "" {
			return fmt.Sprintf("Microphone %q unavailable.", deviceErr.Device)
		}
		return fmt.Sprintf("Microphone %q unavailable: %s", deviceErr.Device, reason)
	}
	detail := strings.TrimPrefix(err.Error(), usecase.ErrDeviceUnavailable.Error())
	detail = strings.TrimLeft(detail, ": ")
	if detail == "" {
		return "Microphone unavailable."
	}
	return "Microphone unavailable: " + detail
}
