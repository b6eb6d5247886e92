package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fieldtriage/internal/agents"
	"fieldtriage/internal/domain"
	"fieldtriage/internal/logging"
	"fieldtriage/internal/report"
	"fieldtriage/internal/usecase"
)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func printerFor(cmd *cobra.Command) report.Printer {
	return report.Printer{Color: logging.IsTerminal(cmd.OutOrStdout())}
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newIntakeCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "intake",
		Short: "Run an interactive intake session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := ctx.build()
			if err != nil {
				return err
			}
			defer closeServices(services)

			runCtx, stop := signalContext(cmd)
			defer stop()
			g, gctx := errgroup.WithContext(runCtx)
			gctx, cancel := context.WithCancel(gctx)
			defer cancel()

			app := NewApp(services.Session, services.Exporter, cmd.OutOrStdout(), AppOptions{
				Printer:  printerFor(cmd),
				SOAPPath: services.Config.Intake.SOAPFile,
				Follow:   follow,
				Prompt:   logging.IsTerminal(cmd.InOrStdin()),
				Logger:   ctx.logger,
			})

			if services.Viewer != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Log viewer on http://%s/api/narration\n", services.Config.Viewer.Addr)
				g.Go(func() error { return services.Viewer.Run(gctx) })
			}
			g.Go(func() error {
				defer cancel()
				return app.Run(gctx, cmd.InOrStdin())
			})
			return g.Wait()
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", true, "Print narration as it happens")
	return cmd
}

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var soapPath string
	cmd := &cobra.Command{
		Use:   "analyze [text|-]",
		Short: "Analyze one intake text and print the case summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" || text == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read intake: %w", err)
				}
				text = string(data)
			}

			services, err := ctx.build()
			if err != nil {
				return err
			}
			defer closeServices(services)

			runCtx, stop := signalContext(cmd)
			defer stop()

			services.Session.Draft().Set(text)
			state, err := services.Session.Submit(runCtx)
			if err != nil {
				return errors.New(errorMessage(err))
			}

			if jsonOutput {
				if err := writeJSON(cmd, state); err != nil {
					return err
				}
			} else {
				printer := printerFor(cmd)
				if err := printer.RenderCase(cmd.OutOrStdout(), *state.Result); err != nil {
					return err
				}
				if err := printer.RenderBoard(cmd.OutOrStdout(), agents.Project(state)); err != nil {
					return err
				}
			}

			if soapPath != "" {
				if err := services.Exporter.Export(soapPath, state.Result); err != nil {
					return errors.New(errorMessage(err))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the orchestrator state as JSON")
	cmd.Flags().StringVar(&soapPath, "soap", "", "Also export the SOAP note as PDF to this path")
	return cmd
}

type transcriptOutput struct {
	Outcome domain.TranscriptOutcome `json:"outcome"`
	Text    string                   `json:"text,omitempty"`
	Detail  string                   `json:"detail,omitempty"`
}

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Upload an audio file and print the normalized transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			artifact := domain.AudioArtifact{
				Data:        data,
				FileName:    filepath.Base(args[0]),
				ContentType: contentTypeFor(args[0]),
			}

			services, err := ctx.build()
			if err != nil {
				return err
			}
			defer closeServices(services)

			runCtx, stop := signalContext(cmd)
			defer stop()

			outcome, err := services.Session.Transcribe(runCtx, artifact)
			if err != nil {
				return errors.New(errorMessage(err))
			}
			return printTranscript(cmd, services.Session, outcome, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the outcome as JSON")
	return cmd
}

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var submit bool
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the microphone until Enter, then transcribe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			services, err := ctx.build()
			if err != nil {
				return err
			}
			defer closeServices(services)

			runCtx, stop := signalContext(cmd)
			defer stop()

			session := services.Session
			if err := session.StartRecording(runCtx); err != nil {
				return errors.New(errorMessage(err))
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Recording (%s)… press Enter to stop.\n", session.Language())
			waitForLine(runCtx, cmd.InOrStdin())
			if err := runCtx.Err(); err != nil {
				return err
			}

			outcome, err := session.StopAndTranscribe(context.WithoutCancel(runCtx))
			if err != nil {
				return errors.New(errorMessage(err))
			}
			if err := printTranscript(cmd, session, outcome, false); err != nil || !submit {
				return err
			}

			state, err := session.Submit(runCtx)
			if err != nil {
				return errors.New(errorMessage(err))
			}
			return printerFor(cmd).RenderCase(cmd.OutOrStdout(), *state.Result)
		},
	}
	cmd.Flags().BoolVar(&submit, "submit", false, "Analyze the transcript after recording")
	return cmd
}

func newSOAPCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "soap <case.json|-> [out.pdf]",
		Short: "Render the SOAP note of a saved analysis as PDF",
		Long:  "Reads the output of `analyze --json` (or a bare case result) and writes its SOAP note.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			result, err := decodeCase(data)
			if err != nil {
				return err
			}

			cfg, logger, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.Intake.SOAPFile
			if len(args) == 2 {
				path = args[1]
			}
			if err := report.NewExporter(nil, logger, report.PDFOptions{FontFile: cfg.Intake.SOAPFont}).Export(path, result); err != nil {
				return errors.New(errorMessage(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "SOAP note written to %s.\n", path)
			return nil
		},
	}
	return cmd
}

// decodeCase accepts an orchestrator state or a bare case result.
func decodeCase(data []byte) (*domain.CaseResult, error) {
	var state domain.OrchestratorState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode case: %w", err)
	}
	if state.Result != nil {
		return state.Result, nil
	}
	var result domain.CaseResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode case: %w", err)
	}
	return &result, nil
}

func printTranscript(cmd *cobra.Command, session *usecase.Session, outcome domain.TranscriptOutcome, jsonOutput bool) error {
	out := transcriptOutput{Outcome: outcome}
	if outcome == domain.TranscriptRecognized {
		out.Text = session.Draft().Text()
	} else if entries := session.Narration().Entries(); len(entries) > 0 {
		out.Detail = entries[0].Message
	}

	if jsonOutput {
		if err := writeJSON(cmd, out); err != nil {
			return err
		}
	} else if out.Text != "" {
		fmt.Fprintln(cmd.OutOrStdout(), out.Text)
	}

	switch outcome {
	case domain.TranscriptRecognized:
		return nil
	case domain.TranscriptNoSpeech:
		if !jsonOutput {
			fmt.Fprintln(cmd.ErrOrStderr(), "No speech detected.")
		}
		return nil
	default:
		return fmt.Errorf("transcription %s: %s", outcome, out.Detail)
	}
}

func waitForLine(ctx context.Context, in io.Reader) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = bufio.NewReader(in).ReadString('\n')
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
