package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"fieldtriage/internal/audio"
	"fieldtriage/internal/backend"
	"fieldtriage/internal/config"
	"fieldtriage/internal/narration"
	"fieldtriage/internal/observe"
	"fieldtriage/internal/ports"
	"fieldtriage/internal/report"
	"fieldtriage/internal/usecase"
	"fieldtriage/internal/viewer"
	"fieldtriage/internal/vocab"
)

// Services is the assembled runtime graph.
type Services struct {
	Config   config.Config
	Session  *usecase.Session
	Backend  *backend.Client
	Exporter *report.Exporter
	// Viewer is nil when no viewer address is configured.
	Viewer   *viewer.Server
	Provider *observe.Provider
}

// Options replaces runtime collaborators, mainly for tests.
type Options struct {
	Microphone ports.AudioCapture
}

// Build wires every dependency for one intake session.
func Build(cfg config.Config, logger *slog.Logger, opts Options) (Services, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	provider := observe.NewNoopProvider()
	if cfg.Viewer.Metrics {
		p, err := observe.NewPrometheusProvider()
		if err != nil {
			return Services{}, fmt.Errorf("metrics: %w", err)
		}
		provider = p
	}
	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return Services{}, fmt.Errorf("metrics: %w", err)
	}

	normalizer, err := vocab.Load(cfg.Intake.VocabularyFile, cfg.Intake.IterationLimit)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return Services{}, err
	}

	client := backend.NewClient(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		RequestTimeout: cfg.Backend.RequestTimeout,
		Metrics:        metrics,
		Logger:         logger,
	})

	mic := opts.Microphone
	if mic == nil {
		mic = audio.NewFFmpegMicrophone(cfg.Audio.RecorderCommand)
	}

	log := narration.NewLog(narration.DefaultCapacity,
		narration.WithLogger(logger),
		narration.WithObserver(metrics),
	)

	session, err := usecase.NewSession(usecase.SessionDeps{
		Microphone:  mic,
		Transcriber: client,
		Analyzer:    client,
		Normalizer:  normalizer,
		Narration:   log,
	}, usecase.SessionConfig{
		Language: cfg.Intake.Language,
		Capture: usecase.CaptureConfig{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			ChunkSize: cfg.Audio.ChunkSize,
			Logger:    logger,
			Metrics:   metrics,
		},
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return Services{}, err
	}

	services := Services{
		Config:   cfg,
		Session:  session,
		Backend:  client,
		Exporter: report.NewExporter(log, logger, report.PDFOptions{FontFile: cfg.Intake.SOAPFont}),
		Provider: provider,
	}
	if cfg.Viewer.Addr != "" {
		metricsHandler := provider.Handler
		if !cfg.Viewer.Metrics {
			metricsHandler = nil
		}
		services.Viewer = viewer.New(viewer.Config{
			Addr:    cfg.Viewer.Addr,
			Log:     log,
			Status:  session,
			Metrics: metricsHandler,
			Logger:  logger,
		})
	}

	logger.Debug("services wired",
		slog.String("session", session.ID()),
		slog.String("backend", client.BaseURL()),
		slog.Int("vocabulary_rules", normalizer.Rules()),
	)
	return services, nil
}

// Close releases the session and flushes metrics.
func (s Services) Close(ctx context.Context) error {
	if s.Session != nil {
		s.Session.Close()
	}
	if s.Provider == nil {
		return nil
	}
	return s.Provider.Shutdown(ctx)
}
