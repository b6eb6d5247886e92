package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"fieldtriage/internal/bootstrap"
	"fieldtriage/internal/config"
	"fieldtriage/internal/logging"
	"fieldtriage/internal/ports"
)

type commandContext struct {
	configFlag    string
	logLevelFlag  string
	logFormatFlag string
	backendFlag   string
	languageFlag  string

	// microphone overrides the ffmpeg capture in tests.
	microphone ports.AudioCapture

	once   sync.Once
	config config.Config
	logger *slog.Logger
	err    error
}

func (c *commandContext) ensureConfig() (config.Config, *slog.Logger, error) {
	c.once.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.err = err
			return
		}
		if c.logLevelFlag != "" {
			cfg.Log.Level = c.logLevelFlag
		}
		if c.logFormatFlag != "" {
			cfg.Log.Format = c.logFormatFlag
		}
		if c.backendFlag != "" {
			cfg.Backend.BaseURL = c.backendFlag
		}
		if c.languageFlag != "" {
			cfg.Intake.Language = c.languageFlag
		}
		if err := config.Validate(cfg); err != nil {
			c.err = err
			return
		}
		logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			c.err = err
			return
		}
		slog.SetDefault(logger)
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.logger, c.err
}

// build wires a fresh session; callers must Close the result.
func (c *commandContext) build() (bootstrap.Services, error) {
	cfg, logger, err := c.ensureConfig()
	if err != nil {
		return bootstrap.Services{}, err
	}
	return bootstrap.Build(cfg, logger, bootstrap.Options{Microphone: c.microphone})
}

func closeServices(services bootstrap.Services) {
	_ = services.Close(context.Background())
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(&commandContext{})
}

func newRootCommandWith(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fieldtriage",
		Short:         "Field intake client for multilingual triage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, _, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path (or $"+config.EnvConfigFile+")")
	flags.StringVar(&ctx.logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&ctx.logFormatFlag, "log-format", "", "Log format: auto, text, json")
	flags.StringVar(&ctx.backendFlag, "backend", "", "Triage backend base URL")
	flags.StringVarP(&ctx.languageFlag, "lang", "l", "", "Intake language: hi, en, mr, bn, ta")

	rootCmd.AddCommand(newIntakeCommand(ctx))
	rootCmd.AddCommand(newAnalyzeCommand(ctx))
	rootCmd.AddCommand(newTranscribeCommand(ctx))
	rootCmd.AddCommand(newRecordCommand(ctx))
	rootCmd.AddCommand(newSOAPCommand(ctx))

	return rootCmd
}
