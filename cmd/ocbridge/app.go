package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/ocbridge/internal/config"
	"github.com/ehr/ocbridge/internal/platform/openclinica"
)

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	logger := zerolog.New(out).With().Timestamp().Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// loadRemote loads the configuration and builds the OpenClinica client
// for the CLI commands. Logs go to stderr so stdout stays clean.
func loadRemote(opts ...openclinica.Option) (*config.Config, zerolog.Logger, *openclinica.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	logger := newLogger(cfg, os.Stderr)
	if err := cfg.ValidateRemote(); err != nil {
		return nil, logger, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	client, err := newClient(cfg, logger, opts...)
	return cfg, logger, client, err
}

func newClient(cfg *config.Config, logger zerolog.Logger, extra ...openclinica.Option) (*openclinica.Client, error) {
	opts := []openclinica.Option{
		openclinica.WithLogger(logger.With().Str("component", "openclinica").Logger()),
		openclinica.WithTimeout(cfg.OCTimeout),
	}
	if cfg.OCPasswordHashed {
		opts = append(opts, openclinica.WithHashedPassword())
	}
	if !cfg.OCSubmitDate {
		opts = append(opts, openclinica.WithoutSubmitDate())
	}
	opts = append(opts, extra...)

	client, err := openclinica.New(cfg.OCWebServicesURL, cfg.OCUsername, cfg.OCPassword, opts...)
	if err != nil {
		return nil, fmt.Errorf("openclinica client: %w", err)
	}
	return client, nil
}
