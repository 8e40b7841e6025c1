// -- cmd/pipeline.go --
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vkozyrev/screenpilot/api/schemas"
	"github.com/vkozyrev/screenpilot/internal/agent"
	"github.com/vkozyrev/screenpilot/internal/backend"
	"github.com/vkozyrev/screenpilot/internal/config"
	"github.com/vkozyrev/screenpilot/internal/executor"
	"github.com/vkozyrev/screenpilot/internal/resolve"
	"github.com/vkozyrev/screenpilot/internal/screen"
	"github.com/vkozyrev/screenpilot/internal/vision"
)

// loadConfig re-unmarshals the finalized configuration after flag binding.
func loadConfig(v *viper.Viper) (config.Config, error) {
	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return config.Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildAgent assembles the full pipeline from configuration: backends,
// capture, labeling, OCR, resolution, and the device executor.
func buildAgent(ctx context.Context, cfg config.Config, logger *zap.Logger) (*agent.Agent, *vision.ArtifactStore, error) {
	registry, err := backend.NewRegistry(ctx, cfg.Backends, logger)
	if err != nil {
		return nil, nil, err
	}

	artifacts := vision.NewArtifactStore(cfg.Artifacts.Dir, cfg.Artifacts.Enabled, logger)

	// Local mode needs an in-process detector, which only library embedders
	// can supply; the CLI always labels through the remote service.
	var labeler schemas.Labeler
	if cfg.Labeler.Mode == config.LabelerRemote && cfg.Labeler.Endpoint != "" {
		labeler = vision.NewRemoteLabeler(cfg.Labeler, artifacts, logger)
	}

	var finder schemas.TextFinder
	if cfg.OCR.Endpoint != "" {
		recognizer := vision.NewRemoteRecognizer(cfg.OCR, logger)
		finder = vision.NewMatcher(recognizer, cfg.OCR.MinMatchRatio, logger)
	}

	resolver := resolve.NewResolver(finder, logger)
	capturer := screen.NewCommandCapturer(cfg.Artifacts.ScreenshotDir, logger)
	dispatcher := backend.NewDispatcher(registry, capturer, labeler, resolver, cfg.Agent, logger)

	driver := executor.NewXdoDriver(logger)
	exec := executor.NewExecutor(driver, logger)

	return agent.New(dispatcher, exec, cfg.Agent, logger), artifacts, nil
}
