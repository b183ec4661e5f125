// Package main provides the jobpipe command: normalize, deduplicate and
// classify a table of job postings, resuming from the last checkpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"jobpipe/internal/config"
	"jobpipe/internal/llm"
	"jobpipe/internal/logger"
	"jobpipe/internal/pipeline"
	"jobpipe/internal/reference"
	"jobpipe/internal/report"
)

func main() {
	// 1. Define Command-Line Flags
	// ---------------------------
	configPath := flag.String("config", "", "Path to YAML config (defaults apply when empty)")
	envFile := flag.String("env", ".env", "Optional .env file with the classifier API key")
	input := flag.String("input", "", "Override pipeline.input")
	output := flag.String("output", "", "Override pipeline.output")
	checkpointPath := flag.String("checkpoint", "", "Override pipeline.checkpoint")
	workers := flag.Int("workers", 0, "Override classification.workers")
	logLevel := flag.String("log-level", "", "Override logging.level (debug, info, warn, error)")
	skip := flag.Bool("skip-classification", false, "Normalize and deduplicate only")

	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "❌ Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg := config.Default()

	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}

		cfg = loaded
	}

	applyOverride(&cfg.Pipeline.Input, *input)
	applyOverride(&cfg.Pipeline.Output, *output)
	applyOverride(&cfg.Pipeline.Checkpoint, *checkpointPath)
	applyOverride(&cfg.Logging.Level, *logLevel)

	if *workers > 0 {
		cfg.Classification.Workers = *workers
	}

	if *skip {
		cfg.Classification.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize Logger
	log := logger.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	log.Info("🚀 Starting job pipeline")
	log.Info(fmt.Sprintf("📍 Input: %s", cfg.Pipeline.Input))
	log.Info(fmt.Sprintf("🎯 Output: %s", cfg.Pipeline.Output))

	// 2. Reference data and classifier
	// --------------------------------
	ref, err := reference.Load(cfg.Reference.Path)
	if err != nil {
		log.Error(fmt.Sprintf("❌ Reference table: %v", err))
		os.Exit(1)
	}

	opts := []pipeline.Option{}

	if cfg.Classification.Enabled {
		classifier, err := llm.FromConfig(cfg)
		if err != nil {
			log.Error(fmt.Sprintf("❌ Classifier: %v", err))
			os.Exit(1)
		}

		opts = append(opts, pipeline.WithClassifier(classifier))
		log.Info(fmt.Sprintf("🤖 Model: %s (%s cache at %s)", cfg.Classification.Model, cfg.Cache.Backend, cfg.Cache.Path))
	} else {
		opts = append(opts, pipeline.WithoutClassification())
		log.Info("⏭️  Classification disabled")
	}

	if cfg.Translation.Enabled {
		translator, err := llm.TranslatorFromConfig(cfg)
		if err != nil {
			log.Error(fmt.Sprintf("❌ Translator: %v", err))
			os.Exit(1)
		}

		opts = append(opts, pipeline.WithTranslator(translator))
		log.Info(fmt.Sprintf("🌐 Title translation: %s (%s cache at %s)", cfg.Translation.Model, cfg.Translation.Cache.Backend, cfg.Translation.Cache.Path))
	}

	// 3. Run
	// ------
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, runErr := pipeline.New(cfg, ref, log, opts...).Run(ctx)

	// 4. Final Report
	// ---------------
	fmt.Println()

	if err := report.Render(os.Stdout, rec); err != nil {
		log.Warn(fmt.Sprintf("⚠️  Could not print summary: %v", err))
	}

	switch {
	case runErr == nil:
		log.Info("✨ Pipeline complete")
	case errors.Is(runErr, context.Canceled):
		log.Warn("🛑 Interrupted; progress saved, rerun to resume")
		stop()
		os.Exit(130)
	default:
		log.Error(fmt.Sprintf("❌ Pipeline failed: %v", runErr))
		stop()
		os.Exit(1)
	}
}

func applyOverride(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
