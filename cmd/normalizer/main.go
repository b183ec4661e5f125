// Package main provides the normalizer command: the pipeline without the
// classification stage. Rows are written with empty label columns and status
// "unclassified".
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"jobpipe/internal/config"
	"jobpipe/internal/logger"
	"jobpipe/internal/pipeline"
	"jobpipe/internal/reference"
	"jobpipe/internal/report"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (defaults apply when empty)")
	inputPath := flag.String("input", "", "Path to input CSV")
	outputPath := flag.String("output", "", "Path to output CSV")
	checkpointPath := flag.String("checkpoint", "", "Path to checkpoint file (default: <output>.ids)")
	flag.Parse()

	cfg := config.Default()

	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}

		cfg = loaded
	} else if *inputPath == "" || *outputPath == "" {
		fmt.Println("Usage: normalizer -input <jobs.csv> -output <jobs_normalized.csv>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if *inputPath != "" {
		cfg.Pipeline.Input = *inputPath
	}

	if *outputPath != "" {
		cfg.Pipeline.Output = *outputPath
		cfg.Pipeline.Checkpoint = *outputPath + ".ids"
	}

	if *checkpointPath != "" {
		cfg.Pipeline.Checkpoint = *checkpointPath
	}

	cfg.Classification.Enabled = false
	cfg.Translation.Enabled = false

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ref, err := reference.Load(cfg.Reference.Path)
	if err != nil {
		log.Error(fmt.Sprintf("❌ Reference table: %v", err))
		os.Exit(1)
	}

	fmt.Printf("📂 Reading: %s\n", cfg.Pipeline.Input)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, runErr := pipeline.New(cfg, ref, log, pipeline.WithoutClassification()).Run(ctx)

	if err := report.Render(os.Stdout, rec); err != nil {
		log.Warn(fmt.Sprintf("⚠️  Could not print summary: %v", err))
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			fmt.Println("🛑 Interrupted; rerun to resume")
		} else {
			log.Error(fmt.Sprintf("❌ Normalization failed: %v", runErr))
		}

		stop()
		os.Exit(1)
	}

	fmt.Printf("✅ Written: %s (%d rows)\n", cfg.Pipeline.Output, rec.Counts.Written)
}
