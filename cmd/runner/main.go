package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/feichai0017/ocr-batch/config"
	"github.com/feichai0017/ocr-batch/internal/batch"
	"github.com/feichai0017/ocr-batch/internal/engine"
	"github.com/feichai0017/ocr-batch/internal/enumerate"
	"github.com/feichai0017/ocr-batch/internal/guard"
	"github.com/feichai0017/ocr-batch/internal/ledger"
	"github.com/feichai0017/ocr-batch/internal/models"
	"github.com/feichai0017/ocr-batch/pkg/converters"
	"github.com/feichai0017/ocr-batch/pkg/logger"
	"github.com/feichai0017/ocr-batch/pkg/sink"
)

func main() {
	var (
		inputDir    = flag.String("input", "", "directory to process (required)")
		configPath  = flag.String("config", "", "YAML config file")
		ledgerPath  = flag.String("ledger", "", "progress ledger path (overrides config)")
		outputDir   = flag.String("output", "", "result output directory (overrides config)")
		engineName  = flag.String("engine", "", "engine backend: tesseract, textract, pdftext")
		sinkName    = flag.String("sink", "", "result sink: local, s3, minio, none")
		extList     = flag.String("ext", "", "comma-separated file extensions")
		batchSize   = flag.Int("batch-size", 0, "items between memory checks")
		chunkSize   = flag.Int("chunk-size", 0, "items per engine handle")
		memoryMB    = flag.Int("memory-mb", 0, "RSS threshold for forced reclamation")
		itemTimeout = flag.Duration("item-timeout", 0, "per-item timeout, 0 disables")
		resetLedger = flag.Bool("reset-ledger", false, "discard previous progress before running")
		logLevel    = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	if *inputDir == "" {
		fmt.Fprintln(os.Stderr, "error: -input is required")
		flag.Usage()
		os.Exit(2)
	}

	log, err := logger.NewLogger(
		logger.WithLevel(*logLevel),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stderr", "logs/runner.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.LoadBatchConfig(*configPath)
	if err != nil {
		log.Fatal("Failed to load config", logger.Error(err))
	}
	applyOverrides(cfg, *ledgerPath, *outputDir, *engineName, *sinkName, *extList, *batchSize, *chunkSize, *memoryMB, *itemTimeout)

	summary, err := run(cfg, *inputDir, *resetLedger, log)
	if err != nil {
		log.Error("Run aborted", logger.Error(err))
		fmt.Fprintf(os.Stderr, "aborted: %v\n", err)
		os.Exit(1)
	}

	printSummary(summary)

	if summary.Failed > 0 {
		os.Exit(1)
	}
}

func run(cfg *config.BatchConfig, inputDir string, resetLedger bool, log logger.Logger) (*models.Summary, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SIGINT/SIGTERM request cancellation between items; progress so far
	// stays in the ledger and the next run resumes from it.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutdown requested, finishing current item...")
		cancel()
	}()

	items, err := enumerate.Enumerate(inputDir, cfg.ExtensionSet())
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		log.Warn("No matching files found", logger.String("input", inputDir))
	}

	led, err := ledger.NewFileLedger(cfg.LedgerPath)
	if err != nil {
		return nil, err
	}
	defer led.Close()

	if resetLedger {
		if err := led.Reset(); err != nil {
			return nil, err
		}
		log.Info("Ledger reset", logger.String("path", cfg.LedgerPath))
	}

	resourceGuard, err := guard.NewProcessGuard()
	if err != nil {
		return nil, err
	}

	factory, err := engine.NewFactory(cfg.Engine, cfg, log)
	if err != nil {
		return nil, err
	}

	var snk sink.Sink
	if cfg.Sink != "" && cfg.Sink != "none" {
		snk, err = sink.NewSink(sink.SinkType(cfg.Sink), cfg.OutputDir, log)
		if err != nil {
			return nil, err
		}
	}

	processor, err := batch.NewProcessor(
		batch.Config{
			BatchSize:            cfg.BatchSize,
			ChunkSize:            cfg.ChunkSize,
			MemoryThresholdBytes: cfg.MemoryThresholdBytes(),
			ItemTimeout:          time.Duration(cfg.ItemTimeout),
		},
		factory, led, resourceGuard, snk, log,
	)
	if err != nil {
		return nil, err
	}

	summary, err := processor.Run(ctx, items, func(ctx context.Context, eng engine.Engine, item models.Item) (*models.Result, error) {
		return eng.Recognize(ctx, item.Path)
	})
	if err != nil {
		if errors.Is(err, models.ErrLedgerCorrupt) {
			return nil, fmt.Errorf("%w (use -reset-ledger to discard previous progress)", err)
		}
		return nil, err
	}

	return summary, nil
}

func applyOverrides(cfg *config.BatchConfig, ledgerPath, outputDir, engineName, sinkName, extList string,
	batchSize, chunkSize, memoryMB int, itemTimeout time.Duration) {
	if ledgerPath != "" {
		cfg.LedgerPath = ledgerPath
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if engineName != "" {
		cfg.Engine = engineName
	}
	if sinkName != "" {
		cfg.Sink = sinkName
	}
	if extList != "" {
		cfg.Extensions = strings.Split(extList, ",")
	}
	if batchSize > 0 {
		cfg.BatchSize = batchSize
	}
	if chunkSize > 0 {
		cfg.ChunkSize = chunkSize
	}
	if memoryMB > 0 {
		cfg.MemoryThresholdMB = memoryMB
	}
	if itemTimeout > 0 {
		cfg.ItemTimeout = config.Duration(itemTimeout)
	}
}

func printSummary(summary *models.Summary) {
	for _, failure := range summary.Failures {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", failure.Path, failure.Error)
	}

	report, err := converters.NewReportConverter().Convert(summary)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build report: %v\n", err)
		return
	}

	fmt.Printf("run:        %s\n", report.RunID)
	fmt.Printf("status:     %s\n", report.Status)
	fmt.Printf("total:      %d\n", report.Totals.Total)
	fmt.Printf("processed:  %d\n", report.Totals.Processed)
	fmt.Printf("skipped:    %d\n", report.Totals.Skipped)
	fmt.Printf("failed:     %d\n", report.Totals.Failed)
	fmt.Printf("rate:       %s\n", report.SuccessRate)
	fmt.Printf("elapsed:    %dms\n", report.ElapsedMs)
}
