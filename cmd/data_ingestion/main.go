package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ThiagoRGoveia/ev-turnout/internal/config"
	"github.com/ThiagoRGoveia/ev-turnout/internal/database"
	"github.com/ThiagoRGoveia/ev-turnout/internal/ingestion"
	"github.com/ThiagoRGoveia/ev-turnout/internal/logging"
	"github.com/ThiagoRGoveia/ev-turnout/internal/metrics"
	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
	"github.com/ThiagoRGoveia/ev-turnout/internal/normalize"
)

type cycleFlag []models.Cycle

func (c *cycleFlag) String() string {
	parts := make([]string, len(*c))
	for i, cycle := range *c {
		parts[i] = cycle.String()
	}
	return strings.Join(parts, ",")
}

func (c *cycleFlag) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		cycle, err := models.ParseCycle(part)
		if err != nil {
			return err
		}
		*c = append(*c, cycle)
	}
	return nil
}

func setup(ctx context.Context) (*ingestion.IngestionService, []models.Cycle, bool, *slog.Logger, func(), error) {
	var cycles cycleFlag
	force := flag.Bool("force", false, "re-ingest cycles whose files were already processed")
	flag.Var(&cycles, "cycle", "cycle to ingest as year/party, repeatable or comma separated (default: all configured cycles)")
	flag.Parse()

	cfg, err := config.New()
	if err != nil {
		return nil, nil, false, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if len(cycles) == 0 {
		cycles = cfg.Election.CycleList()
	}

	dbManager, err := database.Open(ctx, cfg.DatabaseType, cfg.DatabaseURL, cfg.DBBatchSize, logger)
	if err != nil {
		return nil, nil, false, nil, nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := dbManager.CreateTables(ctx); err != nil {
		dbManager.Close()
		return nil, nil, false, nil, nil, fmt.Errorf("failed to create tables: %w", err)
	}

	m := metrics.New(prometheus.NewRegistry())
	normalizer := normalize.New(cfg.Election, logger, normalize.WithRecorder(m))
	assigner := ingestion.DayAssigner{
		CurrentYear:      cfg.Election.CurrentYear,
		EarlyVotingStart: cfg.Election.EarlyVotingStartDate(),
	}

	fileProcessor := ingestion.NewFileProcessor(dbManager, logger)
	worker := ingestion.NewCycleWorker(dbManager, fileProcessor, assigner, normalizer, m, logger, ingestion.WorkerConfig{
		DBBatchSize: cfg.DBBatchSize,
		Delimiter:   rune(cfg.CSVDelimiter[0]),
	})
	service := ingestion.NewIngestionService(fileProcessor, worker, *cfg, m, logger)

	return service, cycles, *force, logger, dbManager.Close, nil
}

func main() {
	startTime := time.Now()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service, cycles, force, logger, cleanup, err := setup(ctx)
	if err != nil {
		slog.Error("setup failed", "error", err)
		os.Exit(1)
	}

	logger.Info("starting ingestion", "cycles", len(cycles), "force", force)
	reports, err := service.Execute(ctx, cycles, force)
	for _, report := range reports {
		if report == nil {
			continue
		}
		logger.Info("cycle report",
			"cycle", report.Cycle.String(),
			"dir", report.Dir,
			"files", report.Files,
			"rows_read", report.RowsRead,
			"records_written", report.RecordsWritten,
			"row_errors", report.RowErrors,
			"skipped", report.Skipped,
			"elapsed", report.Elapsed,
		)
	}

	logger.Info("cleaning up resources")
	cleanup()

	elapsed := time.Since(startTime)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("ingestion interrupted", "elapsed", elapsed)
		} else {
			logger.Error("ingestion finished with errors", "error", err, "elapsed", elapsed)
		}
		os.Exit(1)
	}
	logger.Info("ingestion finished", "elapsed", elapsed)
}
