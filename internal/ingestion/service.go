package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ThiagoRGoveia/ev-turnout/internal/config"
	"github.com/ThiagoRGoveia/ev-turnout/internal/metrics"
	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

type IngestionService struct {
	fileProcessor Processor
	worker        Worker
	config        config.Config
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

func NewIngestionService(processor Processor, worker Worker, cfg config.Config, m *metrics.Metrics, logger *slog.Logger) *IngestionService {
	return &IngestionService{
		fileProcessor: processor,
		worker:        worker,
		config:        cfg,
		metrics:       m,
		logger:        logger.With("component", "ingestion"),
	}
}

// CycleDir returns the directory holding a cycle's daily files: the per-cycle override from the
// election settings, or <DATA_DIR>/<year>/primary/<party>.
func (h *IngestionService) CycleDir(cycle models.Cycle) string {
	if dir := h.config.Election.CycleDir(cycle); dir != "" {
		return dir
	}
	return filepath.Join(h.config.DataDir, strconv.Itoa(cycle.Year), "primary", string(cycle.Party))
}

// Execute ingests the given cycles concurrently, at most NumCycleWorkers at a time. A cycle
// whose files are all already processed is skipped unless force is set. A failing cycle does
// not stop the others; their errors are joined into the returned error.
func (h *IngestionService) Execute(ctx context.Context, cycles []models.Cycle, force bool) ([]*CycleReport, error) {
	runID := uuid.NewString()
	log := h.logger.With("run_id", runID)
	log.Info("ingestion started", "cycles", len(cycles), "force", force)

	reports := make([]*CycleReport, len(cycles))
	var (
		mu   sync.Mutex
		errs []error
	)

	g := new(errgroup.Group)
	g.SetLimit(h.config.NumCycleWorkers)
	for i, cycle := range cycles {
		g.Go(func() error {
			start := time.Now()
			report, status, err := h.executeCycle(ctx, cycle, force, log.With("year", cycle.Year, "party", string(cycle.Party)))
			elapsed := time.Since(start)
			h.metrics.ObserveCycle(cycle, status, elapsed)
			if report != nil {
				report.Elapsed = elapsed
			}
			reports[i] = report
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		log.Error("ingestion finished with errors", "failed_cycles", len(errs), "error", err)
	} else {
		log.Info("ingestion finished")
	}
	return reports, err
}

func (h *IngestionService) executeCycle(ctx context.Context, cycle models.Cycle, force bool, log *slog.Logger) (*CycleReport, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "failed", err
	}

	dir := h.CycleDir(cycle)
	files, err := h.fileProcessor.ScanForFiles(dir)
	if err != nil {
		return nil, "failed", fmt.Errorf("cycle %s: %w", cycle, err)
	}
	if len(files) == 0 {
		return nil, "failed", fmt.Errorf("cycle %s: %w", cycle, &models.EmptyDatasetError{Dir: dir})
	}

	if !force {
		done, err := h.fileProcessor.AllProcessed(ctx, cycle, files)
		if err != nil {
			return nil, "failed", fmt.Errorf("cycle %s: %w", cycle, err)
		}
		if done {
			log.Info("cycle unchanged since last run, skipping", "files", len(files))
			return &CycleReport{Cycle: cycle, Dir: dir, Files: len(files), Skipped: true}, "skipped", nil
		}
	}

	report, err := h.worker.Process(ctx, CycleJob{Cycle: cycle, Dir: dir, Files: files})
	if err != nil {
		return report, "failed", err
	}
	return report, "done", nil
}
