package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/ThiagoRGoveia/ev-turnout/internal/database"
	"github.com/ThiagoRGoveia/ev-turnout/internal/metrics"
	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
	"github.com/ThiagoRGoveia/ev-turnout/internal/normalize"
	"github.com/ThiagoRGoveia/ev-turnout/internal/parser"
)

// Worker ingests one cycle end to end.
type Worker interface {
	Process(ctx context.Context, job CycleJob) (*CycleReport, error)
}

// CycleJob is one cycle's directory and the files found in it.
type CycleJob struct {
	Cycle models.Cycle
	Dir   string
	Files []models.FileInfo
}

// CycleReport summarises one cycle ingestion.
type CycleReport struct {
	Cycle          models.Cycle  `json:"cycle"`
	Dir            string        `json:"dir"`
	Files          int           `json:"files"`
	RowsRead       int           `json:"rows_read"`
	RecordsWritten int           `json:"records_written"`
	RowErrors      int           `json:"row_errors"`
	Skipped        bool          `json:"skipped"`
	Elapsed        time.Duration `json:"elapsed"`
	Calendar       *Calendar     `json:"-"`
}

type WorkerConfig struct {
	DBBatchSize int
	Delimiter   rune
}

// CycleWorker runs reader, day assigner, voter-file enrichment and normalizer over one cycle
// and replaces the cycle's stored records with the result.
type CycleWorker struct {
	config     WorkerConfig
	dbManager  database.DBManager
	processor  Processor
	assigner   DayAssigner
	normalizer *normalize.Normalizer
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewCycleWorker(
	dbManager database.DBManager,
	processor Processor,
	assigner DayAssigner,
	normalizer *normalize.Normalizer,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg WorkerConfig,
) *CycleWorker {
	if cfg.DBBatchSize <= 0 {
		cfg.DBBatchSize = 5000
	}
	return &CycleWorker{
		config:     cfg,
		dbManager:  dbManager,
		processor:  processor,
		assigner:   assigner,
		normalizer: normalizer,
		metrics:    m,
		logger:     logger.With("component", "cycle_worker"),
	}
}

// Process registers the job's files, ingests the cycle and closes the file records.
// On a cycle-level failure every file of the cycle is marked FATAL and nothing is persisted.
func (w *CycleWorker) Process(ctx context.Context, job CycleJob) (*CycleReport, error) {
	log := w.logger.With("year", job.Cycle.Year, "party", string(job.Cycle.Party), "dir", job.Dir)

	fileIDs, err := w.processor.RegisterFiles(ctx, job.Cycle, job.Files)
	if err != nil {
		w.processor.MarkFatal(context.WithoutCancel(ctx), fileIDs, err)
		return nil, err
	}

	report, err := w.run(ctx, job, fileIDs, log)
	if err != nil {
		log.Error("cycle failed", "error", err)
		w.processor.MarkFatal(context.WithoutCancel(ctx), fileIDs, err)
		return report, fmt.Errorf("cycle %s: %w", job.Cycle, err)
	}
	return report, nil
}

func (w *CycleWorker) run(ctx context.Context, job CycleJob, fileIDs map[string]int, log *slog.Logger) (*CycleReport, error) {
	report := &CycleReport{Cycle: job.Cycle, Dir: job.Dir, Files: len(job.Files)}
	fileErrors := models.NewFileErrorMap()
	reject := func(err error, file string, row int) {
		report.RowErrors++
		w.metrics.ObserveRowRejected(job.Cycle, errorKind(err))
		log.Warn("row rejected", "file", file, "row", row, "field", errorField(err), "error", err)
		fileErrors.Add(models.AppError{FileID: fileIDs[file], File: file, Row: row, Message: err.Error(), Err: err})
	}

	// Step 1: read every row of the cycle. The day numbering needs the whole cycle.
	var rows []models.RawRow
	opts := parser.Options{Delimiter: w.config.Delimiter}
	for row, err := range parser.ReadDirectory(job.Dir, job.Cycle.Party, opts) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		if err != nil {
			file, line := errorLocation(err)
			reject(err, file, line)
			continue
		}
		rows = append(rows, row)
	}
	report.RowsRead = len(rows)
	w.metrics.ObserveRowsRead(job.Cycle, len(rows))
	log.Info("read cycle", "rows", len(rows))

	// Step 2: number the early-voting days.
	cal, rows, rowErrs := w.assigner.Assign(job.Cycle, job.Dir, rows)
	for _, err := range rowErrs {
		var empty *models.EmptyDatasetError
		if errors.As(err, &empty) {
			return report, err
		}
		file, line := errorLocation(err)
		reject(err, file, line)
	}
	report.Calendar = cal
	log.Info("assigned early voting days", "days", cal.Len())

	// Step 3: left join the voter file.
	if err := w.enrich(ctx, rows); err != nil {
		return report, err
	}

	// Step 4: normalize and validate.
	records := make([]models.VoterRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := w.normalizer.Normalize(row)
		if err != nil {
			file, line := row.Location()
			reject(err, file, line)
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return report, &models.EmptyDatasetError{Dir: job.Dir}
	}

	// Step 5: persist and close the file records.
	written, err := w.dbManager.ReplaceCycleRecords(ctx, job.Cycle, records)
	if err != nil {
		return report, err
	}
	report.RecordsWritten = written
	w.metrics.ObserveRecordsWritten(job.Cycle, written)

	if err := w.processor.UpdateFileStatus(ctx, fileErrors, fileIDs); err != nil {
		log.Error("failed to close file records", "error", err)
	}
	if err := w.processor.RecordFingerprint(ctx, job.Cycle, job.Files); err != nil {
		log.Error("failed to record cycle fingerprint", "error", err)
	}
	log.Info("cycle ingested", "records", written, "row_errors", report.RowErrors)
	return report, nil
}

// enrich fills absent voter attributes and election history from the voter file, in batches.
func (w *CycleWorker) enrich(ctx context.Context, rows []models.RawRow) error {
	for start := 0; start < len(rows); start += w.config.DBBatchSize {
		batch := rows[start:min(start+w.config.DBBatchSize, len(rows))]

		seen := make(map[string]bool, len(batch))
		vuids := make([]string, 0, len(batch))
		for _, row := range batch {
			if vuid := voterID(row); vuid != "" && !seen[vuid] {
				seen[vuid] = true
				vuids = append(vuids, vuid)
			}
		}
		if len(vuids) == 0 {
			continue
		}

		found, err := w.dbManager.LookupVoters(ctx, vuids)
		if err != nil {
			return fmt.Errorf("failed to look up voters: %w", err)
		}
		for _, row := range batch {
			if entry, ok := found[voterID(row)]; ok {
				entry.Fill(row)
			}
		}
	}
	return nil
}

func voterID(row models.RawRow) string {
	v, _ := row.Get(models.AliasVoterID...)
	return strings.TrimSpace(v)
}

// errorLocation extracts the file (base name) and row from reader and assigner errors.
func errorLocation(err error) (string, int) {
	var rowErr *models.MalformedRowError
	var nameErr *models.MalformedFilenameError
	var fieldErr *models.MissingFieldError
	switch {
	case errors.As(err, &rowErr):
		return baseName(rowErr.Path), rowErr.Row
	case errors.As(err, &nameErr):
		return baseName(nameErr.Path), 0
	case errors.As(err, &fieldErr):
		return baseName(fieldErr.Path), fieldErr.Row
	}
	return "", 0
}

func baseName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}

func errorField(err error) string {
	var fieldErr *models.MissingFieldError
	var valErr *models.RecordValidationError
	switch {
	case errors.As(err, &fieldErr):
		return fieldErr.Field
	case errors.As(err, &valErr):
		return valErr.Field
	}
	return ""
}

func errorKind(err error) string {
	var rowErr *models.MalformedRowError
	var nameErr *models.MalformedFilenameError
	var fieldErr *models.MissingFieldError
	var valErr *models.RecordValidationError
	switch {
	case errors.As(err, &rowErr):
		return "malformed_row"
	case errors.As(err, &nameErr):
		return "malformed_filename"
	case errors.As(err, &fieldErr):
		return "missing_field"
	case errors.As(err, &valErr):
		return "validation"
	}
	return "other"
}
