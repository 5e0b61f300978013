package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/ThiagoRGoveia/ev-turnout/internal/database"
	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
	"github.com/ThiagoRGoveia/ev-turnout/internal/parser"
	"github.com/ThiagoRGoveia/ev-turnout/pkg/checksum"
)

// Processor defines the file bookkeeping around a cycle ingestion.
type Processor interface {
	ScanForFiles(dir string) ([]models.FileInfo, error)
	AllProcessed(ctx context.Context, cycle models.Cycle, files []models.FileInfo) (bool, error)
	RecordFingerprint(ctx context.Context, cycle models.Cycle, files []models.FileInfo) error
	RegisterFiles(ctx context.Context, cycle models.Cycle, files []models.FileInfo) (map[string]int, error)
	UpdateFileStatus(ctx context.Context, fileErrors *models.FileErrorMap, fileIDs map[string]int) error
	MarkFatal(ctx context.Context, fileIDs map[string]int, cause error)
}

// FileProcessor discovers the files of a cycle, checksums them and keeps their
// file_records rows current.
type FileProcessor struct {
	dbManager database.DBManager
	logger    *slog.Logger
}

func NewFileProcessor(dbManager database.DBManager, logger *slog.Logger) *FileProcessor {
	return &FileProcessor{
		dbManager: dbManager,
		logger:    logger.With("component", "file_processor"),
	}
}

// ScanForFiles lists the tabular files of dir with their vote dates and checksums.
// Files whose name is not a vote date are still returned, with a zero VoteDate, so the
// reader reports them as row errors of the cycle.
func (fp *FileProcessor) ScanForFiles(dir string) ([]models.FileInfo, error) {
	fp.logger.Info("scanning for files", "dir", dir)
	paths, err := parser.ListFiles(dir)
	if err != nil {
		return nil, err
	}

	files := make([]models.FileInfo, 0, len(paths))
	for _, path := range paths {
		sum, err := checksum.GetFileChecksum(path)
		if err != nil {
			return nil, fmt.Errorf("failed to checksum %s: %w", path, err)
		}
		voteDate, err := parser.VoteDateFromFilename(path)
		if err != nil {
			fp.logger.Warn("file name is not a vote date", "file", path, "error", err)
		}
		files = append(files, models.FileInfo{Path: path, VoteDate: voteDate, Checksum: sum})
	}

	fp.logger.Info("found files", "dir", dir, "count", len(files))
	return files, nil
}

// AllProcessed reports whether every file was already ingested with its current content and
// the cycle's file set is the one of its last successful run. A file added to or removed from
// the directory since then changes the fingerprint.
func (fp *FileProcessor) AllProcessed(ctx context.Context, cycle models.Cycle, files []models.FileInfo) (bool, error) {
	if len(files) == 0 {
		return false, nil
	}
	for _, f := range files {
		done, err := fp.dbManager.IsFileAlreadyProcessed(ctx, f.Checksum)
		if err != nil {
			return false, err
		}
		if !done {
			return false, nil
		}
	}

	stored, err := fp.dbManager.CycleFingerprint(ctx, cycle)
	if err != nil {
		return false, err
	}
	if stored != fingerprint(files) {
		fp.logger.Info("cycle file set changed since last run", "cycle", cycle.String())
		return false, nil
	}
	return true, nil
}

// RecordFingerprint stores the fingerprint of the cycle's current file set.
func (fp *FileProcessor) RecordFingerprint(ctx context.Context, cycle models.Cycle, files []models.FileInfo) error {
	return fp.dbManager.SaveCycleFingerprint(ctx, cycle, fingerprint(files))
}

func fingerprint(files []models.FileInfo) string {
	sums := make([]string, len(files))
	for i, f := range files {
		sums[i] = f.Checksum
	}
	return checksum.CombineChecksums(sums)
}

// RegisterFiles inserts a PROCESSING file record per file and returns the record IDs keyed
// by base file name, the form rows carry in SOURCE_FILE.
func (fp *FileProcessor) RegisterFiles(ctx context.Context, cycle models.Cycle, files []models.FileInfo) (map[string]int, error) {
	fileIDs := make(map[string]int, len(files))
	for _, f := range files {
		id, err := fp.dbManager.InsertFileRecord(ctx, f, cycle, database.FILE_STATUS_PROCESSING)
		if err != nil {
			return fileIDs, fmt.Errorf("failed to register %s: %w", f.Path, err)
		}
		fileIDs[filepath.Base(f.Path)] = id
	}
	return fileIDs, nil
}

// UpdateFileStatus closes every registered file as DONE or DONE_WITH_ERRORS with its collected errors.
func (fp *FileProcessor) UpdateFileStatus(ctx context.Context, fileErrors *models.FileErrorMap, fileIDs map[string]int) error {
	var failed int
	for file, fileID := range fileIDs {
		appErrors := fileErrors.Errors[file]
		status := database.FILE_STATUS_DONE
		if len(appErrors) > 0 {
			status = database.FILE_STATUS_DONE_WITH_ERRORS
		}
		if dropped := fileErrors.Dropped[file]; dropped > 0 {
			fp.logger.Warn("file has too many errors, extra errors not stored", "file", file, "dropped", dropped)
		}

		if err := fp.dbManager.UpdateFileStatus(ctx, fileID, status, appErrors); err != nil {
			fp.logger.Error("failed to update file status", "file", file, "file_id", fileID, "error", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to update status of %d files", failed)
	}
	return nil
}

// MarkFatal closes every registered file as FATAL, recording cause.
func (fp *FileProcessor) MarkFatal(ctx context.Context, fileIDs map[string]int, cause error) {
	for file, fileID := range fileIDs {
		appErr := []models.AppError{{FileID: fileID, File: file, Message: "cycle failed", Err: cause}}
		if err := fp.dbManager.UpdateFileStatus(ctx, fileID, database.FILE_STATUS_FATAL, appErr); err != nil {
			fp.logger.Error("failed to mark file fatal", "file", file, "file_id", fileID, "error", err)
		}
	}
}
