package database

import (
	"context"

	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

const (
	FILE_STATUS_PROCESSING       = "PROCESSING"
	FILE_STATUS_DONE             = "DONE"
	FILE_STATUS_DONE_WITH_ERRORS = "DONE_WITH_ERRORS"
	FILE_STATUS_FATAL            = "FATAL"
)

// DBManager is the persistence boundary of the ingestion pipeline and the API.
type DBManager interface {
	CreateTables(ctx context.Context) error
	IsFileAlreadyProcessed(ctx context.Context, checksum string) (bool, error)
	InsertFileRecord(ctx context.Context, file models.FileInfo, cycle models.Cycle, status string) (int, error)
	UpdateFileStatus(ctx context.Context, fileID int, status string, errors any) error
	CycleFingerprint(ctx context.Context, cycle models.Cycle) (string, error)
	SaveCycleFingerprint(ctx context.Context, cycle models.Cycle, fingerprint string) error
	UpsertVoterFile(ctx context.Context, entries []models.VoterFileEntry) error
	LookupVoters(ctx context.Context, vuids []string) (map[string]models.VoterFileEntry, error)
	ReplaceCycleRecords(ctx context.Context, cycle models.Cycle, records []models.VoterRecord) (int, error)
	QueryRecords(ctx context.Context, filter models.RecordFilter) ([]models.VoterRecord, error)
	DistinctValues(ctx context.Context, dimension string) ([]string, error)
	CurrentDays(ctx context.Context, year int) ([]int, error)
	Close()
}
