package ingestion

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

// MockDBManager is a mock implementation of the DBManager interface.
type MockDBManager struct {
	mock.Mock
}

func (m *MockDBManager) CreateTables(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockDBManager) IsFileAlreadyProcessed(ctx context.Context, checksum string) (bool, error) {
	args := m.Called(ctx, checksum)
	return args.Bool(0), args.Error(1)
}

func (m *MockDBManager) InsertFileRecord(ctx context.Context, file models.FileInfo, cycle models.Cycle, status string) (int, error) {
	args := m.Called(ctx, file, cycle, status)
	return args.Int(0), args.Error(1)
}

func (m *MockDBManager) UpdateFileStatus(ctx context.Context, fileID int, status string, errors any) error {
	args := m.Called(ctx, fileID, status, errors)
	return args.Error(0)
}

func (m *MockDBManager) CycleFingerprint(ctx context.Context, cycle models.Cycle) (string, error) {
	args := m.Called(ctx, cycle)
	return args.String(0), args.Error(1)
}

func (m *MockDBManager) SaveCycleFingerprint(ctx context.Context, cycle models.Cycle, fingerprint string) error {
	args := m.Called(ctx, cycle, fingerprint)
	return args.Error(0)
}

func (m *MockDBManager) UpsertVoterFile(ctx context.Context, entries []models.VoterFileEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockDBManager) LookupVoters(ctx context.Context, vuids []string) (map[string]models.VoterFileEntry, error) {
	args := m.Called(ctx, vuids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]models.VoterFileEntry), args.Error(1)
}

func (m *MockDBManager) ReplaceCycleRecords(ctx context.Context, cycle models.Cycle, records []models.VoterRecord) (int, error) {
	args := m.Called(ctx, cycle, records)
	return args.Int(0), args.Error(1)
}

func (m *MockDBManager) QueryRecords(ctx context.Context, filter models.RecordFilter) ([]models.VoterRecord, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.VoterRecord), args.Error(1)
}

func (m *MockDBManager) DistinctValues(ctx context.Context, dimension string) ([]string, error) {
	args := m.Called(ctx, dimension)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDBManager) CurrentDays(ctx context.Context, year int) ([]int, error) {
	args := m.Called(ctx, year)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int), args.Error(1)
}

func (m *MockDBManager) Close() {
	m.Called()
}

// MockProcessor is a mock implementation of the Processor interface.
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) ScanForFiles(dir string) ([]models.FileInfo, error) {
	args := m.Called(dir)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.FileInfo), args.Error(1)
}

func (m *MockProcessor) AllProcessed(ctx context.Context, cycle models.Cycle, files []models.FileInfo) (bool, error) {
	args := m.Called(ctx, cycle, files)
	return args.Bool(0), args.Error(1)
}

func (m *MockProcessor) RecordFingerprint(ctx context.Context, cycle models.Cycle, files []models.FileInfo) error {
	args := m.Called(ctx, cycle, files)
	return args.Error(0)
}

func (m *MockProcessor) RegisterFiles(ctx context.Context, cycle models.Cycle, files []models.FileInfo) (map[string]int, error) {
	args := m.Called(ctx, cycle, files)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}

func (m *MockProcessor) UpdateFileStatus(ctx context.Context, fileErrors *models.FileErrorMap, fileIDs map[string]int) error {
	args := m.Called(ctx, fileErrors, fileIDs)
	return args.Error(0)
}

func (m *MockProcessor) MarkFatal(ctx context.Context, fileIDs map[string]int, cause error) {
	m.Called(ctx, fileIDs, cause)
}

// MockWorker is a mock implementation of the Worker interface.
type MockWorker struct {
	mock.Mock
}

func (m *MockWorker) Process(ctx context.Context, job CycleJob) (*CycleReport, error) {
	args := m.Called(ctx, job)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CycleReport), args.Error(1)
}
