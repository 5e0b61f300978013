package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ThiagoRGoveia/ev-turnout/internal/config"
	"github.com/ThiagoRGoveia/ev-turnout/internal/export"
	"github.com/ThiagoRGoveia/ev-turnout/internal/logging"
	"github.com/ThiagoRGoveia/ev-turnout/internal/metrics"
	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

// MockDBManager is a mock implementation of the DBManager interface.
type MockDBManager struct {
	mock.Mock
}

func (m *MockDBManager) CreateTables(ctx context.Context) error {
	return nil
}

func (m *MockDBManager) IsFileAlreadyProcessed(ctx context.Context, checksum string) (bool, error) {
	return false, nil
}

func (m *MockDBManager) InsertFileRecord(ctx context.Context, file models.FileInfo, cycle models.Cycle, status string) (int, error) {
	return 0, nil
}

func (m *MockDBManager) UpdateFileStatus(ctx context.Context, fileID int, status string, errors any) error {
	return nil
}

func (m *MockDBManager) CycleFingerprint(ctx context.Context, cycle models.Cycle) (string, error) {
	return "", nil
}

func (m *MockDBManager) SaveCycleFingerprint(ctx context.Context, cycle models.Cycle, fingerprint string) error {
	return nil
}

func (m *MockDBManager) UpsertVoterFile(ctx context.Context, entries []models.VoterFileEntry) error {
	return nil
}

func (m *MockDBManager) LookupVoters(ctx context.Context, vuids []string) (map[string]models.VoterFileEntry, error) {
	return nil, nil
}

func (m *MockDBManager) ReplaceCycleRecords(ctx context.Context, cycle models.Cycle, records []models.VoterRecord) (int, error) {
	return 0, nil
}

func (m *MockDBManager) QueryRecords(ctx context.Context, filter models.RecordFilter) ([]models.VoterRecord, error) {
	args := m.Called(filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.VoterRecord), args.Error(1)
}

func (m *MockDBManager) DistinctValues(ctx context.Context, dimension string) ([]string, error) {
	args := m.Called(dimension)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDBManager) CurrentDays(ctx context.Context, year int) ([]int, error) {
	args := m.Called(year)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int), args.Error(1)
}

func (m *MockDBManager) Close() {}

func newTestRouter(db *MockDBManager) http.Handler {
	svc := NewTurnoutService(db, config.DefaultElection(), logging.Discard())
	return SetupRoutes(svc, metrics.New(prometheus.NewRegistry()), logging.Discard())
}

func do(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return apiErr
}

func turnout(vuid string, year, day int, party models.Party, sd string) models.VoterRecord {
	return models.VoterRecord{
		VUID:           vuid,
		County:         "TRAVIS",
		AgeRange:       models.AgeRangeUnknown,
		SD:             sd,
		VoteMethod:     models.VoteMethodInPerson,
		VoteDate:       time.Date(year, 2, 19+day, 0, 0, 0, 0, time.UTC),
		Year:           year,
		DayInEV:        day,
		PrimaryVotedIn: party,
	}
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestRouter(new(MockDBManager)), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestNotFound(t *testing.T) {
	rec := do(t, newTestRouter(new(MockDBManager)), "/precincts/101")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).ErrorCode)
}

func TestDistricts(t *testing.T) {
	tests := []struct {
		path      string
		dimension string
	}{
		{"/districts/counties", "county"},
		{"/districts/federal", "cd"},
		{"/districts/state/house", "hd"},
		{"/districts/state/senate", "sd"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			db := new(MockDBManager)
			db.On("DistinctValues", tt.dimension).Return([]string{"2", "10"}, nil)

			rec := do(t, newTestRouter(db), tt.path)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `["2","10"]`, rec.Body.String())
			db.AssertExpectations(t)
		})
	}
}

func TestDistricts_StoreFailure(t *testing.T) {
	db := new(MockDBManager)
	db.On("DistinctValues", "county").Return(nil, errors.New("connection refused"))

	rec := do(t, newTestRouter(db), "/districts/counties")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	apiErr := decodeError(t, rec)
	assert.Equal(t, "STORE_ERROR", apiErr.ErrorCode)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestEarlyVote(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		filter models.RecordFilter
	}{
		{"year", "/2022/primary/earlyvote", models.RecordFilter{Year: 2022, DaysIn: []int{1, 2}}},
		{"party", "/2022/primary/earlyvote/party/republican", models.RecordFilter{Year: 2022, Party: models.PartyRep, DaysIn: []int{1, 2}}},
		{"county", "/2022/primary/earlyvote/districts/county/TRAVIS", models.RecordFilter{Year: 2022, County: "TRAVIS", DaysIn: []int{1, 2}}},
		{"federal", "/2022/primary/earlyvote/districts/federal/37", models.RecordFilter{Year: 2022, CD: "37", DaysIn: []int{1, 2}}},
		{"house", "/2022/primary/earlyvote/districts/state/house/49", models.RecordFilter{Year: 2022, HD: "49", DaysIn: []int{1, 2}}},
		{"senate", "/2022/primary/earlyvote/districts/state/senate/14", models.RecordFilter{Year: 2022, SD: "14", DaysIn: []int{1, 2}}},
		{"zero padded district", "/2022/primary/earlyvote/districts/state/house/049", models.RecordFilter{Year: 2022, HD: "49", DaysIn: []int{1, 2}}},
		{"paging", "/2022/primary/earlyvote?limit=10&offset=20", models.RecordFilter{Year: 2022, DaysIn: []int{1, 2}, Limit: 10, Offset: 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(MockDBManager)
			db.On("CurrentDays", 2024).Return([]int{1, 2}, nil)
			db.On("QueryRecords", tt.filter).Return([]models.VoterRecord{turnout("1001", 2022, 1, models.PartyRep, "14")}, nil)

			rec := do(t, newTestRouter(db), tt.path)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var body recordsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, 2022, body.Year)
			assert.Equal(t, []int{1, 2}, body.Days)
			assert.Equal(t, 1, body.Count)
			assert.Equal(t, "1001", body.Records[0].VUID)
			db.AssertExpectations(t)
		})
	}
}

func TestEarlyVote_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		path string
		code string
	}{
		{"year", "/twenty/primary/earlyvote", "INVALID_PARAMETER"},
		{"party", "/2024/primary/earlyvote/party/green", "INVALID_PARAMETER"},
		{"district", "/2024/primary/earlyvote/districts/state/senate/north", "INVALID_PARAMETER"},
		{"limit not a number", "/2024/primary/earlyvote?limit=ten", "INVALID_PARAMETER"},
		{"negative offset", "/2024/primary/earlyvote?offset=-1", "VALIDATION_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(MockDBManager)
			rec := do(t, newTestRouter(db), tt.path)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).ErrorCode)
			db.AssertNotCalled(t, "QueryRecords", mock.Anything)
		})
	}
}

func TestEarlyVote_ValidationDetails(t *testing.T) {
	rec := do(t, newTestRouter(new(MockDBManager)), "/2024/primary/earlyvote?limit=900000")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{
		"status_code": 400,
		"error_code": "VALIDATION_FAILED",
		"message": "Request validation failed",
		"details": [{"field": "limit", "message": "failed lte=50000"}]
	}`, rec.Body.String())
}

func TestCrosstabs(t *testing.T) {
	db := new(MockDBManager)
	db.On("QueryRecords", models.RecordFilter{Party: models.PartyRep}).Return([]models.VoterRecord{
		turnout("1", 2024, 1, models.PartyRep, "14"),
		turnout("2", 2024, 2, models.PartyRep, "014"),
		turnout("3", 2022, 1, models.PartyRep, "26"),
	}, nil)

	rec := do(t, newTestRouter(db), "/crosstabs/rep")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		CurrentYear int   `json:"current_year"`
		Days        []int `json:"days"`
		Crosstabs   map[string]struct {
			Rows   [][]string `json:"rows"`
			Cols   [][]string `json:"cols"`
			Counts [][]int    `json:"counts"`
		} `json:"crosstabs"`
		Shares map[string]json.RawMessage `json:"shares"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2024, body.CurrentYear)
	assert.Equal(t, []int{1, 2}, body.Days)
	assert.Len(t, body.Crosstabs, 12)
	assert.Len(t, body.Shares, 6)
	assert.Equal(t, [][]int{{1, 1}, {0, 1}}, body.Crosstabs["byDay"].Counts)

	t.Run("district filter", func(t *testing.T) {
		rec := do(t, newTestRouter(db), "/crosstabs/rep?chamber=SD&district=14")
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, [][]string{{"14", "2024"}}, body.Crosstabs["byDaySenate"].Rows)
		assert.Equal(t, [][]int{{1, 1}}, body.Crosstabs["byDaySenate"].Counts)
	})
}

func TestCrosstabs_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		path string
		code string
	}{
		{"party", "/crosstabs/green", "INVALID_PARAMETER"},
		{"chamber without district", "/crosstabs/rep?chamber=hd", "INVALID_PARAMETER"},
		{"district without chamber", "/crosstabs/dem?district=4", "INVALID_PARAMETER"},
		{"unknown chamber", "/crosstabs/rep?chamber=xx&district=4", "VALIDATION_FAILED"},
		{"district not numeric", "/crosstabs/rep?chamber=hd&district=four", "VALIDATION_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(MockDBManager)
			rec := do(t, newTestRouter(db), tt.path)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).ErrorCode)
			db.AssertNotCalled(t, "QueryRecords", mock.Anything)
		})
	}
}

func TestCrosstabs_StoreFailure(t *testing.T) {
	db := new(MockDBManager)
	db.On("QueryRecords", mock.Anything).Return(nil, errors.New("timeout"))

	rec := do(t, newTestRouter(db), "/crosstabs/dem")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "STORE_ERROR", decodeError(t, rec).ErrorCode)
}

func TestExportCrosstabs(t *testing.T) {
	db := new(MockDBManager)
	db.On("QueryRecords", models.RecordFilter{Party: models.PartyDem}).Return([]models.VoterRecord{
		turnout("1", 2024, 1, models.PartyDem, "14"),
	}, nil)

	rec := do(t, newTestRouter(db), "/crosstabs/dem/export.xlsx")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "crosstabs_dem.xlsx")

	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("byDay")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"day_in_ev", "2024"}, {"1", "1"}}, rows)
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(new(MockDBManager))
	do(t, router, "/health")

	rec := do(t, router, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `evturnout_http_requests_total{code="200",method="GET",route="/health"} 1`)
}
