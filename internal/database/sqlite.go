package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

// sqliteMaxVars keeps IN lists below SQLite's bound-parameter limit.
const sqliteMaxVars = 500

type SQLiteDBManager struct {
	conn      *sql.DB
	batchSize int
	logger    *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:" is accepted.
func OpenSQLite(path string, batchSize int, logger *slog.Logger) (*SQLiteDBManager, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// One connection serialises writers and keeps an in-memory database alive.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := conn.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if batchSize <= 0 {
		batchSize = 5000
	}
	return &SQLiteDBManager{conn: conn, batchSize: batchSize, logger: logger.With("component", "sqlite")}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS file_records (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  file_name TEXT NOT NULL,
  processed_at TEXT NOT NULL,
  status TEXT NOT NULL CHECK (status IN ('DONE', 'DONE_WITH_ERRORS', 'PROCESSING', 'FATAL')),
  checksum TEXT,
  vote_date TEXT,
  year INTEGER,
  party TEXT,
  errors TEXT
);
CREATE INDEX IF NOT EXISTS idx_file_records_checksum ON file_records(checksum);

CREATE TABLE IF NOT EXISTS cycle_fingerprints (
  year INTEGER NOT NULL,
  party TEXT NOT NULL,
  fingerprint TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY (year, party)
);

CREATE TABLE IF NOT EXISTS voterfile (
  vuid TEXT PRIMARY KEY,
  dob TEXT,
  edr TEXT,
  sd TEXT,
  hd TEXT,
  cd TEXT
);

CREATE TABLE IF NOT EXISTS election_history (
  vuid TEXT NOT NULL,
  election_code TEXT NOT NULL,
  history_code TEXT NOT NULL,
  PRIMARY KEY (vuid, election_code)
);

CREATE TABLE IF NOT EXISTS turnout_records (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  vuid TEXT NOT NULL,
  county TEXT NOT NULL,
  full_name TEXT,
  first_name TEXT,
  last_name TEXT,
  dob TEXT,
  edr TEXT,
  age INTEGER,
  age_range TEXT NOT NULL,
  sd TEXT,
  hd TEXT,
  cd TEXT,
  precinct TEXT,
  poll_place_id TEXT,
  poll_place_name TEXT,
  vote_method TEXT NOT NULL,
  vote_date TEXT NOT NULL,
  year INTEGER NOT NULL,
  day_in_ev INTEGER NOT NULL,
  primary_voted_in TEXT NOT NULL,
  vep_registration INTEGER NOT NULL DEFAULT 0,
  new_voter INTEGER NOT NULL DEFAULT 0,
  history TEXT,
  primary_count INTEGER NOT NULL,
  general_count INTEGER NOT NULL,
  primary_count_dem INTEGER NOT NULL,
  primary_count_rep INTEGER NOT NULL,
  primary_percent_dem REAL NOT NULL,
  primary_percent_rep REAL NOT NULL,
  general_percent_dem REAL NOT NULL,
  general_percent_rep REAL NOT NULL,
  source_file TEXT,
  file_modified TEXT,
  file_added TEXT
);
CREATE INDEX IF NOT EXISTS idx_turnout_records_cycle ON turnout_records(year, primary_voted_in, day_in_ev);
CREATE INDEX IF NOT EXISTS idx_turnout_records_county ON turnout_records(county);
`

func (m *SQLiteDBManager) CreateTables(ctx context.Context) error {
	if _, err := m.conn.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("error creating tables: %w", err)
	}
	return nil
}

func (m *SQLiteDBManager) InsertFileRecord(ctx context.Context, file models.FileInfo, cycle models.Cycle, status string) (int, error) {
	res, err := m.conn.ExecContext(ctx, `
INSERT INTO file_records (file_name, processed_at, status, checksum, vote_date, year, party)
VALUES (?, ?, ?, ?, ?, ?, ?);`,
		file.Path, time.Now().Format(models.DateTimeLayout), status, file.Checksum,
		file.VoteDate.Format(models.DateLayout), cycle.Year, string(cycle.Party))
	if err != nil {
		return 0, fmt.Errorf("error inserting file record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("error reading file record id: %w", err)
	}
	return int(id), nil
}

func (m *SQLiteDBManager) UpdateFileStatus(ctx context.Context, fileID int, status string, errors any) error {
	payload, err := errorsJSON(errors)
	if err != nil {
		return err
	}
	if _, err := m.conn.ExecContext(ctx, `UPDATE file_records SET status = ?, errors = ? WHERE id = ?;`, status, payload, fileID); err != nil {
		return fmt.Errorf("error updating file status: %w", err)
	}
	return nil
}

func (m *SQLiteDBManager) IsFileAlreadyProcessed(ctx context.Context, checksum string) (bool, error) {
	var id int
	err := m.conn.QueryRowContext(ctx, `
SELECT id FROM file_records
WHERE checksum = ? AND status IN ('DONE', 'DONE_WITH_ERRORS')
LIMIT 1;`, checksum).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("error finding file record by checksum: %w", err)
	}
	return true, nil
}

// CycleFingerprint returns the file-set fingerprint of the cycle's last successful run, "" when none.
func (m *SQLiteDBManager) CycleFingerprint(ctx context.Context, cycle models.Cycle) (string, error) {
	var fingerprint string
	err := m.conn.QueryRowContext(ctx, `SELECT fingerprint FROM cycle_fingerprints WHERE year = ? AND party = ?;`,
		cycle.Year, string(cycle.Party)).Scan(&fingerprint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("error reading cycle fingerprint: %w", err)
	}
	return fingerprint, nil
}

func (m *SQLiteDBManager) SaveCycleFingerprint(ctx context.Context, cycle models.Cycle, fingerprint string) error {
	_, err := m.conn.ExecContext(ctx, `
INSERT INTO cycle_fingerprints (year, party, fingerprint, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (year, party) DO UPDATE SET fingerprint = excluded.fingerprint, updated_at = excluded.updated_at;`,
		cycle.Year, string(cycle.Party), fingerprint, time.Now().Format(models.DateTimeLayout))
	if err != nil {
		return fmt.Errorf("error saving cycle fingerprint: %w", err)
	}
	return nil
}

// fileStatus returns the status and stored errors of a file record.
func (m *SQLiteDBManager) fileStatus(ctx context.Context, fileID int) (string, string, error) {
	var status string
	var payload sql.NullString
	err := m.conn.QueryRowContext(ctx, `SELECT status, errors FROM file_records WHERE id = ?;`, fileID).Scan(&status, &payload)
	return status, payload.String, err
}

func (m *SQLiteDBManager) UpsertVoterFile(ctx context.Context, entries []models.VoterFileEntry) error {
	tx, err := m.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	upsert, err := tx.PrepareContext(ctx, `
INSERT INTO voterfile (vuid, dob, edr, sd, hd, cd) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(vuid) DO UPDATE SET dob = excluded.dob, edr = excluded.edr, sd = excluded.sd, hd = excluded.hd, cd = excluded.cd;`)
	if err != nil {
		return err
	}
	defer upsert.Close()
	drop, err := tx.PrepareContext(ctx, `DELETE FROM election_history WHERE vuid = ?;`)
	if err != nil {
		return err
	}
	defer drop.Close()
	insert, err := tx.PrepareContext(ctx, `INSERT INTO election_history (vuid, election_code, history_code) VALUES (?, ?, ?);`)
	if err != nil {
		return err
	}
	defer insert.Close()

	for _, e := range entries {
		if _, err := upsert.ExecContext(ctx, e.VUID, nullString(e.DOB), nullString(e.EDR), nullString(e.SD), nullString(e.HD), nullString(e.CD)); err != nil {
			return fmt.Errorf("error loading voter %s: %w", e.VUID, err)
		}
		if _, err := drop.ExecContext(ctx, e.VUID); err != nil {
			return fmt.Errorf("error clearing history of %s: %w", e.VUID, err)
		}
		for code, value := range e.History {
			if _, err := insert.ExecContext(ctx, e.VUID, code, value); err != nil {
				return fmt.Errorf("error loading history of %s: %w", e.VUID, err)
			}
		}
	}
	return tx.Commit()
}

func (m *SQLiteDBManager) LookupVoters(ctx context.Context, vuids []string) (map[string]models.VoterFileEntry, error) {
	found := make(map[string]models.VoterFileEntry, len(vuids))
	for start := 0; start < len(vuids); start += sqliteMaxVars {
		chunk := vuids[start:min(start+sqliteMaxVars, len(vuids))]
		marks := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, v := range chunk {
			args[i] = v
		}

		if err := m.scanVoters(ctx, marks, args, found); err != nil {
			return nil, err
		}
		if err := m.scanHistory(ctx, marks, args, found); err != nil {
			return nil, err
		}
	}
	return found, nil
}

func (m *SQLiteDBManager) scanVoters(ctx context.Context, marks string, args []any, found map[string]models.VoterFileEntry) error {
	rows, err := m.conn.QueryContext(ctx, fmt.Sprintf(`SELECT vuid, dob, edr, sd, hd, cd FROM voterfile WHERE vuid IN (%s);`, marks), args...)
	if err != nil {
		return fmt.Errorf("error querying voter file: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var vuid string
		var dob, edr, sd, hd, cd sql.NullString
		if err := rows.Scan(&vuid, &dob, &edr, &sd, &hd, &cd); err != nil {
			return fmt.Errorf("error scanning voter file row: %w", err)
		}
		found[vuid] = models.VoterFileEntry{
			VUID: vuid, DOB: dob.String, EDR: edr.String, SD: sd.String, HD: hd.String, CD: cd.String,
			History: map[string]string{},
		}
	}
	return rows.Err()
}

func (m *SQLiteDBManager) scanHistory(ctx context.Context, marks string, args []any, found map[string]models.VoterFileEntry) error {
	rows, err := m.conn.QueryContext(ctx, fmt.Sprintf(`SELECT vuid, election_code, history_code FROM election_history WHERE vuid IN (%s);`, marks), args...)
	if err != nil {
		return fmt.Errorf("error querying election history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var vuid, code, value string
		if err := rows.Scan(&vuid, &code, &value); err != nil {
			return fmt.Errorf("error scanning election history row: %w", err)
		}
		entry, ok := found[vuid]
		if !ok {
			entry = models.VoterFileEntry{VUID: vuid, History: map[string]string{}}
		}
		entry.History[code] = value
		found[vuid] = entry
	}
	return rows.Err()
}

func (m *SQLiteDBManager) ReplaceCycleRecords(ctx context.Context, cycle models.Cycle, records []models.VoterRecord) (int, error) {
	tx, err := m.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turnout_records WHERE year = ? AND primary_voted_in = ?;`, cycle.Year, string(cycle.Party)); err != nil {
		return 0, fmt.Errorf("error clearing records of %s: %w", cycle, err)
	}

	marks := strings.TrimSuffix(strings.Repeat("?,", len(recordColumns)), ",")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO turnout_records (%s) VALUES (%s);`,
		strings.Join(recordColumns, ", "), marks))
	if err != nil {
		return 0, fmt.Errorf("error preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		values, err := recordValues(r, true)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return 0, fmt.Errorf("error inserting record %s of %s: %w", r.VUID, cycle, err)
		}
		if (i+1)%m.batchSize == 0 {
			m.logger.Debug("inserted batch", "cycle", cycle.String(), "rows", i+1)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing records of %s: %w", cycle, err)
	}
	return len(records), nil
}

func (m *SQLiteDBManager) QueryRecords(ctx context.Context, filter models.RecordFilter) ([]models.VoterRecord, error) {
	query, args := buildRecordQuery(false, filter, questionPlaceholder)
	rows, err := m.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying turnout records: %w", err)
	}
	defer rows.Close()

	var records []models.VoterRecord
	for rows.Next() {
		var row recordRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, fmt.Errorf("error scanning turnout record: %w", err)
		}
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over turnout records: %w", err)
	}
	return records, nil
}

func (m *SQLiteDBManager) DistinctValues(ctx context.Context, dimension string) ([]string, error) {
	col, ok := distinctColumns[dimension]
	if !ok {
		return nil, fmt.Errorf("unknown dimension %q", dimension)
	}
	rows, err := m.conn.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT CAST(%[1]s AS TEXT) FROM turnout_records WHERE %[1]s IS NOT NULL;`, col))
	if err != nil {
		return nil, fmt.Errorf("error querying distinct %s: %w", dimension, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("error scanning distinct %s: %w", dimension, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sortValues(values), nil
}

func (m *SQLiteDBManager) CurrentDays(ctx context.Context, year int) ([]int, error) {
	rows, err := m.conn.QueryContext(ctx, `SELECT DISTINCT day_in_ev FROM turnout_records WHERE year = ? ORDER BY day_in_ev;`, year)
	if err != nil {
		return nil, fmt.Errorf("error querying days of %d: %w", year, err)
	}
	defer rows.Close()

	var days []int
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("error scanning days of %d: %w", year, err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

func (m *SQLiteDBManager) Close() {
	if err := m.conn.Close(); err != nil {
		m.logger.Warn("error closing sqlite database", "error", err)
	}
}
