package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

func ConnectDB(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	dbpool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	return dbpool, nil
}

type PostgresDBManager struct {
	dbpool    *pgxpool.Pool
	batchSize int
	logger    *slog.Logger
}

func NewPostgresDBManager(pool *pgxpool.Pool, batchSize int, logger *slog.Logger) *PostgresDBManager {
	if batchSize <= 0 {
		batchSize = 5000
	}
	return &PostgresDBManager{dbpool: pool, batchSize: batchSize, logger: logger.With("component", "postgres")}
}

var postgresSchema = []struct {
	name  string
	query string
}{
	{"file_records", `
	CREATE TABLE IF NOT EXISTS file_records (
		id SERIAL PRIMARY KEY,
		file_name VARCHAR(255) NOT NULL,
		processed_at TIMESTAMP NOT NULL,
		status VARCHAR(50) NOT NULL CHECK (status IN ('DONE', 'DONE_WITH_ERRORS', 'PROCESSING', 'FATAL')),
		checksum VARCHAR(64),
		vote_date DATE,
		year INTEGER,
		party VARCHAR(8),
		errors jsonb
	);`},
	{"cycle_fingerprints", `
	CREATE TABLE IF NOT EXISTS cycle_fingerprints (
		year INTEGER NOT NULL,
		party VARCHAR(8) NOT NULL,
		fingerprint VARCHAR(64) NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (year, party)
	);`},
	{"voterfile", `
	CREATE TABLE IF NOT EXISTS voterfile (
		vuid VARCHAR(32) PRIMARY KEY,
		dob DATE,
		edr DATE,
		sd VARCHAR(8),
		hd VARCHAR(8),
		cd VARCHAR(8)
	);`},
	{"election_history", `
	CREATE TABLE IF NOT EXISTS election_history (
		vuid VARCHAR(32) NOT NULL,
		election_code VARCHAR(16) NOT NULL,
		history_code VARCHAR(8) NOT NULL,
		PRIMARY KEY (vuid, election_code)
	);`},
	{"turnout_records", `
	CREATE TABLE IF NOT EXISTS turnout_records (
		id BIGSERIAL PRIMARY KEY,
		vuid VARCHAR(32) NOT NULL,
		county VARCHAR(64) NOT NULL,
		full_name VARCHAR(255),
		first_name VARCHAR(128),
		last_name VARCHAR(128),
		dob DATE,
		edr DATE,
		age INTEGER,
		age_range VARCHAR(16) NOT NULL,
		sd VARCHAR(8),
		hd VARCHAR(8),
		cd VARCHAR(8),
		precinct VARCHAR(32),
		poll_place_id VARCHAR(32),
		poll_place_name VARCHAR(255),
		vote_method VARCHAR(16) NOT NULL,
		vote_date DATE NOT NULL,
		year INTEGER NOT NULL,
		day_in_ev INTEGER NOT NULL,
		primary_voted_in VARCHAR(8) NOT NULL,
		vep_registration BOOLEAN NOT NULL DEFAULT FALSE,
		new_voter BOOLEAN NOT NULL DEFAULT FALSE,
		history jsonb,
		primary_count INTEGER NOT NULL,
		general_count INTEGER NOT NULL,
		primary_count_dem INTEGER NOT NULL,
		primary_count_rep INTEGER NOT NULL,
		primary_percent_dem DOUBLE PRECISION NOT NULL,
		primary_percent_rep DOUBLE PRECISION NOT NULL,
		general_percent_dem DOUBLE PRECISION NOT NULL,
		general_percent_rep DOUBLE PRECISION NOT NULL,
		source_file VARCHAR(255),
		file_modified TIMESTAMP,
		file_added TIMESTAMP
	);`},
	{"idx_turnout_records_cycle", `
	CREATE INDEX IF NOT EXISTS idx_turnout_records_cycle ON turnout_records (year, primary_voted_in, day_in_ev);`},
	{"idx_turnout_records_county", `
	CREATE INDEX IF NOT EXISTS idx_turnout_records_county ON turnout_records (county);`},
}

func (m *PostgresDBManager) CreateTables(ctx context.Context) error {
	for _, t := range postgresSchema {
		if _, err := m.dbpool.Exec(ctx, t.query); err != nil {
			return fmt.Errorf("error creating %s: %w", t.name, err)
		}
		m.logger.Info("table ready", "table", t.name)
	}
	return nil
}

func (m *PostgresDBManager) InsertFileRecord(ctx context.Context, file models.FileInfo, cycle models.Cycle, status string) (int, error) {
	query := `
	INSERT INTO file_records (file_name, processed_at, status, checksum, vote_date, year, party)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id;`

	var fileID int
	err := m.dbpool.QueryRow(ctx, query, file.Path, time.Now(), status, file.Checksum, file.VoteDate, cycle.Year, string(cycle.Party)).Scan(&fileID)
	if err != nil {
		return 0, fmt.Errorf("error inserting file record: %w", err)
	}
	return fileID, nil
}

func (m *PostgresDBManager) UpdateFileStatus(ctx context.Context, fileID int, status string, errors any) error {
	payload, err := errorsJSON(errors)
	if err != nil {
		return err
	}
	query := `
	UPDATE file_records
	SET status = $1,
		errors = $2
	WHERE id = $3;`

	if _, err := m.dbpool.Exec(ctx, query, status, payload, fileID); err != nil {
		return fmt.Errorf("error updating file status: %w", err)
	}
	return nil
}

func (m *PostgresDBManager) IsFileAlreadyProcessed(ctx context.Context, checksum string) (bool, error) {
	query := `
	SELECT id
	FROM file_records
	WHERE checksum = $1 AND status IN ('DONE', 'DONE_WITH_ERRORS')
	LIMIT 1;`

	var id int
	err := m.dbpool.QueryRow(ctx, query, checksum).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("error finding file record by checksum: %w", err)
	}
	return true, nil
}

// CycleFingerprint returns the file-set fingerprint of the cycle's last successful run, "" when none.
func (m *PostgresDBManager) CycleFingerprint(ctx context.Context, cycle models.Cycle) (string, error) {
	query := `
	SELECT fingerprint
	FROM cycle_fingerprints
	WHERE year = $1 AND party = $2;`

	var fingerprint string
	err := m.dbpool.QueryRow(ctx, query, cycle.Year, string(cycle.Party)).Scan(&fingerprint)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("error reading cycle fingerprint: %w", err)
	}
	return fingerprint, nil
}

func (m *PostgresDBManager) SaveCycleFingerprint(ctx context.Context, cycle models.Cycle, fingerprint string) error {
	query := `
	INSERT INTO cycle_fingerprints (year, party, fingerprint, updated_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (year, party) DO UPDATE
	SET fingerprint = EXCLUDED.fingerprint,
		updated_at = EXCLUDED.updated_at;`

	if _, err := m.dbpool.Exec(ctx, query, cycle.Year, string(cycle.Party), fingerprint, time.Now()); err != nil {
		return fmt.Errorf("error saving cycle fingerprint: %w", err)
	}
	return nil
}

// UpsertVoterFile loads voter file rows and replaces each voter's election history.
func (m *PostgresDBManager) UpsertVoterFile(ctx context.Context, entries []models.VoterFileEntry) error {
	for start := 0; start < len(entries); start += m.batchSize {
		end := min(start+m.batchSize, len(entries))

		batch := &pgx.Batch{}
		for _, e := range entries[start:end] {
			batch.Queue(`
			INSERT INTO voterfile (vuid, dob, edr, sd, hd, cd)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (vuid) DO UPDATE
			SET dob = EXCLUDED.dob, edr = EXCLUDED.edr, sd = EXCLUDED.sd, hd = EXCLUDED.hd, cd = EXCLUDED.cd;`,
				e.VUID, nullString(e.DOB), nullString(e.EDR), nullString(e.SD), nullString(e.HD), nullString(e.CD))
			batch.Queue(`DELETE FROM election_history WHERE vuid = $1;`, e.VUID)
			for code, value := range e.History {
				batch.Queue(`INSERT INTO election_history (vuid, election_code, history_code) VALUES ($1, $2, $3);`,
					e.VUID, code, value)
			}
		}

		tx, err := m.dbpool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("error beginning transaction: %w", err)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("error loading voter file batch: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("error committing voter file batch: %w", err)
		}
		m.logger.Debug("voter file batch loaded", "rows", end-start)
	}
	return nil
}

// LookupVoters returns the voter file entry of every known vuid. Unknown vuids are absent from the map.
func (m *PostgresDBManager) LookupVoters(ctx context.Context, vuids []string) (map[string]models.VoterFileEntry, error) {
	found := make(map[string]models.VoterFileEntry, len(vuids))
	if len(vuids) == 0 {
		return found, nil
	}

	rows, err := m.dbpool.Query(ctx, `
	SELECT vuid, dob::text, edr::text, sd, hd, cd
	FROM voterfile
	WHERE vuid = ANY($1);`, vuids)
	if err != nil {
		return nil, fmt.Errorf("error querying voter file: %w", err)
	}
	for rows.Next() {
		var vuid string
		var dob, edr, sd, hd, cd *string
		if err := rows.Scan(&vuid, &dob, &edr, &sd, &hd, &cd); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning voter file row: %w", err)
		}
		found[vuid] = models.VoterFileEntry{
			VUID: vuid, DOB: deref(dob), EDR: deref(edr), SD: deref(sd), HD: deref(hd), CD: deref(cd),
			History: map[string]string{},
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over voter file rows: %w", err)
	}

	hist, err := m.dbpool.Query(ctx, `
	SELECT vuid, election_code, history_code
	FROM election_history
	WHERE vuid = ANY($1);`, vuids)
	if err != nil {
		return nil, fmt.Errorf("error querying election history: %w", err)
	}
	defer hist.Close()
	for hist.Next() {
		var vuid, code, value string
		if err := hist.Scan(&vuid, &code, &value); err != nil {
			return nil, fmt.Errorf("error scanning election history row: %w", err)
		}
		entry, ok := found[vuid]
		if !ok {
			entry = models.VoterFileEntry{VUID: vuid, History: map[string]string{}}
		}
		entry.History[code] = value
		found[vuid] = entry
	}
	return found, hist.Err()
}

// ReplaceCycleRecords swaps a cycle's records in one transaction: readers see either the
// previous run's records or the new ones.
func (m *PostgresDBManager) ReplaceCycleRecords(ctx context.Context, cycle models.Cycle, records []models.VoterRecord) (int, error) {
	tx, err := m.dbpool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM turnout_records WHERE year = $1 AND primary_voted_in = $2;`, cycle.Year, string(cycle.Party))
	if err != nil {
		return 0, fmt.Errorf("error clearing records of %s: %w", cycle, err)
	}
	m.logger.Info("cleared previous records", "cycle", cycle.String(), "rows", tag.RowsAffected())

	written := 0
	for start := 0; start < len(records); start += m.batchSize {
		end := min(start+m.batchSize, len(records))
		n, err := m.copyRecords(ctx, tx, records[start:end])
		if err != nil {
			return 0, fmt.Errorf("unable to copy records of %s: %w", cycle, err)
		}
		written += int(n)
		m.logger.Debug("copied batch", "cycle", cycle.String(), "rows", n)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("error committing records of %s: %w", cycle, err)
	}
	return written, nil
}

func (m *PostgresDBManager) copyRecords(ctx context.Context, tx pgx.Tx, records []models.VoterRecord) (int64, error) {
	rows := make([][]any, len(records))
	for i, r := range records {
		values, err := recordValues(r, false)
		if err != nil {
			return 0, err
		}
		rows[i] = values
	}
	return tx.CopyFrom(ctx, pgx.Identifier{"turnout_records"}, recordColumns, pgx.CopyFromRows(rows))
}

func (m *PostgresDBManager) QueryRecords(ctx context.Context, filter models.RecordFilter) ([]models.VoterRecord, error) {
	query, args := buildRecordQuery(true, filter, dollarPlaceholder)
	rows, err := m.dbpool.Query(ctx, query, args...)
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

func (m *PostgresDBManager) DistinctValues(ctx context.Context, dimension string) ([]string, error) {
	col, ok := distinctColumns[dimension]
	if !ok {
		return nil, fmt.Errorf("unknown dimension %q", dimension)
	}
	query := fmt.Sprintf(`SELECT DISTINCT CAST(%[1]s AS TEXT) FROM turnout_records WHERE %[1]s IS NOT NULL;`,
		pgx.Identifier{col}.Sanitize())

	rows, err := m.dbpool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying distinct %s: %w", dimension, err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("error scanning distinct %s: %w", dimension, err)
	}
	return sortValues(values), nil
}

func (m *PostgresDBManager) CurrentDays(ctx context.Context, year int) ([]int, error) {
	rows, err := m.dbpool.Query(ctx, `SELECT DISTINCT day_in_ev FROM turnout_records WHERE year = $1 ORDER BY day_in_ev;`, year)
	if err != nil {
		return nil, fmt.Errorf("error querying days of %d: %w", year, err)
	}
	days, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return nil, fmt.Errorf("error scanning days of %d: %w", year, err)
	}
	out := make([]int, len(days))
	for i, d := range days {
		out[i] = int(d)
	}
	return out, nil
}

func (m *PostgresDBManager) Close() {
	m.dbpool.Close()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
