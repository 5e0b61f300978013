package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

// recordColumns is the column order of turnout_records used by every insert and select.
var recordColumns = []string{
	"vuid", "county", "full_name", "first_name", "last_name", "dob", "edr", "age", "age_range",
	"sd", "hd", "cd", "precinct", "poll_place_id", "poll_place_name",
	"vote_method", "vote_date", "year", "day_in_ev", "primary_voted_in", "vep_registration", "new_voter", "history",
	"primary_count", "general_count", "primary_count_dem", "primary_count_rep",
	"primary_percent_dem", "primary_percent_rep", "general_percent_dem", "general_percent_rep",
	"source_file", "file_modified", "file_added",
}

// textColumns are read back as text so both backends scan them the same way.
var textColumns = map[string]bool{
	"dob": true, "edr": true, "vote_date": true, "history": true, "file_modified": true, "file_added": true,
}

// distinctColumns maps API dimensions to turnout_records columns.
var distinctColumns = map[string]string{
	"county": "county",
	"sd":     "sd",
	"hd":     "hd",
	"cd":     "cd",
	"year":   "year",
}

type placeholderFunc func(n int) string

func dollarPlaceholder(n int) string   { return fmt.Sprintf("$%d", n) }
func questionPlaceholder(_ int) string { return "?" }

// selectList renders recordColumns, casting to text where castText is set.
func selectList(castText bool) string {
	cols := make([]string, len(recordColumns))
	for i, c := range recordColumns {
		if castText && textColumns[c] {
			cols[i] = c + "::text"
		} else {
			cols[i] = c
		}
	}
	return strings.Join(cols, ", ")
}

// buildRecordQuery renders the WHERE, ORDER BY and paging clauses for a RecordFilter.
func buildRecordQuery(castText bool, filter models.RecordFilter, ph placeholderFunc) (string, []any) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, ph(len(args))))
	}

	if filter.Year != 0 {
		add("year = %s", filter.Year)
	}
	if filter.Party != "" {
		add("primary_voted_in = %s", string(filter.Party))
	}
	if filter.County != "" {
		add("UPPER(county) = UPPER(%s)", filter.County)
	}
	if filter.SD != "" {
		add("sd = %s", filter.SD)
	}
	if filter.HD != "" {
		add("hd = %s", filter.HD)
	}
	if filter.CD != "" {
		add("cd = %s", filter.CD)
	}
	if len(filter.DaysIn) > 0 {
		marks := make([]string, len(filter.DaysIn))
		for i, d := range filter.DaysIn {
			args = append(args, d)
			marks[i] = ph(len(args))
		}
		where = append(where, fmt.Sprintf("day_in_ev IN (%s)", strings.Join(marks, ", ")))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM turnout_records", selectList(castText))
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY year, day_in_ev, vuid")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT %s", ph(len(args)))
		if filter.Offset > 0 {
			args = append(args, filter.Offset)
			fmt.Fprintf(&b, " OFFSET %s", ph(len(args)))
		}
	}
	return b.String(), args
}

// recordRow holds one scanned turnout_records row. The sql.Null types scan
// from both pgx and database/sql.
type recordRow struct {
	vuid, county                         string
	fullName, firstName, lastName        sql.NullString
	dob, edr                             sql.NullString
	age                                  sql.NullInt64
	ageRange                             string
	sd, hd, cd                           sql.NullString
	precinct, pollPlaceID, pollPlaceName sql.NullString
	voteMethod, voteDate                 string
	year, dayInEV                        int
	party                                string
	vep, newVoter                        bool
	history                              sql.NullString
	primaryCount, generalCount           int
	primaryDem, primaryRep               int
	primaryPctDem, primaryPctRep         float64
	generalPctDem, generalPctRep         float64
	sourceFile                           sql.NullString
	fileModified, fileAdded              sql.NullString
}

func (r *recordRow) dest() []any {
	return []any{
		&r.vuid, &r.county, &r.fullName, &r.firstName, &r.lastName, &r.dob, &r.edr, &r.age, &r.ageRange,
		&r.sd, &r.hd, &r.cd, &r.precinct, &r.pollPlaceID, &r.pollPlaceName,
		&r.voteMethod, &r.voteDate, &r.year, &r.dayInEV, &r.party, &r.vep, &r.newVoter, &r.history,
		&r.primaryCount, &r.generalCount, &r.primaryDem, &r.primaryRep,
		&r.primaryPctDem, &r.primaryPctRep, &r.generalPctDem, &r.generalPctRep,
		&r.sourceFile, &r.fileModified, &r.fileAdded,
	}
}

func (r *recordRow) record() (models.VoterRecord, error) {
	rec := models.VoterRecord{
		VUID:              r.vuid,
		County:            r.county,
		FullName:          r.fullName.String,
		FirstName:         r.firstName.String,
		LastName:          r.lastName.String,
		AgeRange:          models.AgeRange(r.ageRange),
		SD:                r.sd.String,
		HD:                r.hd.String,
		CD:                r.cd.String,
		Precinct:          r.precinct.String,
		PollPlaceID:       r.pollPlaceID.String,
		PollPlaceName:     r.pollPlaceName.String,
		VoteMethod:        models.VoteMethod(r.voteMethod),
		Year:              r.year,
		DayInEV:           r.dayInEV,
		PrimaryVotedIn:    models.Party(r.party),
		VEPRegistration:   r.vep,
		NewVoter:          r.newVoter,
		PrimaryCount:      r.primaryCount,
		GeneralCount:      r.generalCount,
		PrimaryCountDem:   r.primaryDem,
		PrimaryCountRep:   r.primaryRep,
		PrimaryPercentDem: r.primaryPctDem,
		PrimaryPercentRep: r.primaryPctRep,
		GeneralPercentDem: r.generalPctDem,
		GeneralPercentRep: r.generalPctRep,
		SourceFile:        r.sourceFile.String,
	}

	var err error
	if rec.VoteDate, err = parseStoredTime(r.voteDate); err != nil {
		return rec, fmt.Errorf("invalid vote_date for %s: %w", r.vuid, err)
	}
	if r.dob.Valid {
		t, err := parseStoredTime(r.dob.String)
		if err != nil {
			return rec, fmt.Errorf("invalid dob for %s: %w", r.vuid, err)
		}
		rec.DOB = &t
	}
	if r.edr.Valid {
		t, err := parseStoredTime(r.edr.String)
		if err != nil {
			return rec, fmt.Errorf("invalid edr for %s: %w", r.vuid, err)
		}
		rec.EDR = &t
	}
	if r.age.Valid {
		age := int(r.age.Int64)
		rec.Age = &age
	}
	if r.fileModified.Valid {
		rec.FileModified, _ = parseStoredTime(r.fileModified.String)
	}
	if r.fileAdded.Valid {
		rec.FileAdded, _ = parseStoredTime(r.fileAdded.String)
	}
	if r.history.Valid && r.history.String != "" {
		if err := json.Unmarshal([]byte(r.history.String), &rec.History); err != nil {
			return rec, fmt.Errorf("invalid history for %s: %w", r.vuid, err)
		}
	}
	return rec, nil
}

func parseStoredTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{models.DateTimeLayout, models.DateLayout, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	// Postgres renders timestamps with fractional seconds when present.
	if len(s) > len(models.DateTimeLayout) {
		return time.Parse(models.DateTimeLayout, s[:len(models.DateTimeLayout)])
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func historyJSON(h map[string]string) (string, error) {
	if h == nil {
		h = map[string]string{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func errorsJSON(errors any) (string, error) {
	if errors == nil {
		return "[]", nil
	}
	b, err := json.Marshal(errors)
	if err != nil {
		return "", fmt.Errorf("error encoding file errors: %w", err)
	}
	return string(b), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullDate(t *time.Time, asText bool) any {
	if t == nil {
		return nil
	}
	if asText {
		return t.Format(models.DateLayout)
	}
	return *t
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// recordValues returns one record's values in recordColumns order. asText renders dates
// and timestamps as strings for backends without native date types.
func recordValues(r models.VoterRecord, asText bool) ([]any, error) {
	history, err := historyJSON(r.History)
	if err != nil {
		return nil, fmt.Errorf("error encoding history for %s: %w", r.VUID, err)
	}
	var voteDate, fileModified, fileAdded any = r.VoteDate, r.FileModified, r.FileAdded
	if asText {
		voteDate = r.VoteDate.Format(models.DateLayout)
		fileModified = r.FileModified.Format(models.DateTimeLayout)
		fileAdded = r.FileAdded.Format(models.DateTimeLayout)
	}
	return []any{
		r.VUID, r.County, nullString(r.FullName), nullString(r.FirstName), nullString(r.LastName),
		nullDate(r.DOB, asText), nullDate(r.EDR, asText), nullInt(r.Age), string(r.AgeRange),
		nullString(r.SD), nullString(r.HD), nullString(r.CD),
		nullString(r.Precinct), nullString(r.PollPlaceID), nullString(r.PollPlaceName),
		string(r.VoteMethod), voteDate, r.Year, r.DayInEV, string(r.PrimaryVotedIn),
		r.VEPRegistration, r.NewVoter, history,
		r.PrimaryCount, r.GeneralCount, r.PrimaryCountDem, r.PrimaryCountRep,
		r.PrimaryPercentDem, r.PrimaryPercentRep, r.GeneralPercentDem, r.GeneralPercentRep,
		nullString(r.SourceFile), fileModified, fileAdded,
	}, nil
}

// sortValues orders district and county values with numbers first, numerically.
func sortValues(values []string) []string {
	sort.Slice(values, func(i, j int) bool {
		a, aErr := strconv.Atoi(values[i])
		b, bErr := strconv.Atoi(values[j])
		switch {
		case aErr == nil && bErr == nil:
			return a < b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		}
		return values[i] < values[j]
	})
	return values
}
