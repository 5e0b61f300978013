package ingestion

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

// Calendar maps each in-person voting date of one cycle to its 1-based day in early voting.
// It is built once per directory scan and never modified afterwards.
type Calendar struct {
	cycle models.Cycle
	dates []time.Time
	days  map[string]int
}

// Cycle returns the cycle the calendar was built for.
func (c *Calendar) Cycle() models.Cycle { return c.cycle }

// Len returns the number of numbered dates.
func (c *Calendar) Len() int { return len(c.dates) }

// Day returns the index assigned to date (YYYY-MM-DD).
func (c *Calendar) Day(date string) (int, bool) {
	d, ok := c.days[date]
	return d, ok
}

// Dates returns the numbered dates in ascending order; Dates()[i] has day i+1.
func (c *Calendar) Dates() []time.Time {
	out := make([]time.Time, len(c.dates))
	copy(out, c.dates)
	return out
}

// Mapping returns a copy of the date to day-index mapping.
func (c *Calendar) Mapping() map[string]int {
	out := make(map[string]int, len(c.days))
	for k, v := range c.days {
		out[k] = v
	}
	return out
}

// DayAssigner numbers early-voting dates. For the current cycle year, dates before the
// early voting start are left out of the numbering and their rows collapse to day 1.
type DayAssigner struct {
	CurrentYear      int
	EarlyVotingStart time.Time
}

// BuildCalendar numbers the distinct dates in ascending order.
func (a DayAssigner) BuildCalendar(cycle models.Cycle, dates []time.Time) *Calendar {
	seen := make(map[string]time.Time, len(dates))
	for _, d := range dates {
		if cycle.Year == a.CurrentYear && d.Before(a.EarlyVotingStart) {
			continue
		}
		seen[d.Format(models.DateLayout)] = d
	}

	cal := &Calendar{cycle: cycle, days: make(map[string]int, len(seen))}
	for _, d := range seen {
		cal.dates = append(cal.dates, d)
	}
	sort.Slice(cal.dates, func(i, j int) bool { return cal.dates[i].Before(cal.dates[j]) })
	for i, d := range cal.dates {
		cal.days[d.Format(models.DateLayout)] = i + 1
	}
	return cal
}

// Assign materializes every row of a cycle, builds its calendar and stamps DAY_IN_EV on each row.
// Rows missing VOTE_METHOD or VOTE_DATE, or with an unparseable VOTE_DATE, are returned as row errors
// and left out of the result. An empty row set fails with EmptyDatasetError.
func (a DayAssigner) Assign(cycle models.Cycle, dir string, rows []models.RawRow) (*Calendar, []models.RawRow, []error) {
	if len(rows) == 0 {
		return nil, nil, []error{&models.EmptyDatasetError{Dir: dir}}
	}

	var rowErrs []error
	valid := make([]models.RawRow, 0, len(rows))
	inPerson := make([]bool, 0, len(rows))
	var dates []time.Time

	for _, row := range rows {
		file, line := row.Location()
		method, ok := row.Get(models.AliasVoteMethod...)
		if !ok || strings.TrimSpace(method) == "" {
			rowErrs = append(rowErrs, &models.MissingFieldError{Path: file, Row: line, Field: "VOTE_METHOD"})
			continue
		}
		raw := strings.TrimSpace(row[models.ColVoteDate])
		if raw == "" {
			rowErrs = append(rowErrs, &models.MissingFieldError{Path: file, Row: line, Field: models.ColVoteDate})
			continue
		}
		date, err := time.Parse(models.DateLayout, raw)
		if err != nil {
			rowErrs = append(rowErrs, &models.RecordValidationError{
				Field: models.ColVoteDate, Value: raw, Reason: "expected YYYY-MM-DD", Err: err,
			})
			continue
		}

		vm, _ := models.ParseVoteMethod(method)
		isInPerson := vm == models.VoteMethodInPerson
		if isInPerson {
			dates = append(dates, date)
		}
		valid = append(valid, row)
		inPerson = append(inPerson, isInPerson)
	}

	if len(valid) == 0 {
		return nil, nil, append(rowErrs, &models.EmptyDatasetError{Dir: dir})
	}

	cal := a.BuildCalendar(cycle, dates)
	for i, row := range valid {
		day := 0
		if inPerson[i] {
			var ok bool
			if day, ok = cal.Day(strings.TrimSpace(row[models.ColVoteDate])); !ok {
				day = 1
			}
		}
		row[models.ColDayInEV] = strconv.Itoa(day)
	}
	return cal, valid, rowErrs
}
