package ingestion

import (
	"errors"
	"math/rand"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

var (
	cycle2024Rep = models.Cycle{Year: 2024, Party: models.PartyRep}
	cycle2022Dem = models.Cycle{Year: 2022, Party: models.PartyDem}
)

func testAssigner() DayAssigner {
	return DayAssigner{CurrentYear: 2024, EarlyVotingStart: time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)}
}

func evRow(method, date string, line int) models.RawRow {
	return models.RawRow{
		"VOTING_METHOD":      method,
		models.ColVoteDate:   date,
		models.ColSourceFile: date + ".csv",
		models.ColSourceRow:  strconv.Itoa(line),
	}
}

func days(rows []models.RawRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r[models.ColDayInEV]
	}
	return out
}

func TestDayAssigner_StartDateIsDayOne(t *testing.T) {
	cal, rows, errs := testAssigner().Assign(cycle2024Rep, "dir", []models.RawRow{evRow("IN-PERSON", "2024-02-20", 2)})
	require.Empty(t, errs)
	assert.Equal(t, []string{"1"}, days(rows))
	assert.Equal(t, 1, cal.Len())
}

func TestDayAssigner_FileOrderIndependent(t *testing.T) {
	a := testAssigner()
	forward := []models.RawRow{evRow("IN-PERSON", "2024-02-20", 2), evRow("IN-PERSON", "2024-02-22", 2)}
	reverse := []models.RawRow{evRow("IN-PERSON", "2024-02-22", 2), evRow("IN-PERSON", "2024-02-20", 2)}

	calF, rowsF, _ := a.Assign(cycle2024Rep, "dir", forward)
	calR, rowsR, _ := a.Assign(cycle2024Rep, "dir", reverse)

	assert.Equal(t, []string{"1", "2"}, days(rowsF))
	assert.Equal(t, []string{"2", "1"}, days(rowsR))
	assert.Equal(t, calF.Mapping(), calR.Mapping())
	assert.Equal(t, map[string]int{"2024-02-20": 1, "2024-02-22": 2}, calF.Mapping())
}

func TestDayAssigner_MailInIsZero(t *testing.T) {
	rows := []models.RawRow{
		evRow("MAIL-IN", "2024-02-21", 2),
		evRow("IN-PERSON", "2024-02-21", 3),
		evRow("MAIL IN", "2024-01-05", 4),
		evRow("PROVISIONAL", "2024-02-23", 5),
	}
	_, out, errs := testAssigner().Assign(cycle2024Rep, "dir", rows)
	require.Empty(t, errs)
	assert.Equal(t, []string{"0", "1", "0", "0"}, days(out))
}

func TestDayAssigner_BeforeStartCollapsesToOne(t *testing.T) {
	rows := []models.RawRow{
		evRow("IN-PERSON", "2024-02-15", 2),
		evRow("IN-PERSON", "2024-02-20", 3),
		evRow("IN-PERSON", "2024-02-21", 4),
	}
	cal, out, errs := testAssigner().Assign(cycle2024Rep, "dir", rows)
	require.Empty(t, errs)
	assert.Equal(t, []string{"1", "1", "2"}, days(out))
	_, ok := cal.Day("2024-02-15")
	assert.False(t, ok)
}

func TestDayAssigner_PriorYearsAreNotFiltered(t *testing.T) {
	rows := []models.RawRow{
		evRow("IN-PERSON", "2022-02-14", 2),
		evRow("IN-PERSON", "2022-02-15", 3),
	}
	cal, out, _ := testAssigner().Assign(cycle2022Dem, "dir", rows)
	assert.Equal(t, []string{"1", "2"}, days(out))
	assert.Equal(t, cycle2022Dem, cal.Cycle())
}

func TestDayAssigner_Errors(t *testing.T) {
	a := testAssigner()

	t.Run("EmptyDataset", func(t *testing.T) {
		cal, rows, errs := a.Assign(cycle2024Rep, "data/2024/primary/rep", nil)
		assert.Nil(t, cal)
		assert.Nil(t, rows)
		require.Len(t, errs, 1)
		var empty *models.EmptyDatasetError
		assert.True(t, errors.As(errs[0], &empty))
		assert.Equal(t, "data/2024/primary/rep", empty.Dir)
	})

	t.Run("MissingFieldsAreRowErrors", func(t *testing.T) {
		noMethod := evRow("", "2024-02-20", 3)
		noDate := evRow("IN-PERSON", "", 4)
		badDate := evRow("IN-PERSON", "02/20/2024", 5)
		rows := []models.RawRow{evRow("IN-PERSON", "2024-02-20", 2), noMethod, noDate, badDate}

		cal, out, errs := a.Assign(cycle2024Rep, "dir", rows)
		require.NotNil(t, cal)
		assert.Len(t, out, 1)
		require.Len(t, errs, 3)

		var missing *models.MissingFieldError
		require.True(t, errors.As(errs[0], &missing))
		assert.Equal(t, "VOTE_METHOD", missing.Field)
		assert.Equal(t, 3, missing.Row)
		require.True(t, errors.As(errs[1], &missing))
		assert.Equal(t, models.ColVoteDate, missing.Field)

		var invalid *models.RecordValidationError
		require.True(t, errors.As(errs[2], &invalid))
		assert.Equal(t, models.ColVoteDate, invalid.Field)
	})

	t.Run("AllRowsInvalid", func(t *testing.T) {
		_, _, errs := a.Assign(cycle2024Rep, "dir", []models.RawRow{evRow("", "2024-02-20", 2)})
		require.Len(t, errs, 2)
		var empty *models.EmptyDatasetError
		assert.True(t, errors.As(errs[1], &empty))
	})
}

func TestDayAssigner_Properties(t *testing.T) {
	a := testAssigner()
	start := a.EarlyVotingStart
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 25; trial++ {
		n := 1 + rng.Intn(12)
		var rows []models.RawRow
		for d := 0; d < n; d++ {
			date := start.AddDate(0, 0, d).Format(models.DateLayout)
			for k := 0; k <= rng.Intn(3); k++ {
				rows = append(rows, evRow("IN-PERSON", date, len(rows)+2))
			}
			rows = append(rows, evRow("MAIL-IN", date, len(rows)+2))
		}

		shuffled := make([]models.RawRow, len(rows))
		for i, j := range rng.Perm(len(rows)) {
			shuffled[i] = rows[j].Clone()
		}

		cal1, out, errs := a.Assign(cycle2024Rep, "dir", rows)
		require.Empty(t, errs)
		cal2, _, _ := a.Assign(cycle2024Rep, "dir", shuffled)
		assert.Equal(t, cal1.Mapping(), cal2.Mapping(), "assignment must not depend on row order")

		image := map[int]bool{}
		for _, r := range out {
			day, err := strconv.Atoi(r[models.ColDayInEV])
			require.NoError(t, err)
			if r["VOTING_METHOD"] == "MAIL-IN" {
				assert.Equal(t, 0, day)
				continue
			}
			image[day] = true
		}
		assert.Len(t, image, n)
		for d := 1; d <= n; d++ {
			assert.True(t, image[d], "day %d missing from image", d)
		}
	}
}

func TestCalendar_DatesIsACopy(t *testing.T) {
	cal := testAssigner().BuildCalendar(cycle2024Rep, []time.Time{
		time.Date(2024, 2, 21, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 21, 0, 0, 0, 0, time.UTC),
	})
	dates := cal.Dates()
	require.Len(t, dates, 2)
	assert.Equal(t, 20, dates[0].Day())
	dates[0] = time.Time{}
	assert.Equal(t, 20, cal.Dates()[0].Day())
}
