package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

func TestBuildRecordQuery(t *testing.T) {
	t.Run("no filter", func(t *testing.T) {
		query, args := buildRecordQuery(false, models.RecordFilter{}, questionPlaceholder)
		assert.NotContains(t, query, "WHERE")
		assert.Contains(t, query, "ORDER BY year, day_in_ev, vuid")
		assert.Empty(t, args)
	})

	t.Run("postgres placeholders", func(t *testing.T) {
		query, args := buildRecordQuery(true, models.RecordFilter{
			Year:   2024,
			Party:  models.PartyRep,
			SD:     "5",
			DaysIn: []int{1, 2},
			Limit:  10,
			Offset: 20,
		}, dollarPlaceholder)

		assert.Contains(t, query, "year = $1 AND primary_voted_in = $2 AND sd = $3 AND day_in_ev IN ($4, $5)")
		assert.Contains(t, query, "LIMIT $6 OFFSET $7")
		assert.Contains(t, query, "vote_date::text")
		assert.Equal(t, []any{2024, "rep", "5", 1, 2, 10, 20}, args)
	})

	t.Run("offset without limit is ignored", func(t *testing.T) {
		query, args := buildRecordQuery(false, models.RecordFilter{County: "Travis", Offset: 5}, questionPlaceholder)
		assert.Contains(t, query, "UPPER(county) = UPPER(?)")
		assert.NotContains(t, query, "OFFSET")
		assert.NotContains(t, query, "::text")
		assert.Equal(t, []any{"Travis"}, args)
	})
}

func TestParseStoredTime(t *testing.T) {
	cases := map[string]time.Time{
		"2024-02-20":                 time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC),
		"2024-02-20 10:11:12":        time.Date(2024, 2, 20, 10, 11, 12, 0, time.UTC),
		"2024-02-20T10:11:12Z":       time.Date(2024, 2, 20, 10, 11, 12, 0, time.UTC),
		"2024-02-20 10:11:12.123456": time.Date(2024, 2, 20, 10, 11, 12, 123456000, time.UTC),
		" 2024-02-20 ":               time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := parseStoredTime(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s: got %s", in, got)
	}

	_, err := parseStoredTime("yesterday")
	assert.Error(t, err)
}

func TestSortValues(t *testing.T) {
	got := sortValues([]string{"10", "Travis", "2", "Bexar", "1"})
	assert.Equal(t, []string{"1", "2", "10", "Bexar", "Travis"}, got)
}

func TestRecordValues(t *testing.T) {
	rec := sampleRecord("1001", 2024, models.PartyRep, 1)
	values, err := recordValues(rec, true)
	require.NoError(t, err)
	require.Len(t, values, len(recordColumns))

	col := func(name string) any {
		for i, c := range recordColumns {
			if c == name {
				return values[i]
			}
		}
		t.Fatalf("no column %s", name)
		return nil
	}
	assert.Equal(t, "2024-02-20", col("vote_date"))
	assert.Equal(t, "1980-05-01", col("dob"))
	assert.Nil(t, col("edr"))
	assert.Nil(t, col("precinct"))
	assert.Equal(t, `{"PRI22":"R"}`, col("history"))

	values, err = recordValues(rec, false)
	require.NoError(t, err)
	assert.IsType(t, time.Time{}, values[16])
}

func TestErrorsJSON(t *testing.T) {
	s, err := errorsJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", s)

	s, err = errorsJSON([]*models.AppError{{FileID: 3, Row: 2, Message: "bad"}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"file_id":3,"row":2,"message":"bad"}]`, s)
}

func sampleRecord(vuid string, year int, party models.Party, day int) models.VoterRecord {
	dob := time.Date(1980, 5, 1, 0, 0, 0, 0, time.UTC)
	age := 43
	return models.VoterRecord{
		VUID:              vuid,
		County:            "TRAVIS",
		FullName:          "DOE, JANE",
		FirstName:         "JANE",
		LastName:          "DOE",
		DOB:               &dob,
		Age:               &age,
		AgeRange:          models.AgeRange35To44,
		SD:                "14",
		HD:                "49",
		CD:                "37",
		VoteMethod:        models.VoteMethodInPerson,
		VoteDate:          time.Date(year, 2, 19+day, 0, 0, 0, 0, time.UTC),
		Year:              year,
		DayInEV:           day,
		PrimaryVotedIn:    party,
		VEPRegistration:   true,
		History:           map[string]string{"PRI22": "R"},
		PrimaryCount:      1,
		PrimaryCountRep:   1,
		PrimaryPercentRep: 0.25,
		SourceFile:        "20240220.csv",
		FileModified:      time.Date(2024, 2, 21, 8, 0, 0, 0, time.UTC),
		FileAdded:         time.Date(2024, 2, 21, 8, 0, 0, 0, time.UTC),
	}
}
