package aggregation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

func rec(year, day int, county, hd string, opts ...func(*models.VoterRecord)) models.VoterRecord {
	r := models.VoterRecord{
		VUID:           "1",
		Year:           year,
		DayInEV:        day,
		County:         county,
		HD:             hd,
		AgeRange:       models.AgeRangeUnknown,
		VoteMethod:     models.VoteMethodInPerson,
		PrimaryVotedIn: models.PartyRep,
	}
	for _, o := range opts {
		o(&r)
	}
	return r
}

func TestNewCrosstab_ZeroFilled(t *testing.T) {
	records := []models.VoterRecord{
		rec(2024, 1, "TRAVIS", "49"),
		rec(2024, 1, "TRAVIS", "49"),
		rec(2024, 2, "HARRIS", "140"),
		rec(2022, 2, "TRAVIS", "49"),
	}
	ct := NewCrosstab("byDay", records, []Dimension{DimDay}, []Dimension{DimYear})

	assert.Equal(t, [][]string{{"1"}, {"2"}}, ct.Rows)
	assert.Equal(t, [][]string{{"2022"}, {"2024"}}, ct.Cols)
	assert.Equal(t, [][]int{{0, 2}, {1, 1}}, ct.Counts)
	assert.Equal(t, 0, ct.Count([]string{"1"}, []string{"2022"}))
	assert.Equal(t, 0, ct.Count([]string{"9"}, []string{"2022"}))
	assert.Equal(t, len(records), ct.Total())
}

func TestNewCrosstab_NumericAwareOrder(t *testing.T) {
	records := []models.VoterRecord{
		rec(2024, 10, "A", "100"),
		rec(2024, 2, "A", "9"),
		rec(2024, 1, "A", ""),
		rec(2024, 1, "A", "021"),
	}
	ct := NewCrosstab("byDayHouse", records, []Dimension{DimHouse}, []Dimension{DimDay})
	assert.Equal(t, [][]string{{"0"}, {"9"}, {"21"}, {"100"}}, ct.Rows)
	assert.Equal(t, [][]string{{"1"}, {"2"}, {"10"}}, ct.Cols)
}

func TestNewCrosstab_MultiDimensionKeys(t *testing.T) {
	records := []models.VoterRecord{
		rec(2024, 1, "TRAVIS", "49", func(r *models.VoterRecord) { r.VoteMethod = models.VoteMethodMailIn; r.DayInEV = 0 }),
		rec(2024, 1, "TRAVIS", "49"),
		rec(2022, 1, "TRAVIS", "49"),
	}
	ct := NewCrosstab("byVoteMethod", records, []Dimension{DimVoteMethod, DimYear}, []Dimension{DimDay})
	assert.Equal(t, []string{"vote_method", "year"}, ct.RowDims)
	assert.Equal(t, [][]string{{"IN_PERSON", "2022"}, {"IN_PERSON", "2024"}, {"MAIL_IN", "2022"}, {"MAIL_IN", "2024"}}, ct.Rows)
	assert.Equal(t, 1, ct.Count([]string{"MAIL_IN", "2024"}, []string{"0"}))
	assert.Equal(t, 0, ct.Count([]string{"MAIL_IN", "2024"}, []string{"1"}))
	assert.Equal(t, 0, ct.Count([]string{"MAIL_IN", "2022"}, []string{"1"}))
}

func TestNewCrosstab_Empty(t *testing.T) {
	ct := NewCrosstab("byDay", nil, []Dimension{DimDay}, []Dimension{DimYear})
	assert.Empty(t, ct.Rows)
	assert.Empty(t, ct.Counts)
	assert.Equal(t, 0, ct.Total())
}

func TestNewCrosstab_EnumeratedDimensionsAlwaysPresent(t *testing.T) {
	young := func(r *models.VoterRecord) { r.AgeRange = models.AgeRange18To24 }

	byAge := NewCrosstab("byAge", []models.VoterRecord{rec(2024, 1, "TRAVIS", "49", young)}, []Dimension{DimAge}, []Dimension{DimYear})
	require.Len(t, byAge.Rows, len(models.AgeRanges))
	for i, a := range models.AgeRanges {
		assert.Equal(t, []string{string(a)}, byAge.Rows[i])
	}
	assert.Equal(t, 1, byAge.Count([]string{"18-24"}, []string{"2024"}))
	assert.Equal(t, 0, byAge.Count([]string{"85+"}, []string{"2024"}))

	empty := NewCrosstab("byAge", nil, []Dimension{DimAge}, []Dimension{DimYear})
	assert.Len(t, empty.Rows, len(models.AgeRanges))
	assert.Empty(t, empty.Cols)

	vep := NewCrosstab("byDayVEP", []models.VoterRecord{rec(2024, 1, "TRAVIS", "49")}, []Dimension{DimYear}, []Dimension{DimDay, DimVEP})
	assert.Equal(t, [][]string{{"1", "false"}, {"1", "true"}}, vep.Cols)
	assert.Equal(t, [][]int{{1, 0}}, vep.Counts)
}

func TestNewShareView(t *testing.T) {
	dem := func(r *models.VoterRecord) { r.PrimaryCountDem = 1 }
	rep := func(r *models.VoterRecord) { r.PrimaryCountRep = 2 }
	records := []models.VoterRecord{
		rec(2024, 1, "TRAVIS", "49", rep),
		rec(2024, 1, "TRAVIS", "49", dem),
		rec(2024, 1, "TRAVIS", "49"),
		rec(2024, 1, "TRAVIS", "49", rep, dem),
		rec(2024, 2, "TRAVIS", "49", rep),
	}
	view := NewShareView("byDayCurrentPrimaryPreviousElections", records, []Dimension{DimDay})

	require.Len(t, view.Rows, 2)
	day1 := view.Rows[0]
	assert.Equal(t, []string{"1"}, day1.Key)
	assert.Equal(t, 4, day1.Voters)
	assert.Equal(t, 2, day1.PriorDem)
	assert.Equal(t, 2, day1.PriorRep)
	assert.Equal(t, 0.5, day1.PercentDem)
	assert.Equal(t, 0.5, day1.PercentRep)

	assert.Equal(t, 1.0, view.Rows[1].PercentRep)
	assert.Equal(t, 0.0, view.Rows[1].PercentDem)
}

func TestLessValue(t *testing.T) {
	assert.True(t, lessValue("2", "10"))
	assert.False(t, lessValue("10", "2"))
	assert.True(t, lessValue("99", "ANDERSON"))
	assert.True(t, lessValue("18-24", "Unknown"))
	assert.True(t, lessValue("false", "true"))
}
