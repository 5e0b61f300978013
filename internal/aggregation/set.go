package aggregation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

type Chamber string

const (
	ChamberHouse         Chamber = "hd"
	ChamberSenate        Chamber = "sd"
	ChamberCongressional Chamber = "cd"
)

func ParseChamber(s string) (Chamber, error) {
	switch c := Chamber(strings.ToLower(strings.TrimSpace(s))); c {
	case ChamberHouse, ChamberSenate, ChamberCongressional:
		return c, nil
	}
	return "", fmt.Errorf("legislative chamber must be 'hd', 'sd' or 'cd', got %q", s)
}

// Filter narrows the records a crosstab set is built from.
type Filter struct {
	Party    models.Party
	Chamber  Chamber
	District string
}

// Apply keeps the records of Filter.Party, and of the district when a chamber is set.
func (f Filter) Apply(records []models.VoterRecord) []models.VoterRecord {
	var dim *Dimension
	switch f.Chamber {
	case ChamberHouse:
		dim = &DimHouse
	case ChamberSenate:
		dim = &DimSenate
	case ChamberCongressional:
		dim = &DimCongress
	}
	want := district(f.District)

	out := make([]models.VoterRecord, 0, len(records))
	for _, r := range records {
		if f.Party != "" && r.PrimaryVotedIn != f.Party {
			continue
		}
		if dim != nil && dim.Key(r) != want {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Set is the named collection of crosstabs and party-share views served to the dashboard.
type Set struct {
	CurrentYear int                   `json:"current_year"`
	Days        []int                 `json:"days"`
	Crosstabs   map[string]*Crosstab  `json:"crosstabs"`
	Shares      map[string]*ShareView `json:"shares"`
}

var crosstabDefs = []struct {
	name       string
	rows, cols []Dimension
}{
	{"byVoteMethod", []Dimension{DimVoteMethod, DimYear}, []Dimension{DimDay}},
	{"byDay", []Dimension{DimDay}, []Dimension{DimYear}},
	{"byDayAge", []Dimension{DimAge, DimYear}, []Dimension{DimDay}},
	{"byDayCounty", []Dimension{DimCounty, DimYear}, []Dimension{DimDay}},
	{"byDaySenate", []Dimension{DimSenate, DimYear}, []Dimension{DimDay}},
	{"byDayHouse", []Dimension{DimHouse, DimYear}, []Dimension{DimDay}},
	{"byDayCongressional", []Dimension{DimCongress, DimYear}, []Dimension{DimDay}},
	{"byDayVEP", []Dimension{DimYear}, []Dimension{DimDay, DimVEP}},
	{"byDayHouseCounty", []Dimension{DimHouse, DimCounty}, []Dimension{DimYear, DimDay}},
	{"byDaySenateCounty", []Dimension{DimSenate, DimCounty}, []Dimension{DimYear, DimDay}},
	{"byDayCongressionalCounty", []Dimension{DimCongress, DimCounty}, []Dimension{DimYear, DimDay}},
	{"byAge", []Dimension{DimAge}, []Dimension{DimYear}},
}

// Names lists every crosstab and share view in a Set, in build order.
func Names() []string {
	names := make([]string, 0, len(crosstabDefs)+6)
	for _, d := range crosstabDefs {
		names = append(names, d.name)
	}
	for _, d := range shareDefs(nil, nil) {
		names = append(names, d.name)
	}
	return names
}

type shareDef struct {
	name    string
	records []models.VoterRecord
	dims    []Dimension
}

func shareDefs(current, history []models.VoterRecord) []shareDef {
	return []shareDef{
		{"byDayCurrentPrimaryPreviousElections", current, []Dimension{DimDay}},
		{"byDayAllPrimaryPreviousElections", history, []Dimension{DimDay, DimYear}},
		{"byHouseAllPrimaryPreviousElections", history, []Dimension{DimHouse, DimYear}},
		{"bySenateAllPrimaryPreviousElections", history, []Dimension{DimSenate, DimYear}},
		{"byCongressionalAllPrimaryPreviousElections", history, []Dimension{DimCongress, DimYear}},
		{"byCountyAllPrimaryPreviousElections", history, []Dimension{DimCounty, DimYear}},
	}
}

// Build computes the full set. Records of earlier years are restricted to the days in early
// voting the current year has reached, so each day compares like with like.
func Build(records []models.VoterRecord, currentYear int) *Set {
	var current []models.VoterRecord
	days := map[int]bool{}
	for _, r := range records {
		if r.Year == currentYear {
			current = append(current, r)
			days[r.DayInEV] = true
		}
	}

	history := make([]models.VoterRecord, 0, len(records))
	for _, r := range records {
		if days[r.DayInEV] {
			history = append(history, r)
		}
	}

	set := &Set{
		CurrentYear: currentYear,
		Days:        make([]int, 0, len(days)),
		Crosstabs:   make(map[string]*Crosstab, len(crosstabDefs)),
		Shares:      make(map[string]*ShareView),
	}
	for d := range days {
		set.Days = append(set.Days, d)
	}
	sort.Ints(set.Days)

	for _, d := range crosstabDefs {
		set.Crosstabs[d.name] = NewCrosstab(d.name, history, d.rows, d.cols)
	}
	for _, d := range shareDefs(current, history) {
		set.Shares[d.name] = NewShareView(d.name, d.records, d.dims)
	}
	return set
}
