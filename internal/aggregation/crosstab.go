package aggregation

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

// MissingDistrict is the key records without a district aggregate under.
const MissingDistrict = "0"

// Dimension extracts one categorical key from a record. A dimension with a Domain is
// enumerated: every domain value appears in a crosstab, in domain order, whether or not
// any record carries it.
type Dimension struct {
	Name   string
	Key    func(models.VoterRecord) string
	Domain []string
}

var (
	DimYear = Dimension{Name: "year", Key: func(r models.VoterRecord) string { return strconv.Itoa(r.Year) }}
	DimDay  = Dimension{Name: "day_in_ev", Key: func(r models.VoterRecord) string { return strconv.Itoa(r.DayInEV) }}
	DimAge  = Dimension{
		Name:   "age_range",
		Key:    func(r models.VoterRecord) string { return string(r.AgeRange) },
		Domain: ageDomain(),
	}
	DimCounty     = Dimension{Name: "county", Key: func(r models.VoterRecord) string { return r.County }}
	DimVoteMethod = Dimension{
		Name:   "vote_method",
		Key:    func(r models.VoterRecord) string { return string(r.VoteMethod) },
		Domain: []string{string(models.VoteMethodInPerson), string(models.VoteMethodMailIn)},
	}
	DimVEP = Dimension{
		Name:   "vep_registration",
		Key:    func(r models.VoterRecord) string { return strconv.FormatBool(r.VEPRegistration) },
		Domain: []string{"false", "true"},
	}
	DimSenate   = Dimension{Name: "sd", Key: func(r models.VoterRecord) string { return district(r.SD) }}
	DimHouse    = Dimension{Name: "hd", Key: func(r models.VoterRecord) string { return district(r.HD) }}
	DimCongress = Dimension{Name: "cd", Key: func(r models.VoterRecord) string { return district(r.CD) }}
)

func ageDomain() []string {
	out := make([]string, len(models.AgeRanges))
	for i, a := range models.AgeRanges {
		out[i] = string(a)
	}
	return out
}

// district keys a record's district, with blanks under MissingDistrict.
func district(v string) string {
	if v = models.CanonicalDistrict(v); v == "" {
		return MissingDistrict
	}
	return v
}

// Crosstab counts records by a row key against a column key. Every row key is paired
// with every column key; unobserved pairs count zero. Keys are the observed ones plus,
// for enumerated dimensions, every value of the dimension's domain.
type Crosstab struct {
	Name    string     `json:"name"`
	RowDims []string   `json:"row_dims"`
	ColDims []string   `json:"col_dims"`
	Rows    [][]string `json:"rows"`
	Cols    [][]string `json:"cols"`
	Counts  [][]int    `json:"counts"`

	rowIndex map[string]int
	colIndex map[string]int
}

// NewCrosstab builds a crosstab over records.
func NewCrosstab(name string, records []models.VoterRecord, rows, cols []Dimension) *Crosstab {
	ct := &Crosstab{
		Name:     name,
		RowDims:  dimNames(rows),
		ColDims:  dimNames(cols),
		rowIndex: map[string]int{},
		colIndex: map[string]int{},
	}

	rowKeys := axisKeys(records, rows)
	colKeys := axisKeys(records, cols)
	pairs := map[[2]string]int{}
	for _, r := range records {
		pairs[[2]string{joinKey(keyOf(r, rows)), joinKey(keyOf(r, cols))}]++
	}

	ct.Rows = sortedKeys(rowKeys, rows)
	ct.Cols = sortedKeys(colKeys, cols)
	for i, k := range ct.Rows {
		ct.rowIndex[joinKey(k)] = i
	}
	for j, k := range ct.Cols {
		ct.colIndex[joinKey(k)] = j
	}

	ct.Counts = make([][]int, len(ct.Rows))
	for i := range ct.Counts {
		ct.Counts[i] = make([]int, len(ct.Cols))
	}
	for p, n := range pairs {
		ct.Counts[ct.rowIndex[p[0]]][ct.colIndex[p[1]]] = n
	}
	return ct
}

// Count returns the cell for a row and column key, zero when either key is unknown.
func (ct *Crosstab) Count(row, col []string) int {
	i, ok := ct.rowIndex[joinKey(row)]
	if !ok {
		return 0
	}
	j, ok := ct.colIndex[joinKey(col)]
	if !ok {
		return 0
	}
	return ct.Counts[i][j]
}

// Total returns the number of records counted.
func (ct *Crosstab) Total() int {
	total := 0
	for _, row := range ct.Counts {
		for _, n := range row {
			total += n
		}
	}
	return total
}

// ShareRow is one group of a party-share view.
type ShareRow struct {
	Key        []string `json:"key"`
	Voters     int      `json:"voters"`
	PriorDem   int      `json:"prior_dem"`
	PriorRep   int      `json:"prior_rep"`
	PercentDem float64  `json:"percent_dem"`
	PercentRep float64  `json:"percent_rep"`
}

// ShareView reports, per group, how many voters have voted in earlier dem or rep primaries
// and what share of the group that is.
type ShareView struct {
	Name string     `json:"name"`
	Dims []string   `json:"dims"`
	Rows []ShareRow `json:"rows"`
}

// NewShareView groups records by dims. A voter counts towards PriorDem when their
// dem primary count is positive, and likewise for rep.
func NewShareView(name string, records []models.VoterRecord, dims []Dimension) *ShareView {
	groups := map[string]*ShareRow{}
	keys := map[string][]string{}
	for _, r := range records {
		k := keyOf(r, dims)
		ks := joinKey(k)
		g, ok := groups[ks]
		if !ok {
			g = &ShareRow{Key: k}
			groups[ks] = g
			keys[ks] = k
		}
		g.Voters++
		if r.PrimaryCountDem > 0 {
			g.PriorDem++
		}
		if r.PrimaryCountRep > 0 {
			g.PriorRep++
		}
	}

	view := &ShareView{Name: name, Dims: dimNames(dims), Rows: make([]ShareRow, 0, len(groups))}
	for _, k := range sortedKeys(keys, dims) {
		g := groups[joinKey(k)]
		g.PercentDem = ratio(g.PriorDem, g.Voters)
		g.PercentRep = ratio(g.PriorRep, g.Voters)
		view.Rows = append(view.Rows, *g)
	}
	return view
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(d)*10000) / 10000
}

func dimNames(dims []Dimension) []string {
	names := make([]string, len(dims))
	for i, d := range dims {
		names[i] = d.Name
	}
	return names
}

func keyOf(r models.VoterRecord, dims []Dimension) []string {
	key := make([]string, len(dims))
	for i, d := range dims {
		key[i] = d.Key(r)
	}
	return key
}

func joinKey(k []string) string {
	return strings.Join(k, "\x1f")
}

// axisKeys collects the keys of one crosstab axis. Each observed key is expanded over the
// domains of the enumerated dimensions; an axis made only of enumerated dimensions also
// gets the full cross product when there are no records.
func axisKeys(records []models.VoterRecord, dims []Dimension) map[string][]string {
	keys := map[string][]string{}
	for _, r := range records {
		k := keyOf(r, dims)
		ks := joinKey(k)
		if _, seen := keys[ks]; seen {
			continue
		}
		keys[ks] = k
		expandKey(k, dims, 0, keys)
	}

	enumerated := len(dims) > 0
	for _, d := range dims {
		if len(d.Domain) == 0 {
			enumerated = false
		}
	}
	if enumerated {
		expandKey(make([]string, len(dims)), dims, 0, keys)
	}
	return keys
}

func expandKey(k []string, dims []Dimension, i int, out map[string][]string) {
	if i == len(dims) {
		out[joinKey(k)] = k
		return
	}
	if len(dims[i].Domain) == 0 {
		expandKey(k, dims, i+1, out)
		return
	}
	for _, v := range dims[i].Domain {
		next := append([]string(nil), k...)
		next[i] = v
		expandKey(next, dims, i+1, out)
	}
}

func sortedKeys(m map[string][]string, dims []Dimension) [][]string {
	out := make([][]string, 0, len(m))
	for _, k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i], out[j], dims) })
	return out
}

func lessKey(a, b []string, dims []Dimension) bool {
	for i := range a {
		if a[i] == b[i] {
			continue
		}
		if len(dims[i].Domain) > 0 {
			ai, bi := domainIndex(dims[i].Domain, a[i]), domainIndex(dims[i].Domain, b[i])
			if ai != bi {
				return ai < bi
			}
		}
		return lessValue(a[i], b[i])
	}
	return false
}

// domainIndex places values outside the domain after every domain value.
func domainIndex(domain []string, v string) int {
	for i, d := range domain {
		if d == v {
			return i
		}
	}
	return len(domain)
}

// lessValue orders numbers numerically and before any non-numeric value.
func lessValue(a, b string) bool {
	an, aErr := strconv.ParseFloat(a, 64)
	bn, bErr := strconv.ParseFloat(b, 64)
	switch {
	case aErr == nil && bErr == nil:
		return an < bn
	case aErr == nil:
		return true
	case bErr == nil:
		return false
	}
	return a < b
}
