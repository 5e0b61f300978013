package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Columns stamped onto every RawRow by the reader and the day assigner.
const (
	ColVoteDate       = "VOTE_DATE"
	ColYear           = "YEAR"
	ColDateModified   = "DATE_MODIFIED"
	ColDateAdded      = "DATE_ADDED"
	ColDayInEV        = "DAY_IN_EV"
	ColPrimaryVotedIn = "PRIMARY_VOTED_IN"
	ColSourceFile     = "SOURCE_FILE"
	ColSourceRow      = "SOURCE_ROW"
	ColVEPVUID        = "VEP_VUID"
)

// Source column aliases, first match wins.
var (
	AliasVoterID       = []string{"ID_VOTER", "VUID"}
	AliasFullName      = []string{"VOTER_NAME", "FULLNAME"}
	AliasFirstName     = []string{"FIRSTNAME"}
	AliasLastName      = []string{"LASTNAME"}
	AliasCounty        = []string{"COUNTY"}
	AliasVoteMethod    = []string{"VOTING_METHOD", "VOTE_METHOD"}
	AliasSenate        = []string{"STATE_LEGISLATIVE_UPPER", "SD"}
	AliasHouse         = []string{"STATE_LEGISLATIVE_LOWER", "HD"}
	AliasCongressional = []string{"CONGRESSIONAL", "CD"}
	AliasPrecinct      = []string{"PRECINCT"}
	AliasPollPlaceID   = []string{"POLL PLACE ID", "POLL_PLACE_ID"}
	AliasPollPlaceName = []string{"POLL PLACE NAME", "POLL_PLACE_NAME"}
	AliasDOB           = []string{"DOB"}
	AliasEDR           = []string{"EDR"}
	AliasVEP           = []string{ColVEPVUID, "VEP_REGISTRATION"}
)

const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
	FileDateLayout = "20060102"
)

// RawRow is one physical row of a source file keyed by header name.
type RawRow map[string]string

// Get returns the value of the first alias present in the row.
func (r RawRow) Get(aliases ...string) (string, bool) {
	for _, a := range aliases {
		if v, ok := r[a]; ok {
			return v, true
		}
	}
	return "", false
}

func (r RawRow) Clone() RawRow {
	out := make(RawRow, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Location describes where a row came from, for error reports.
func (r RawRow) Location() (string, int) {
	var row int
	fmt.Sscanf(r[ColSourceRow], "%d", &row)
	return r[ColSourceFile], row
}

type VoteMethod string

const (
	VoteMethodInPerson VoteMethod = "IN_PERSON"
	VoteMethodMailIn   VoteMethod = "MAIL_IN"
)

// ParseVoteMethod accepts the spellings used across county and state exports.
func ParseVoteMethod(s string) (VoteMethod, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch norm {
	case "IN_PERSON", "INPERSON":
		return VoteMethodInPerson, nil
	case "MAIL_IN", "MAILIN", "MAIL", "BY_MAIL":
		return VoteMethodMailIn, nil
	}
	return "", fmt.Errorf("unknown vote method %q", s)
}

type Party string

const (
	PartyDem Party = "dem"
	PartyRep Party = "rep"
)

func ParseParty(s string) (Party, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "democrat", "democratic", "dem", "d", "dnc":
		return PartyDem, nil
	case "republican", "rep", "gop", "r", "rnc":
		return PartyRep, nil
	}
	return "", fmt.Errorf("party must be 'dem' or 'rep', got %q", s)
}

type AgeRange string

const (
	AgeRangeUnknown AgeRange = "Unknown"
	AgeRange18To24  AgeRange = "18-24"
	AgeRange25To34  AgeRange = "25-34"
	AgeRange35To44  AgeRange = "35-44"
	AgeRange45To54  AgeRange = "45-54"
	AgeRange55To64  AgeRange = "55-64"
	AgeRange65To74  AgeRange = "65-74"
	AgeRange75To84  AgeRange = "75-84"
	AgeRange85Plus  AgeRange = "85+"
)

// AgeRanges lists the brackets in ascending order, Unknown first.
var AgeRanges = []AgeRange{
	AgeRangeUnknown, AgeRange18To24, AgeRange25To34, AgeRange35To44, AgeRange45To54,
	AgeRange55To64, AgeRange65To74, AgeRange75To84, AgeRange85Plus,
}

// VoterRecord is the canonical, validated turnout record.
type VoterRecord struct {
	VUID            string            `json:"vuid" validate:"required,numeric"`
	County          string            `json:"county" validate:"required"`
	FullName        string            `json:"full_name,omitempty"`
	FirstName       string            `json:"first_name,omitempty"`
	LastName        string            `json:"last_name,omitempty"`
	DOB             *time.Time        `json:"dob,omitempty"`
	EDR             *time.Time        `json:"edr,omitempty"`
	Age             *int              `json:"age,omitempty" validate:"omitempty,gte=0,lte=130"`
	AgeRange        AgeRange          `json:"age_range" validate:"required"`
	SD              string            `json:"sd,omitempty" validate:"omitempty,numeric"`
	HD              string            `json:"hd,omitempty" validate:"omitempty,numeric"`
	CD              string            `json:"cd,omitempty" validate:"omitempty,numeric"`
	Precinct        string            `json:"precinct,omitempty"`
	PollPlaceID     string            `json:"poll_place_id,omitempty"`
	PollPlaceName   string            `json:"poll_place_name,omitempty"`
	VoteMethod      VoteMethod        `json:"vote_method" validate:"required,oneof=IN_PERSON MAIL_IN"`
	VoteDate        time.Time         `json:"vote_date" validate:"required"`
	Year            int               `json:"year" validate:"gte=1900"`
	DayInEV         int               `json:"day_in_ev" validate:"gte=0"`
	PrimaryVotedIn  Party             `json:"primary_voted_in" validate:"required,oneof=dem rep"`
	VEPRegistration bool              `json:"vep_registration"`
	NewVoter        bool              `json:"new_voter"`
	History         map[string]string `json:"history,omitempty"`

	PrimaryCount      int     `json:"primary_count" validate:"gte=0"`
	GeneralCount      int     `json:"general_count" validate:"gte=0"`
	PrimaryCountDem   int     `json:"primary_count_dem" validate:"gte=0,ltefield=PrimaryCount"`
	PrimaryCountRep   int     `json:"primary_count_rep" validate:"gte=0,ltefield=PrimaryCount"`
	PrimaryPercentDem float64 `json:"primary_percent_dem"`
	PrimaryPercentRep float64 `json:"primary_percent_rep"`
	GeneralPercentDem float64 `json:"general_percent_dem"`
	GeneralPercentRep float64 `json:"general_percent_rep"`

	SourceFile   string    `json:"source_file,omitempty"`
	FileModified time.Time `json:"file_modified"`
	FileAdded    time.Time `json:"file_added"`
}

// VoterFileEntry is one voter's row in the historical voter file joined with their election history.
type VoterFileEntry struct {
	VUID    string
	DOB     string
	EDR     string
	SD      string
	HD      string
	CD      string
	History map[string]string
}

// Fill copies voter file attributes into the row where the row has none (left join).
func (e VoterFileEntry) Fill(row RawRow) {
	set := func(aliases []string, v string) {
		if v == "" {
			return
		}
		if cur, ok := row.Get(aliases...); ok && strings.TrimSpace(cur) != "" {
			return
		}
		row[aliases[0]] = v
	}
	set(AliasDOB, e.DOB)
	set(AliasEDR, e.EDR)
	set(AliasSenate, e.SD)
	set(AliasHouse, e.HD)
	set(AliasCongressional, e.CD)
	set(AliasVEP, e.VUID)
	for code, v := range e.History {
		set([]string{code}, v)
	}
}

// RecordFilter narrows QueryRecords. Zero values mean "any".
type RecordFilter struct {
	Year   int
	Party  Party
	County string
	SD     string
	HD     string
	CD     string
	DaysIn []int
	Limit  int
	Offset int
}

// Cycle identifies one primary election: a year and the party whose primary it is.
type Cycle struct {
	Year  int
	Party Party
}

func (c Cycle) String() string {
	return fmt.Sprintf("%d/%s", c.Year, c.Party)
}

// CanonicalDistrict strips leading zeros from a numeric district so "049" and "49" agree.
// Blank and non-numeric values are returned trimmed.
func CanonicalDistrict(v string) string {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return strconv.Itoa(n)
	}
	return v
}

// ParseCycle reads the "year/party" form produced by Cycle.String.
func ParseCycle(s string) (Cycle, error) {
	yearStr, partyStr, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Cycle{}, fmt.Errorf("cycle must look like 2024/rep, got %q", s)
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil || year < 1900 {
		return Cycle{}, fmt.Errorf("invalid cycle year %q", yearStr)
	}
	party, err := ParseParty(partyStr)
	if err != nil {
		return Cycle{}, err
	}
	return Cycle{Year: year, Party: party}, nil
}

type FileInfo struct {
	Path     string
	VoteDate time.Time
	Checksum string
}

type AppError struct {
	FileID  int    `json:"file_id"`
	File    string `json:"file,omitempty"`
	Row     int    `json:"row,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	loc := fmt.Sprintf("FileID %d", e.FileID)
	if e.File != "" {
		loc = e.File
	}
	if e.Row > 0 {
		loc = fmt.Sprintf("%s row %d", loc, e.Row)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s - %v", loc, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", loc, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// MarshalJSON keeps the wrapped cause readable in the file_records.errors column.
func (e AppError) MarshalJSON() ([]byte, error) {
	type alias AppError
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(struct {
		alias
		Cause string `json:"error,omitempty"`
	}{alias(e), cause})
}

const MaxErrorsPerFile = 100

// FileErrorMap groups row-level errors by file path.
type FileErrorMap struct {
	Errors  map[string][]AppError
	Dropped map[string]int
	Mu      sync.Mutex
}

func NewFileErrorMap() *FileErrorMap {
	return &FileErrorMap{Errors: make(map[string][]AppError), Dropped: make(map[string]int)}
}

// Add records err under its file, keeping at most MaxErrorsPerFile per file.
func (m *FileErrorMap) Add(err AppError) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Errors[err.File]) >= MaxErrorsPerFile {
		m.Dropped[err.File]++
		return
	}
	m.Errors[err.File] = append(m.Errors[err.File], err)
}

func (m *FileErrorMap) Count() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	n := 0
	for file, errs := range m.Errors {
		n += len(errs) + m.Dropped[file]
	}
	return n
}
