package normalize

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ThiagoRGoveia/ev-turnout/internal/config"
	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

// Recorder counts history codes that are neither dem- nor rep-coded.
type Recorder interface {
	AmbiguousHistoryCode(election string)
}

type nopRecorder struct{}

func (nopRecorder) AmbiguousHistoryCode(string) {}

// Normalizer turns day-stamped raw rows into validated VoterRecords.
type Normalizer struct {
	election config.Election
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
	validate *validator.Validate
	stages   []stage

	demCodes map[string]bool
	repCodes map[string]bool
}

type Option func(*Normalizer)

// WithClock fixes "today" for age computation and vote-date checks.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

func WithRecorder(r Recorder) Option {
	return func(n *Normalizer) { n.recorder = r }
}

// draft carries one row through the stages. fields holds only non-blank values.
type draft struct {
	fields models.RawRow
	rec    models.VoterRecord
}

type stage struct {
	name  string
	apply func(*Normalizer, *draft) error
}

// Stage order matters: each stage reads what earlier stages wrote.
var pipeline = []stage{
	{"clear_blanks", (*Normalizer).clearBlanks},
	{"map_fields", (*Normalizer).mapFields},
	{"split_name", (*Normalizer).splitName},
	{"new_voter", (*Normalizer).detectNewVoter},
	{"current_history_code", (*Normalizer).deriveCurrentHistoryCode},
	{"age", (*Normalizer).computeAge},
	{"age_range", (*Normalizer).assignAgeRange},
	{"participation", (*Normalizer).countParticipation},
	{"party_primaries", (*Normalizer).countPartyPrimaries},
	{"percentages", (*Normalizer).derivePercentages},
}

func New(election config.Election, logger *slog.Logger, opts ...Option) *Normalizer {
	n := &Normalizer{
		election: election,
		logger:   logger.With("component", "normalizer"),
		recorder: nopRecorder{},
		now:      time.Now,
		validate: validator.New(),
		stages:   pipeline,
	}
	for _, opt := range opts {
		opt(n)
	}

	n.demCodes = partyCodes(election.PartyLetter(models.PartyDem))
	n.repCodes = partyCodes(election.PartyLetter(models.PartyRep))
	return n
}

// partyCodes returns the canonical history codes of one party: voted on election day, early, or by mail.
func partyCodes(letter string) map[string]bool {
	return map[string]bool{letter: true, letter + "E": true, letter + "A": true}
}

// Normalize runs every stage over a copy of row and validates the result.
func (n *Normalizer) Normalize(row models.RawRow) (models.VoterRecord, error) {
	d := &draft{fields: row.Clone()}
	for _, s := range n.stages {
		if err := s.apply(n, d); err != nil {
			n.logger.Debug("row rejected", "stage", s.name, "error", err)
			return models.VoterRecord{}, err
		}
	}
	if err := n.validate.Struct(d.rec); err != nil {
		return models.VoterRecord{}, validationError(err)
	}
	return d.rec, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &models.RecordValidationError{Field: "record", Reason: err.Error(), Err: err}
	}
	fe := verrs[0]
	reason := fe.Tag()
	if fe.Param() != "" {
		reason = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
	}
	return &models.RecordValidationError{
		Field:  fe.Field(),
		Value:  fmt.Sprint(fe.Value()),
		Reason: "failed " + reason,
		Err:    err,
	}
}

// clearBlanks drops fields that are empty, a lone quote or the literal "null".
func (n *Normalizer) clearBlanks(d *draft) error {
	for k, v := range d.fields {
		v = collapseSpace(v)
		switch strings.ToLower(v) {
		case "", `"`, "'", "null":
			delete(d.fields, k)
		default:
			d.fields[k] = v
		}
	}
	return nil
}

func (n *Normalizer) required(d *draft, field string, aliases ...string) (string, error) {
	if v, ok := d.fields.Get(aliases...); ok {
		return v, nil
	}
	file, row := d.fields.Location()
	return "", &models.MissingFieldError{Path: file, Row: row, Field: field}
}

func (n *Normalizer) mapFields(d *draft) error {
	f := d.fields
	rec := &d.rec

	var err error
	if rec.VUID, err = n.required(d, "VUID", models.AliasVoterID...); err != nil {
		return err
	}
	if rec.County, err = n.required(d, "COUNTY", models.AliasCounty...); err != nil {
		return err
	}

	method, err := n.required(d, "VOTE_METHOD", models.AliasVoteMethod...)
	if err != nil {
		return err
	}
	if rec.VoteMethod, err = models.ParseVoteMethod(method); err != nil {
		return &models.RecordValidationError{Field: "VOTE_METHOD", Value: method, Reason: "unknown vote method", Err: err}
	}

	voteDate, err := n.required(d, models.ColVoteDate, models.ColVoteDate)
	if err != nil {
		return err
	}
	if rec.VoteDate, err = parseDate(voteDate); err != nil {
		return &models.RecordValidationError{Field: models.ColVoteDate, Value: voteDate, Reason: "expected YYYY-MM-DD", Err: err}
	}
	if rec.VoteDate.After(n.now()) {
		return &models.RecordValidationError{Field: models.ColVoteDate, Value: voteDate, Reason: "vote date is in the future"}
	}

	year, err := n.required(d, models.ColYear, models.ColYear)
	if err != nil {
		return err
	}
	if rec.Year, err = strconv.Atoi(year); err != nil {
		return &models.RecordValidationError{Field: models.ColYear, Value: year, Reason: "not an integer", Err: err}
	}
	if rec.Year != rec.VoteDate.Year() {
		return &models.RecordValidationError{
			Field: models.ColYear, Value: year,
			Reason: fmt.Sprintf("does not match vote date year %d", rec.VoteDate.Year()),
		}
	}

	day, err := n.required(d, models.ColDayInEV, models.ColDayInEV)
	if err != nil {
		return err
	}
	if rec.DayInEV, err = strconv.Atoi(day); err != nil {
		return &models.RecordValidationError{Field: models.ColDayInEV, Value: day, Reason: "not an integer", Err: err}
	}

	party, err := n.required(d, models.ColPrimaryVotedIn, models.ColPrimaryVotedIn)
	if err != nil {
		return err
	}
	if rec.PrimaryVotedIn, err = models.ParseParty(party); err != nil {
		return &models.RecordValidationError{Field: models.ColPrimaryVotedIn, Value: party, Reason: "unknown party", Err: err}
	}

	rec.FullName, _ = f.Get(models.AliasFullName...)
	rec.FirstName, _ = f.Get(models.AliasFirstName...)
	rec.LastName, _ = f.Get(models.AliasLastName...)
	for _, d := range []struct {
		dst     *string
		aliases []string
	}{
		{&rec.SD, models.AliasSenate},
		{&rec.HD, models.AliasHouse},
		{&rec.CD, models.AliasCongressional},
	} {
		v, _ := f.Get(d.aliases...)
		*d.dst = models.CanonicalDistrict(v)
	}
	rec.Precinct, _ = f.Get(models.AliasPrecinct...)
	rec.PollPlaceID, _ = f.Get(models.AliasPollPlaceID...)
	rec.PollPlaceName, _ = f.Get(models.AliasPollPlaceName...)
	_, rec.VEPRegistration = f.Get(models.AliasVEP...)
	rec.SourceFile = f[models.ColSourceFile]

	if v, ok := f.Get(models.AliasDOB...); ok {
		dob, err := parseDate(v)
		if err != nil {
			return &models.RecordValidationError{Field: "DOB", Value: v, Reason: "unparseable date", Err: err}
		}
		rec.DOB = &dob
	}
	if v, ok := f.Get(models.AliasEDR...); ok {
		edr, err := parseDate(v)
		if err != nil {
			return &models.RecordValidationError{Field: "EDR", Value: v, Reason: "unparseable date", Err: err}
		}
		rec.EDR = &edr
	}
	if v, ok := f[models.ColDateModified]; ok {
		rec.FileModified, _ = time.Parse(models.DateTimeLayout, v)
	}
	if v, ok := f[models.ColDateAdded]; ok {
		rec.FileAdded, _ = time.Parse(models.DateTimeLayout, v)
	}

	rec.History = make(map[string]string)
	for _, code := range n.trackedCodes() {
		if v, ok := f[code]; ok {
			rec.History[code] = strings.ToUpper(v)
		}
	}
	return nil
}

func (n *Normalizer) trackedCodes() []string {
	codes := make([]string, 0, len(n.election.TrackedPrimaryCodes)+len(n.election.TrackedGeneralCodes))
	codes = append(codes, n.election.TrackedPrimaryCodes...)
	return append(codes, n.election.TrackedGeneralCodes...)
}

// splitName fills first and last name from the full name unless the row already has them.
func (n *Normalizer) splitName(d *draft) error {
	rec := &d.rec
	if rec.FullName == "" || (rec.FirstName != "" && rec.LastName != "") {
		return nil
	}
	first, last := SplitName(rec.FullName)
	if rec.FirstName == "" {
		rec.FirstName = first
	}
	if rec.LastName == "" {
		rec.LastName = last
	}
	return nil
}

func (n *Normalizer) detectNewVoter(d *draft) error {
	if d.rec.EDR != nil && d.rec.EDR.After(n.election.NewVoterCutoffDate()) {
		d.rec.NewVoter = true
	}
	return nil
}

// deriveCurrentHistoryCode sets the current primary's code from how the voter voted:
// "A" suffix by mail, "E" suffix in person before election day, bare letter on election day.
func (n *Normalizer) deriveCurrentHistoryCode(d *draft) error {
	rec := &d.rec
	if rec.Year != n.election.CurrentYear {
		return nil
	}
	code := n.election.PartyLetter(rec.PrimaryVotedIn)
	switch {
	case rec.VoteMethod == models.VoteMethodMailIn:
		code += "A"
	case rec.VoteDate.Before(n.election.ElectionDayDate()):
		code += "E"
	}
	rec.History[n.election.CurrentPrimaryCode] = code
	return nil
}

func (n *Normalizer) computeAge(d *draft) error {
	rec := &d.rec
	if rec.DOB == nil {
		return nil
	}
	today := n.now()
	if rec.DOB.After(today) {
		return &models.RecordValidationError{Field: "DOB", Value: rec.DOB.Format(models.DateLayout), Reason: "date of birth is in the future"}
	}
	age := AgeOn(*rec.DOB, today)
	if age < MinVoterAge {
		return &models.RecordValidationError{
			Field: "DOB", Value: rec.DOB.Format(models.DateLayout),
			Reason: fmt.Sprintf("voter is %d, below the minimum voting age of %d", age, MinVoterAge),
		}
	}
	rec.Age = &age
	return nil
}

// MinVoterAge is the youngest age that can appear on a primary roll: a 17-year-old who
// turns 18 by the general election may vote in the primary.
const MinVoterAge = 17

// AgeOn returns whole years between dob and today.
func AgeOn(dob, today time.Time) int {
	age := today.Year() - dob.Year()
	if today.Month() < dob.Month() || (today.Month() == dob.Month() && today.Day() < dob.Day()) {
		age--
	}
	return age
}

func (n *Normalizer) assignAgeRange(d *draft) error {
	if d.rec.Age == nil {
		d.rec.AgeRange = models.AgeRangeUnknown
		return nil
	}
	d.rec.AgeRange = AgeRangeFor(*d.rec.Age)
	return nil
}

// AgeRangeFor maps an age to its bracket. Primary voters who are still 17 count in the
// youngest bracket; ages below MinVoterAge have no bracket.
func AgeRangeFor(age int) models.AgeRange {
	switch {
	case age < MinVoterAge:
		return models.AgeRangeUnknown
	case age < 25:
		return models.AgeRange18To24
	case age < 35:
		return models.AgeRange25To34
	case age < 45:
		return models.AgeRange35To44
	case age < 55:
		return models.AgeRange45To54
	case age < 65:
		return models.AgeRange55To64
	case age < 75:
		return models.AgeRange65To74
	case age < 85:
		return models.AgeRange75To84
	default:
		return models.AgeRange85Plus
	}
}

func (n *Normalizer) countParticipation(d *draft) error {
	rec := &d.rec
	for _, code := range n.election.TrackedPrimaryCodes {
		if _, ok := rec.History[code]; ok {
			rec.PrimaryCount++
		}
	}
	for _, code := range n.election.TrackedGeneralCodes {
		if _, ok := rec.History[code]; ok {
			rec.GeneralCount++
		}
	}
	return nil
}

func (n *Normalizer) countPartyPrimaries(d *draft) error {
	rec := &d.rec
	for _, election := range n.election.TrackedPrimaryCodes {
		code, ok := rec.History[election]
		if !ok {
			continue
		}
		switch {
		case n.demCodes[code]:
			rec.PrimaryCountDem++
		case n.repCodes[code]:
			rec.PrimaryCountRep++
		default:
			file, row := d.fields.Location()
			n.logger.Warn("ambiguous history code",
				"file", file, "row", row, "vuid", rec.VUID,
				"error", &models.AmbiguousHistoryCodeError{Election: election, Code: code})
			n.recorder.AmbiguousHistoryCode(election)
		}
	}
	return nil
}

// derivePercentages divides party primary counts by the size of each tracked list.
// The general share can exceed one when primaries outnumber generals, so it is capped at 1.
func (n *Normalizer) derivePercentages(d *draft) error {
	rec := &d.rec
	primaries := float64(len(n.election.TrackedPrimaryCodes))
	generals := float64(len(n.election.TrackedGeneralCodes))
	if rec.PrimaryCount > 0 {
		rec.PrimaryPercentDem = share(rec.PrimaryCountDem, primaries)
		rec.PrimaryPercentRep = share(rec.PrimaryCountRep, primaries)
	}
	if rec.GeneralCount > 0 {
		rec.GeneralPercentDem = share(rec.PrimaryCountDem, generals)
		rec.GeneralPercentRep = share(rec.PrimaryCountRep, generals)
	}
	return nil
}

func share(count int, total float64) float64 {
	if total == 0 {
		return 0
	}
	return math.Min(1, math.Round(float64(count)/total*100)/100)
}

var dateLayouts = []string{models.DateLayout, "01/02/2006", "1/2/2006", models.FileDateLayout, models.DateTimeLayout}

func parseDate(s string) (time.Time, error) {
	var err error
	for _, layout := range dateLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
