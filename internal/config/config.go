package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

const envPrefix = "EVT"

type Config struct {
	DatabaseURL     string `envconfig:"DATABASE_URL" required:"true"`
	DatabaseType    string `envconfig:"DATABASE_TYPE" default:"postgres"`
	DataDir         string `envconfig:"DATA_DIR" default:"data/earlyvote_days"`
	ElectionFile    string `envconfig:"ELECTION_FILE" default:"election.yaml"`
	CSVDelimiter    string `envconfig:"CSV_DELIMITER" default:","`
	NumCycleWorkers int    `envconfig:"NUM_CYCLE_WORKERS" default:"2"`
	DBBatchSize     int    `envconfig:"DB_BATCH_SIZE" default:"5000"`
	APIPort         int    `envconfig:"API_PORT" default:"8080"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat       string `envconfig:"LOG_FORMAT" default:"json"`

	Election Election `ignored:"true"`
}

// Election holds the per-cycle settings the day numbering and scoring depend on.
type Election struct {
	CurrentYear         int               `yaml:"current_year"`
	EarlyVotingStart    string            `yaml:"early_voting_start"`
	ElectionDay         string            `yaml:"election_day"`
	NewVoterCutoff      string            `yaml:"new_voter_cutoff"`
	CurrentPrimaryCode  string            `yaml:"current_primary_code"`
	TrackedPrimaryCodes []string          `yaml:"tracked_primary_codes"`
	TrackedGeneralCodes []string          `yaml:"tracked_general_codes"`
	PartyLetters        map[string]string `yaml:"party_letters"`
	Cycles              []CycleConfig     `yaml:"cycles"`

	earlyVotingStart time.Time
	electionDay      time.Time
	newVoterCutoff   time.Time
}

type CycleConfig struct {
	Year  int    `yaml:"year"`
	Party string `yaml:"party"`
	Dir   string `yaml:"dir,omitempty"`
}

// DefaultElection is the 2024 Texas primary.
func DefaultElection() Election {
	return Election{
		CurrentYear:         2024,
		EarlyVotingStart:    "2024-02-20",
		ElectionDay:         "2024-03-05",
		NewVoterCutoff:      "2022-11-08",
		CurrentPrimaryCode:  "PRI24",
		TrackedPrimaryCodes: []string{"PRI18", "PRI20", "PRI22", "PRI24"},
		TrackedGeneralCodes: []string{"GEN18", "GEN20", "GEN22"},
		PartyLetters:        map[string]string{"dem": "D", "rep": "R"},
		Cycles: []CycleConfig{
			{Year: 2020, Party: "rep"},
			{Year: 2022, Party: "rep"},
			{Year: 2022, Party: "dem"},
			{Year: 2024, Party: "rep"},
			{Year: 2024, Party: "dem"},
		},
	}
}

func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("could not load .env file", "error", err)
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	election, err := LoadElection(cfg.ElectionFile)
	if err != nil {
		return nil, err
	}
	cfg.Election = *election

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadElection reads the YAML settings file, falling back to DefaultElection when it does not exist.
// Keys missing from the file keep their default values.
func LoadElection(path string) (*Election, error) {
	election := DefaultElection()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("election settings file not found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read election settings %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &election); err != nil {
			return nil, fmt.Errorf("failed to parse election settings %s: %w", path, err)
		}
	}

	if err := election.resolve(); err != nil {
		return nil, err
	}
	return &election, nil
}

func (c *Config) validate() error {
	switch c.DatabaseType {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DATABASE_TYPE must be postgres or sqlite, got %q", c.DatabaseType)
	}
	if len(c.CSVDelimiter) != 1 {
		return fmt.Errorf("CSV_DELIMITER must be a single character, got %q", c.CSVDelimiter)
	}
	if c.NumCycleWorkers < 1 {
		return fmt.Errorf("NUM_CYCLE_WORKERS must be positive, got %d", c.NumCycleWorkers)
	}
	if c.DBBatchSize < 1 {
		return fmt.Errorf("DB_BATCH_SIZE must be positive, got %d", c.DBBatchSize)
	}
	return nil
}

func (e *Election) resolve() error {
	var err error
	if e.earlyVotingStart, err = parseDate("early_voting_start", e.EarlyVotingStart); err != nil {
		return err
	}
	if e.electionDay, err = parseDate("election_day", e.ElectionDay); err != nil {
		return err
	}
	if e.newVoterCutoff, err = parseDate("new_voter_cutoff", e.NewVoterCutoff); err != nil {
		return err
	}
	if !e.earlyVotingStart.Before(e.electionDay) {
		return fmt.Errorf("early_voting_start %s must be before election_day %s", e.EarlyVotingStart, e.ElectionDay)
	}
	if e.earlyVotingStart.Year() != e.CurrentYear {
		return fmt.Errorf("early_voting_start %s is not in current_year %d", e.EarlyVotingStart, e.CurrentYear)
	}

	if err := checkCodes("tracked_primary_codes", e.TrackedPrimaryCodes); err != nil {
		return err
	}
	if err := checkCodes("tracked_general_codes", e.TrackedGeneralCodes); err != nil {
		return err
	}
	tracked := false
	for _, code := range e.TrackedPrimaryCodes {
		if code == e.CurrentPrimaryCode {
			tracked = true
		}
	}
	if !tracked {
		return fmt.Errorf("current_primary_code %q is not in tracked_primary_codes", e.CurrentPrimaryCode)
	}

	for _, party := range []models.Party{models.PartyDem, models.PartyRep} {
		if len(e.PartyLetters[string(party)]) != 1 {
			return fmt.Errorf("party_letters must map %s to a single letter", party)
		}
	}

	for i, c := range e.Cycles {
		if _, err := models.ParseParty(c.Party); err != nil {
			return fmt.Errorf("cycles[%d]: %w", i, err)
		}
		if c.Year < 1900 {
			return fmt.Errorf("cycles[%d]: invalid year %d", i, c.Year)
		}
	}
	return nil
}

func (e Election) EarlyVotingStartDate() time.Time { return e.earlyVotingStart }
func (e Election) ElectionDayDate() time.Time      { return e.electionDay }
func (e Election) NewVoterCutoffDate() time.Time   { return e.newVoterCutoff }

// PartyLetter returns the history-code letter for party, e.g. "R" for rep.
func (e Election) PartyLetter(party models.Party) string {
	return e.PartyLetters[string(party)]
}

// CycleList returns the configured cycles as typed values.
func (e Election) CycleList() []models.Cycle {
	cycles := make([]models.Cycle, 0, len(e.Cycles))
	for _, c := range e.Cycles {
		party, _ := models.ParseParty(c.Party)
		cycles = append(cycles, models.Cycle{Year: c.Year, Party: party})
	}
	return cycles
}

// CycleDir returns the override directory for a cycle, or "" when the default layout applies.
func (e Election) CycleDir(cycle models.Cycle) string {
	for _, c := range e.Cycles {
		party, _ := models.ParseParty(c.Party)
		if c.Year == cycle.Year && party == cycle.Party {
			return c.Dir
		}
	}
	return ""
}

func parseDate(key, value string) (time.Time, error) {
	d, err := time.Parse(models.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: expected YYYY-MM-DD", key, value)
	}
	return d, nil
}

func checkCodes(key string, codes []string) error {
	if len(codes) == 0 {
		return fmt.Errorf("%s must not be empty", key)
	}
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		if seen[code] {
			return fmt.Errorf("%s lists %s more than once", key, code)
		}
		seen[code] = true
	}
	return nil
}
