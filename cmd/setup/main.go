package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/ThiagoRGoveia/ev-turnout/internal/config"
	"github.com/ThiagoRGoveia/ev-turnout/internal/database"
	"github.com/ThiagoRGoveia/ev-turnout/internal/logging"
	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
	"github.com/ThiagoRGoveia/ev-turnout/internal/parser"
)

func main() {
	voterFile := flag.String("voterfile", "", "optional voter file CSV to load into the voter_file table")
	flag.Parse()

	fmt.Println("Starting database setup...")

	cfg, err := config.New()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	dbManager, err := database.Open(ctx, cfg.DatabaseType, cfg.DatabaseURL, cfg.DBBatchSize, logger)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbManager.Close()

	fmt.Println("Creating tables...")
	if err := dbManager.CreateTables(ctx); err != nil {
		logger.Error("error creating tables", "error", err)
		dbManager.Close()
		os.Exit(1)
	}
	fmt.Println("Tables created successfully.")

	if *voterFile != "" {
		fmt.Printf("Loading voter file %s...\n", *voterFile)
		loaded, rejected, err := loadVoterFile(ctx, dbManager, *voterFile, cfg)
		if err != nil {
			logger.Error("error loading voter file", "error", err)
			dbManager.Close()
			os.Exit(1)
		}
		fmt.Printf("Voter file loaded: %d voters, %d rows rejected.\n", loaded, rejected)
	}

	fmt.Println("Database setup finished successfully.")
}

func loadVoterFile(ctx context.Context, db database.DBManager, path string, cfg *config.Config) (int, int, error) {
	codes := append(append([]string{}, cfg.Election.TrackedPrimaryCodes...), cfg.Election.TrackedGeneralCodes...)
	opts := parser.Options{Delimiter: rune(cfg.CSVDelimiter[0])}

	batch := make([]models.VoterFileEntry, 0, cfg.DBBatchSize)
	loaded, rejected := 0, 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := db.UpsertVoterFile(ctx, batch); err != nil {
			return err
		}
		loaded += len(batch)
		batch = batch[:0]
		return nil
	}

	for entry, err := range parser.ReadVoterFile(path, opts, codes) {
		if err != nil {
			var missing *models.MissingFieldError
			var malformed *models.MalformedRowError
			switch {
			case errors.As(err, &missing):
			case errors.As(err, &malformed) && malformed.Row > 1:
			default:
				return loaded, rejected, err
			}
			rejected++
			continue
		}
		batch = append(batch, entry)
		if len(batch) >= cfg.DBBatchSize {
			if err := flush(); err != nil {
				return loaded, rejected, err
			}
		}
	}
	return loaded, rejected, flush()
}
