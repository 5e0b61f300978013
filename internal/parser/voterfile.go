package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"

	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

// ReadVoterFile lazily yields the entries of a historical voter file export. Columns are
// matched by the same aliases as turnout files; columns named after a code in historyCodes
// become the entry's election history. Rows without a voter ID yield a MissingFieldError.
func ReadVoterFile(path string, opts Options, historyCodes []string) iter.Seq2[models.VoterFileEntry, error] {
	return func(yield func(models.VoterFileEntry, error) bool) {
		file, err := os.Open(path)
		if err != nil {
			yield(models.VoterFileEntry{}, fmt.Errorf("failed to open voter file %s: %w", path, err))
			return
		}
		defer file.Close()

		reader := csv.NewReader(file)
		reader.Comma = opts.delimiter()
		reader.FieldsPerRecord = -1

		header, err := reader.Read()
		if err != nil {
			yield(models.VoterFileEntry{}, &models.MalformedRowError{Path: path, Row: 1, Err: err})
			return
		}
		for i, h := range header {
			header[i] = strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		}

		rowNum := 1
		for {
			record, err := reader.Read()
			rowNum++
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if !yield(models.VoterFileEntry{}, &models.MalformedRowError{Path: path, Row: rowNum, Err: err}) {
					return
				}
				continue
			}

			row := make(models.RawRow, len(header))
			for i, col := range header {
				if i < len(record) {
					row[col] = strings.TrimSpace(record[i])
				}
			}

			entry, err := voterFileEntry(row, historyCodes)
			if err != nil {
				err = &models.MissingFieldError{Path: path, Row: rowNum, Field: "VUID"}
			}
			if !yield(entry, err) {
				return
			}
		}
	}
}

func voterFileEntry(row models.RawRow, historyCodes []string) (models.VoterFileEntry, error) {
	vuid, _ := row.Get(models.AliasVoterID...)
	if vuid == "" {
		return models.VoterFileEntry{}, errors.New("missing voter id")
	}
	entry := models.VoterFileEntry{VUID: vuid, History: map[string]string{}}
	entry.DOB, _ = row.Get(models.AliasDOB...)
	entry.EDR, _ = row.Get(models.AliasEDR...)
	entry.SD, _ = row.Get(models.AliasSenate...)
	entry.HD, _ = row.Get(models.AliasHouse...)
	entry.CD, _ = row.Get(models.AliasCongressional...)
	for _, code := range historyCodes {
		if v := strings.ToUpper(row[code]); v != "" {
			entry.History[code] = v
		}
	}
	return entry, nil
}
