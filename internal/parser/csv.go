package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/djherbis/times"

	"github.com/ThiagoRGoveia/ev-turnout/internal/models"
)

// Extensions read by ReadDirectory.
var Extensions = []string{".csv", ".txt"}

type Options struct {
	Delimiter rune
}

func (o Options) delimiter() rune {
	if o.Delimiter == 0 {
		return ','
	}
	return o.Delimiter
}

// RowStage enriches a row with derived metadata. Stages run in the order given.
type RowStage func(models.RawRow) models.RawRow

// VoteDateFromFilename parses the YYYYMMDD stem of a file name such as 20240220.csv.
func VoteDateFromFilename(path string) (time.Time, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	date, err := time.Parse(models.FileDateLayout, stem)
	if err != nil {
		return time.Time{}, &models.MalformedFilenameError{Path: path, Err: err}
	}
	return date, nil
}

// WithVoteDate stamps VOTE_DATE and YEAR.
func WithVoteDate(date time.Time) RowStage {
	voteDate := date.Format(models.DateLayout)
	year := strconv.Itoa(date.Year())
	return func(row models.RawRow) models.RawRow {
		row[models.ColVoteDate] = voteDate
		row[models.ColYear] = year
		return row
	}
}

// WithFileTimes stamps DATE_MODIFIED and DATE_ADDED.
func WithFileTimes(modified, added time.Time) RowStage {
	mod := modified.Format(models.DateTimeLayout)
	add := added.Format(models.DateTimeLayout)
	return func(row models.RawRow) models.RawRow {
		row[models.ColDateModified] = mod
		row[models.ColDateAdded] = add
		return row
	}
}

// WithPrimaryParty stamps PRIMARY_VOTED_IN.
func WithPrimaryParty(party models.Party) RowStage {
	return func(row models.RawRow) models.RawRow {
		row[models.ColPrimaryVotedIn] = string(party)
		return row
	}
}

// FileTimes returns the modification time and the best available creation time of a file.
// Filesystems without birth time report the inode change time, then the modification time.
func FileTimes(path string) (modified, added time.Time, err error) {
	ts, err := times.Stat(path)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	modified = ts.ModTime()
	switch {
	case ts.HasBirthTime():
		added = ts.BirthTime()
	case ts.HasChangeTime():
		added = ts.ChangeTime()
	default:
		added = modified
	}
	return modified, added, nil
}

// ReadFile lazily yields the rows of one delimited file whose name encodes its vote date.
// A malformed filename or unreadable header ends the sequence after one error; a malformed
// data row yields a *models.MalformedRowError and reading continues with the next row.
func ReadFile(path string, opts Options, stages ...RowStage) iter.Seq2[models.RawRow, error] {
	return func(yield func(models.RawRow, error) bool) {
		voteDate, err := VoteDateFromFilename(path)
		if err != nil {
			yield(nil, err)
			return
		}
		modified, added, err := FileTimes(path)
		if err != nil {
			yield(nil, err)
			return
		}

		file, err := os.Open(path)
		if err != nil {
			yield(nil, fmt.Errorf("failed to open file %s: %w", path, err))
			return
		}
		defer file.Close()

		reader := csv.NewReader(file)
		reader.Comma = opts.delimiter()

		header, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("file is empty")
			}
			yield(nil, &models.MalformedRowError{Path: path, Row: 1, Err: fmt.Errorf("failed to read header: %w", err)})
			return
		}
		for i, h := range header {
			header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		}

		all := append([]RowStage{WithVoteDate(voteDate), WithFileTimes(modified, added)}, stages...)

		rowNum := 1
		for {
			record, err := reader.Read()
			rowNum++
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var parseErr *csv.ParseError
				if !errors.As(err, &parseErr) {
					yield(nil, fmt.Errorf("failed to read %s: %w", path, err))
					return
				}
				if !yield(nil, &models.MalformedRowError{Path: path, Row: rowNum, Err: err}) {
					return
				}
				continue
			}

			row := make(models.RawRow, len(header)+8)
			for i, col := range header {
				row[col] = record[i]
			}
			row[models.ColSourceFile] = filepath.Base(path)
			row[models.ColSourceRow] = strconv.Itoa(rowNum)
			for _, stage := range all {
				row = stage(row)
			}

			if !yield(row, nil) {
				return
			}
		}
	}
}

// ListFiles returns the tabular files directly inside dir, sorted by name.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		for _, want := range Extensions {
			if ext == want {
				files = append(files, filepath.Join(dir, entry.Name()))
				break
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// ReadDirectory concatenates ReadFile over every tabular file in dir. When party is set every
// row is stamped with it. A bad file yields its error and the scan moves on to the next file.
func ReadDirectory(dir string, party models.Party, opts Options) iter.Seq2[models.RawRow, error] {
	return func(yield func(models.RawRow, error) bool) {
		files, err := ListFiles(dir)
		if err != nil {
			yield(nil, err)
			return
		}

		var stages []RowStage
		if party != "" {
			stages = append(stages, WithPrimaryParty(party))
		}

		for _, path := range files {
			for row, err := range ReadFile(path, opts, stages...) {
				if !yield(row, err) {
					return
				}
			}
		}
	}
}
