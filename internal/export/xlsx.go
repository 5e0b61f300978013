package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ThiagoRGoveia/ev-turnout/internal/aggregation"
)

const (
	summarySheet = "Summary"
	maxSheetName = 31
	ContentType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// SheetName shortens a crosstab name to Excel's 31 character limit.
func SheetName(name string) string {
	name = strings.Replace(name, "PrimaryPreviousElections", "PrevElections", 1)
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	return name
}

// Workbook lays the set out as one sheet per crosstab and share view, after a summary sheet.
func Workbook(set *aggregation.Set) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), summarySheet); err != nil {
		return nil, err
	}

	days := make([]any, 0, len(set.Days)+1)
	days = append(days, "days")
	for _, d := range set.Days {
		days = append(days, d)
	}
	if err := writeRows(f, summarySheet, [][]any{
		{"current_year", set.CurrentYear},
		days,
	}); err != nil {
		return nil, err
	}

	for _, name := range aggregation.Names() {
		var rows [][]any
		if ct, ok := set.Crosstabs[name]; ok {
			rows = crosstabRows(ct)
		} else if sv, ok := set.Shares[name]; ok {
			rows = shareRows(sv)
		} else {
			continue
		}

		sheet := SheetName(name)
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, fmt.Errorf("failed to add sheet %s: %w", sheet, err)
		}
		if err := writeRows(f, sheet, rows); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Write streams the workbook of set to w.
func Write(w io.Writer, set *aggregation.Set) error {
	f, err := Workbook(set)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteTo(w)
	return err
}

// SaveAs writes the workbook of set to path, creating its directory.
func SaveAs(path string, set *aggregation.Set) error {
	f, err := Workbook(set)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return f.SaveAs(path)
}

// crosstabRows renders the header (row dimensions, then one column per column key)
// followed by one line per row key.
func crosstabRows(ct *aggregation.Crosstab) [][]any {
	header := make([]any, 0, len(ct.RowDims)+len(ct.Cols))
	for _, d := range ct.RowDims {
		header = append(header, d)
	}
	for _, c := range ct.Cols {
		header = append(header, strings.Join(c, " "))
	}

	rows := [][]any{header}
	for i, key := range ct.Rows {
		line := make([]any, 0, len(header))
		for _, k := range key {
			line = append(line, k)
		}
		for _, n := range ct.Counts[i] {
			line = append(line, n)
		}
		rows = append(rows, line)
	}
	return rows
}

func shareRows(sv *aggregation.ShareView) [][]any {
	header := make([]any, 0, len(sv.Dims)+5)
	for _, d := range sv.Dims {
		header = append(header, d)
	}
	header = append(header, "voters", "prior_dem", "prior_rep", "percent_dem", "percent_rep")

	rows := [][]any{header}
	for _, r := range sv.Rows {
		line := make([]any, 0, len(header))
		for _, k := range r.Key {
			line = append(line, k)
		}
		line = append(line, r.Voters, r.PriorDem, r.PriorRep, r.PercentDem, r.PercentRep)
		rows = append(rows, line)
	}
	return rows
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
