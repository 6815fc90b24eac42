// Package export writes preview matches to CSV or XLSX and reads user ids back for apply.
package export

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/review-cli/internal/model"
)

// Format is a supported file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// SheetName is the worksheet XLSX exports are written to.
const SheetName = "matches"

// Header is the column layout of an export. user_id comes first so a plain id
// list is also a valid import.
var Header = []string{
	"user_id",
	"applicant_id",
	"name",
	"email",
	"current_status",
	"normalized_avg_rating",
	"review_count",
	"confidence",
}

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("export: unsupported file type %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

// WriteMatches writes preview matches to path in the format its extension names.
func WriteMatches(path string, matches []model.SampleEntry) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(matches)+1)
	rows = append(rows, Header)
	for _, m := range matches {
		rows = append(rows, record(m))
	}

	if format == FormatXLSX {
		return writeXLSX(path, rows)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := writeCSV(f, rows); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}

// ReadIDs reads user ids from a CSV or XLSX file. It uses the user_id column
// when a header names one, else the first column. Blank cells are skipped.
func ReadIDs(path string) ([]string, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	if format == FormatXLSX {
		rows, err = readXLSX(path)
	} else {
		rows, err = readCSVFile(path)
	}
	if err != nil {
		return nil, err
	}
	return idsFromRows(rows), nil
}

func record(m model.SampleEntry) []string {
	rating := ""
	if m.NormalizedAvgRating != nil {
		rating = strconv.FormatFloat(*m.NormalizedAvgRating, 'f', 2, 64)
	}
	return []string{
		m.UserID,
		m.ApplicantID,
		m.Name,
		m.Email,
		string(m.CurrentStatus),
		rating,
		strconv.Itoa(m.ReviewCount),
		strconv.Itoa(m.Confidence),
	}
}

func idsFromRows(rows [][]string) []string {
	if len(rows) == 0 {
		return nil
	}

	col := 0
	start := 0
	for i, h := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(h), "user_id") {
			col = i
			start = 1
			break
		}
	}

	var ids []string
	for _, row := range rows[start:] {
		if col >= len(row) {
			continue
		}
		if id := strings.TrimSpace(row[col]); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func writeCSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return eris.Wrap(err, "export: write csv")
	}
	return nil
}

func readCSVFile(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "export: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "export: read csv %s", path)
	}
	return rows, nil
}
