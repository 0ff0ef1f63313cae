// Package tabular turns uploaded CSV and XLSX files into flat rows.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"github.com/seanblong/csvchat/pkg/models"
)

// ErrDecode is matched by every *DecodeError.
var ErrDecode = errors.New("file could not be decoded")

// DecodeError reports a file that is not valid UTF-8 text or not a readable workbook.
type DecodeError struct {
	File string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %v", e.File, e.Err)
	}
	return fmt.Sprintf("decode %s: invalid UTF-8", e.File)
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func (e *DecodeError) Unwrap() error { return e.Err }

// File is an uploaded file: its name and raw bytes.
type File struct {
	Name string
	Data []byte
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// IsSupported reports whether name has an extension Flatten understands.
func IsSupported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// Flatten reads every file and returns one Row per non-empty data record, in
// file order then record order. A file that cannot be decoded is skipped and
// reported; the rows of the remaining files are still returned.
func Flatten(files []File) ([]models.Row, error) {
	var (
		rows []models.Row
		errs []error
	)
	for _, f := range files {
		records, err := records(f)
		if err != nil {
			log.Warn().Err(err).Str("file", f.Name).Msg("skipping file")
			errs = append(errs, err)
			continue
		}
		n := len(rows)
		rows = appendRows(rows, records)
		log.Debug().Str("file", f.Name).Int("rows", len(rows)-n).Msg("flattened")
	}
	return rows, errors.Join(errs...)
}

func records(f File) ([][]string, error) {
	if strings.EqualFold(filepath.Ext(f.Name), ".xlsx") {
		return workbookRecords(f)
	}
	return csvRecords(f)
}

func csvRecords(f File) ([][]string, error) {
	data := bytes.TrimPrefix(f.Data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, &DecodeError{File: f.Name}
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var out [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &DecodeError{File: f.Name, Err: err}
		}
		out = append(out, rec)
	}
	return out, nil
}

// workbookRecords reads the first sheet of an .xlsx workbook.
func workbookRecords(f File) ([][]string, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(f.Data))
	if err != nil {
		return nil, &DecodeError{File: f.Name, Err: err}
	}
	defer func() {
		if err := wb.Close(); err != nil {
			log.Warn().Err(err).Str("file", f.Name).Msg("close workbook")
		}
	}()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, &DecodeError{File: f.Name, Err: err}
	}
	return rows, nil
}

// appendRows maps each record after the header onto the header names.
// Missing trailing fields are omitted and fields beyond the header dropped.
// A repeated header name keeps its first position and its last value.
func appendRows(rows []models.Row, records [][]string) []models.Row {
	if len(records) == 0 {
		return rows
	}
	headers := records[0]
	for _, rec := range records[1:] {
		if len(rec) == 0 {
			continue
		}
		n := min(len(headers), len(rec))
		row := models.Row{Fields: make([]models.Field, 0, n)}
		seen := make(map[string]int, n)
		for i := 0; i < n; i++ {
			if j, ok := seen[headers[i]]; ok {
				row.Fields[j].Value = rec[i]
				continue
			}
			seen[headers[i]] = len(row.Fields)
			row.Fields = append(row.Fields, models.Field{Key: headers[i], Value: rec[i]})
		}
		rows = append(rows, row)
	}
	return rows
}
