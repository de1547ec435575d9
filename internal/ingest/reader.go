package ingest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/asinlab/shelfrun/internal/domain"
)

// Reader loads discovered export files into SourceRecord batches.
type Reader struct {
	log zerolog.Logger
}

func NewReader(log zerolog.Logger) *Reader {
	return &Reader{log: log.With().Str("component", "ingest").Logger()}
}

// Read loads one file. The first non-empty row is the header; every following
// row becomes a SourceRecord with raw header->cell text. Typing and renaming
// belong to the normalizer, not here.
func (r *Reader) Read(f File) ([]domain.SourceRecord, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".xlsx":
		rows, err = readXLSX(f.Path)
	case ".csv":
		rows, err = readCSV(f.Path)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", f.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}

	header, start := headerRow(rows)
	if header == nil {
		return nil, nil
	}

	records := make([]domain.SourceRecord, 0, len(rows)-start)
	for i := start; i < len(rows); i++ {
		cells := rows[i]
		if isEmptyRow(cells) {
			continue
		}
		fields := make(map[string]string, len(header))
		for col, name := range header {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if col < len(cells) {
				fields[name] = cells[col]
			} else {
				fields[name] = ""
			}
		}
		records = append(records, domain.SourceRecord{
			Kind:   f.Kind,
			Shop:   f.Shop,
			File:   filepath.Base(f.Path),
			Row:    i + 1,
			Fields: fields,
		})
	}

	r.log.Debug().Str("file", filepath.Base(f.Path)).Str("kind", f.Kind.String()).
		Int("records", len(records)).Msg("file read")
	return records, nil
}

// readXLSX reads the first sheet; the production exports carry exactly one.
func readXLSX(path string) ([][]string, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	return wb.GetRows(sheets[0])
}

func readCSV(path string) ([][]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	cr := csv.NewReader(fh)
	cr.FieldsPerRecord = -1
	return cr.ReadAll()
}

func headerRow(rows [][]string) ([]string, int) {
	for i, row := range rows {
		if !isEmptyRow(row) {
			return row, i + 1
		}
	}
	return nil, 0
}

func isEmptyRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
