package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"jobpipe/internal/models"
)

// Input is a parsed input table.
type Input struct {
	Header  []string
	Records []models.JobRecord
	// Skipped counts rows whose field count did not match the header.
	Skipped int
}

// ReadFile reads the input table at path.
func ReadFile(path string) (*Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input %s: %w", path, err)
	}
	defer f.Close()

	in, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read input %s: %w", path, err)
	}

	return in, nil
}

// Read parses a CSV table. Every column in Required must be present; other
// columns are carried in JobRecord.Extra.
func Read(r io.Reader) (*Input, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 0

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyInput
	}

	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}

	for i, col := range header {
		col = strings.TrimSpace(col)
		header[i] = strings.TrimPrefix(col, "\ufeff")
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		if _, dup := index[col]; !dup {
			index[col] = i
		}
	}

	for _, col := range Required {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	in := &Input{Header: header}

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if errors.Is(err, csv.ErrFieldCount) {
			in.Skipped++
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(in.Records)+in.Skipped+2, err)
		}

		in.Records = append(in.Records, toRecord(header, index, row))
	}

	return in, nil
}

func toRecord(header []string, index map[string]int, row []string) models.JobRecord {
	get := func(col string) string {
		if i, ok := index[col]; ok {
			return row[i]
		}

		return ""
	}

	rec := models.JobRecord{
		ID:          strings.TrimSpace(get(ColJobID)),
		Title:       get(ColTitle),
		Company:     get(ColCompany),
		Country:     get(ColCountry),
		CountryCode: strings.TrimSpace(get(ColCountryCode)),
		Region:      get(ColRegion),
		Description: get(ColDescription),
		RawDate:     get(ColDate),
	}

	for i, col := range header {
		if isKnown(col) {
			continue
		}

		if rec.Extra == nil {
			rec.Extra = map[string]string{}
		}

		rec.Extra[col] = row[i]
	}

	return rec
}

func isKnown(col string) bool {
	switch col {
	case ColJobID, ColTitle, ColCompany, ColCountry, ColCountryCode, ColRegion, ColDescription, ColDate:
		return true
	}

	return false
}
