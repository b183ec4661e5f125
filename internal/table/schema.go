// Package table reads raw job records from CSV and appends enriched rows to
// the output table.
package table

import (
	"errors"
	"slices"
	"strconv"
	"strings"

	"jobpipe/internal/models"
)

// Table errors.
var (
	ErrMissingColumn  = errors.New("missing required column")
	ErrEmptyInput     = errors.New("input table has no header row")
	ErrHeaderMismatch = errors.New("existing output header does not match")
)

// Input columns.
const (
	ColJobID       = "job_id"
	ColTitle       = "job_title"
	ColCompany     = "company_name"
	ColCountry     = "country"
	ColCountryCode = "country_code"
	ColRegion      = "region"
	ColDescription = "full_description"
	ColDate        = "date"
)

// Columns appended to every output row.
const (
	ColRegionCode = "region_code"
	ColLatitude   = "latitude"
	ColLongitude  = "longitude"
	ColStatus     = "status"
)

// ColTitleTranslated is appended when the translation stage is enabled.
const ColTitleTranslated = "job_title_translated"

// LabelSeparator joins the labels of a multi-valued taxonomy in one cell.
const LabelSeparator = "; "

// Required lists the columns every input table must have.
var Required = []string{ColJobID, ColTitle, ColCountry, ColCountryCode, ColRegion, ColDescription, ColDate}

// Schema describes the output layout: the input columns in input order
// followed by the derived columns.
type Schema struct {
	Columns    []string
	Taxonomies []string
	Translated bool
}

// NewSchema builds the output schema for an input header. Input columns that
// collide with derived columns are recomputed rather than copied. translated
// adds the job_title_translated column.
func NewSchema(inputHeader, taxonomies []string, translated bool) Schema {
	s := Schema{Taxonomies: slices.Clone(taxonomies), Translated: translated}
	derived := s.derived()

	s.Columns = make([]string, 0, len(inputHeader))
	for _, col := range inputHeader {
		if !slices.Contains(derived, col) {
			s.Columns = append(s.Columns, col)
		}
	}

	return s
}

func (s Schema) derived() []string {
	var cols []string
	if s.Translated {
		cols = append(cols, ColTitleTranslated)
	}

	cols = append(cols, ColRegionCode, ColLatitude, ColLongitude)
	cols = append(cols, s.Taxonomies...)

	return append(cols, ColStatus)
}

// Header returns the output header row.
func (s Schema) Header() []string {
	return append(slices.Clone(s.Columns), s.derived()...)
}

// Row renders a record in header order.
func (s Schema) Row(rec *models.JobRecord) []string {
	row := make([]string, 0, len(s.Columns)+len(s.Taxonomies)+5)

	for _, col := range s.Columns {
		row = append(row, inputValue(rec, col))
	}

	if s.Translated {
		row = append(row, rec.TitleTranslated)
	}

	code, lat, lon := rec.RegionCode, "", ""
	if rec.Coordinates != nil {
		lat = strconv.FormatFloat(rec.Coordinates.Lat, 'f', -1, 64)
		lon = strconv.FormatFloat(rec.Coordinates.Lon, 'f', -1, 64)
	}

	row = append(row, code, lat, lon)

	for _, name := range s.Taxonomies {
		row = append(row, strings.Join(rec.Labels[name], LabelSeparator))
	}

	return append(row, string(rec.Status))
}

func inputValue(rec *models.JobRecord, col string) string {
	switch col {
	case ColJobID:
		return rec.ID
	case ColTitle:
		return rec.Title
	case ColCompany:
		return rec.Company
	case ColCountry:
		return rec.Country
	case ColCountryCode:
		return rec.CountryCode
	case ColRegion:
		return rec.Region
	case ColDescription:
		return rec.Description
	case ColDate:
		if rec.PostingDate != nil {
			return rec.PostingDate.String()
		}

		return ""
	default:
		return rec.Extra[col]
	}
}
