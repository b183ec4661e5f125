// Package models defines the records that flow through the normalization pipeline.
package models

import (
	"fmt"
	"time"
)

// Status is the classification state written to the output table.
type Status string

// Classification statuses.
const (
	StatusUnclassified Status = "unclassified"
	StatusOK           Status = "ok"
	StatusCached       Status = "cached"
	StatusError        Status = "error"
)

// DateLayout is the canonical textual form of a posting date.
const DateLayout = "2006-01-02"

// Date is a calendar date without time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf truncates t to its calendar date in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()

	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a date in DateLayout.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}

	return DateOf(t), nil
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Before reports whether d is strictly before other.
func (d Date) Before(other Date) bool {
	return d.Time().Before(other.Time())
}

func (d Date) String() string {
	return d.Time().Format(DateLayout)
}

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// JobRecord is a single job posting.
type JobRecord struct {
	ID          string
	Title       string
	Company     string
	Country     string
	CountryCode string
	Region      string
	RegionCode  string
	Coordinates *Coordinates
	PostingDate *Date
	// RawDate keeps the input value of the date column for diagnostics.
	RawDate     string
	Description string
	Labels      map[string][]string
	Status      Status
	// TitleTranslated is the English job title, empty when not translated.
	TitleTranslated string
	// Extra holds input columns the pipeline does not interpret.
	Extra map[string]string
}

// IdentityKey is the exact-duplicate key of a record.
func (r *JobRecord) IdentityKey() [3]string {
	return [3]string{r.Title, r.Company, r.Description}
}

// Clone returns a deep copy of the record.
func (r *JobRecord) Clone() JobRecord {
	c := *r

	if r.Coordinates != nil {
		coords := *r.Coordinates
		c.Coordinates = &coords
	}

	if r.PostingDate != nil {
		date := *r.PostingDate
		c.PostingDate = &date
	}

	if r.Labels != nil {
		c.Labels = make(map[string][]string, len(r.Labels))
		for k, v := range r.Labels {
			c.Labels[k] = append([]string(nil), v...)
		}
	}

	if r.Extra != nil {
		c.Extra = make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			c.Extra[k] = v
		}
	}

	return c
}
