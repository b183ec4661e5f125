package normalizer

import (
	"jobpipe/internal/geo"
	"jobpipe/internal/models"
	"jobpipe/internal/reference"
)

// Change flags reported by Transform.
type Change struct {
	DateParsed   bool
	DateUnparsed bool
	RegionFilled bool
	Resolved     bool
}

// Transformer applies the per-record normalization steps.
type Transformer struct {
	table    *reference.Table
	resolver *geo.Resolver
}

// NewTransformer creates a new transformer over a reference table.
func NewTransformer(table *reference.Table) *Transformer {
	return &Transformer{
		table:    table,
		resolver: geo.NewResolver(table),
	}
}

// Transform normalizes the record in place: posting date, region fallback,
// region code and coordinates.
func (t *Transformer) Transform(record *models.JobRecord) Change {
	var change Change

	if record.PostingDate == nil && !stringHelper.IsMissing(record.RawDate) {
		record.PostingDate = NormalizeDate(record.RawDate)
		change.DateParsed = record.PostingDate != nil
		change.DateUnparsed = record.PostingDate == nil
	}

	region := FillRegion(record, t.table)
	change.RegionFilled = region != "" && stringHelper.IsMissing(record.Region)
	record.Region = region

	change.Resolved = t.resolver.Apply(record)

	return change
}
