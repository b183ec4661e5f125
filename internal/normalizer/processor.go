package normalizer

import (
	"jobpipe/internal/logger"
	"jobpipe/internal/models"
	"jobpipe/internal/reference"
)

// Stats counts what the processor did to a batch of records.
type Stats struct {
	Input        int
	Invalid      int
	IDsAssigned  int
	DatesParsed  int
	DatesFailed  int
	RegionFilled int
	Resolved     int
}

// Processor handles record validation and normalization.
type Processor struct {
	validator   *Validator
	transformer *Transformer
	log         *logger.Logger
}

// NewProcessor creates a new processor instance.
func NewProcessor(table *reference.Table, log *logger.Logger) *Processor {
	return &Processor{
		validator:   NewValidator(),
		transformer: NewTransformer(table),
		log:         log,
	}
}

// Process assigns missing ids, drops malformed records and normalizes the
// rest. The returned slice keeps input order.
func (p *Processor) Process(records []models.JobRecord) ([]models.JobRecord, Stats) {
	stats := Stats{Input: len(records)}
	stats.IDsAssigned = AssignIDs(records)

	kept := make([]models.JobRecord, 0, len(records))

	for i := range records {
		rec := records[i]

		// 1. Validate the record
		if err := p.validator.Validate(&rec); err != nil {
			stats.Invalid++
			p.log.Warn("dropping malformed record", "row", i+1, "error", err)

			continue
		}

		// 2. Normalize it
		change := p.transformer.Transform(&rec)
		if change.DateParsed {
			stats.DatesParsed++
		}

		if change.DateUnparsed {
			stats.DatesFailed++
			p.log.Debug("unparseable posting date", "id", rec.ID, "raw", rec.RawDate)
		}

		if change.RegionFilled {
			stats.RegionFilled++
		}

		if change.Resolved {
			stats.Resolved++
		}

		kept = append(kept, rec)
	}

	return kept, stats
}
