package pipeline

import (
	"errors"

	"jobpipe/internal/logger"
	"jobpipe/internal/models"
)

// ErrIdentityViolation marks a record whose id is already taken by an earlier
// record that survived deduplication.
var ErrIdentityViolation = errors.New("duplicate job id after deduplication")

// EnforceUniqueIDs drops every record whose id was seen earlier in the slice,
// logging each drop. It returns the kept records and the number dropped.
func EnforceUniqueIDs(records []models.JobRecord, log *logger.Logger) ([]models.JobRecord, int) {
	seen := make(map[string]int, len(records))
	kept := make([]models.JobRecord, 0, len(records))

	for i, rec := range records {
		if first, dup := seen[rec.ID]; dup {
			log.Warn("dropping record", "id", rec.ID, "first_row", first+1, "row", i+1, "error", ErrIdentityViolation)
			continue
		}

		seen[rec.ID] = i
		kept = append(kept, rec)
	}

	return kept, len(records) - len(kept)
}
