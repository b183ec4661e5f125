package pipeline

import "jobpipe/internal/models"

// FilterByDate keeps records posted on or after minDate. Undated records are
// kept unless dropUndated is set. A nil minDate keeps every dated record.
func FilterByDate(records []models.JobRecord, minDate *models.Date, dropUndated bool) ([]models.JobRecord, int) {
	kept := make([]models.JobRecord, 0, len(records))

	for _, rec := range records {
		switch {
		case rec.PostingDate == nil:
			if dropUndated {
				continue
			}
		case minDate != nil && rec.PostingDate.Before(*minDate):
			continue
		}

		kept = append(kept, rec)
	}

	return kept, len(records) - len(kept)
}
