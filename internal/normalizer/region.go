package normalizer

import (
	"strings"

	"jobpipe/internal/models"
	"jobpipe/internal/reference"
	"jobpipe/pkg/utils"
)

var stringHelper = utils.NewStringHelper()

// FillRegion returns the region of a record, substituting the capital city of
// its country when the region is blank or a missing-value marker. A missing
// region with no known capital becomes empty. Applying it twice is a no-op.
func FillRegion(record *models.JobRecord, table *reference.Table) string {
	if !stringHelper.IsMissing(record.Region) {
		return strings.TrimSpace(record.Region)
	}

	if city, ok := table.Capital(record.CountryCode); ok {
		return city
	}

	return ""
}
