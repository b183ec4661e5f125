package normalizer

import (
	"strconv"
	"strings"

	"jobpipe/internal/models"
)

// AssignIDs gives every record with a blank id an identifier of the form
// <COUNTRY CODE><n>, counting per country in input order and skipping ids
// that are already taken. Records without a country code are left alone.
// It returns the number of ids assigned.
func AssignIDs(records []models.JobRecord) int {
	taken := make(map[string]struct{}, len(records))

	for i := range records {
		if id := strings.TrimSpace(records[i].ID); id != "" {
			taken[id] = struct{}{}
		}
	}

	counters := make(map[string]int)
	assigned := 0

	for i := range records {
		rec := &records[i]
		if strings.TrimSpace(rec.ID) != "" {
			continue
		}

		cc := strings.ToUpper(strings.TrimSpace(rec.CountryCode))
		if cc == "" {
			continue
		}

		for {
			counters[cc]++

			id := cc + strconv.Itoa(counters[cc])
			if _, dup := taken[id]; dup {
				continue
			}

			rec.ID = id
			taken[id] = struct{}{}
			assigned++

			break
		}
	}

	return assigned
}
