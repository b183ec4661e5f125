// Package dedup removes exact and near-duplicate job postings.
package dedup

import (
	"jobpipe/internal/models"
	"jobpipe/pkg/utils"
)

// Default tuning of the detector.
const (
	DefaultThreshold   = 95
	DefaultBlockPrefix = 10
)

// Scorer returns the similarity of two texts on a 0-100 scale.
type Scorer func(a, b string) float64

// Result is the outcome of a deduplication pass.
type Result struct {
	Kept  []models.JobRecord
	Exact int
	Fuzzy int
}

// Removed is the total number of records dropped.
func (r Result) Removed() int {
	return r.Exact + r.Fuzzy
}

// Detector finds exact and near duplicates. Near duplicates are only searched
// within blocks of records sharing a title and company prefix.
type Detector struct {
	score       Scorer
	strings     *utils.StringHelper
	threshold   float64
	blockPrefix int
}

// NewDetector creates a detector. A pair scoring strictly above threshold is a
// duplicate; blockPrefix is the number of runes of title and of company that
// form the block key.
func NewDetector(threshold float64, blockPrefix int) *Detector {
	return &Detector{
		score:       TokenSetRatio,
		strings:     utils.NewStringHelper(),
		threshold:   threshold,
		blockPrefix: blockPrefix,
	}
}

// WithScorer replaces the similarity function.
func (d *Detector) WithScorer(score Scorer) *Detector {
	d.score = score

	return d
}

// Deduplicate returns the records to keep, in input order, and how many were
// removed. Records are never modified.
func (d *Detector) Deduplicate(records []models.JobRecord) ([]models.JobRecord, int) {
	res := d.Run(records)

	return res.Kept, res.Removed()
}

// Run performs the exact pass followed by the blocked fuzzy pass.
func (d *Detector) Run(records []models.JobRecord) Result {
	var res Result

	// 1. Exact duplicates on (title, company, description).
	seen := make(map[[3]string]struct{}, len(records))
	unique := make([]int, 0, len(records))

	for i := range records {
		key := records[i].IdentityKey()
		if _, dup := seen[key]; dup {
			res.Exact++

			continue
		}

		seen[key] = struct{}{}
		unique = append(unique, i)
	}

	// 2. Blocks keyed by title and company prefixes, in first-seen order.
	var order []string

	blocks := make(map[string][]int)

	for _, i := range unique {
		key := d.blockKey(&records[i])
		if _, ok := blocks[key]; !ok {
			order = append(order, key)
		}

		blocks[key] = append(blocks[key], i)
	}

	// 3. Exhaustive pairwise comparison inside each block; the later record
	// of a matching pair is dropped.
	drop := make(map[int]struct{})

	for _, key := range order {
		members := blocks[key]
		if len(members) < 2 {
			continue
		}

		texts := make([]string, len(members))
		for n, i := range members {
			texts[n] = comparisonText(&records[i])
		}

		for x := range members {
			if _, gone := drop[members[x]]; gone {
				continue
			}

			for y := x + 1; y < len(members); y++ {
				if _, gone := drop[members[y]]; gone {
					continue
				}

				if d.score(texts[x], texts[y]) > d.threshold {
					drop[members[y]] = struct{}{}
				}
			}
		}
	}

	res.Fuzzy = len(drop)
	res.Kept = make([]models.JobRecord, 0, len(unique)-len(drop))

	for _, i := range unique {
		if _, gone := drop[i]; gone {
			continue
		}

		res.Kept = append(res.Kept, records[i])
	}

	return res
}

func (d *Detector) blockKey(r *models.JobRecord) string {
	return d.strings.Prefix(r.Title, d.blockPrefix) + d.strings.Prefix(r.Company, d.blockPrefix)
}

func comparisonText(r *models.JobRecord) string {
	return r.Title + " " + r.Company + " " + r.Description
}
