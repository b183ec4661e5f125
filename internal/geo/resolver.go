// Package geo maps free-text region names onto region codes and coordinates.
package geo

import (
	"strings"

	"jobpipe/internal/models"
	"jobpipe/internal/reference"
)

// Resolver resolves region names against a reference table.
type Resolver struct {
	codeByName  map[string]string
	coordinates map[string]models.Coordinates
}

// NewResolver indexes the region list of table. When several codes share a
// name, the first one listed wins.
func NewResolver(table *reference.Table) *Resolver {
	r := &Resolver{
		codeByName:  make(map[string]string, len(table.Regions)),
		coordinates: table.Coordinates,
	}

	for _, region := range table.Regions {
		name := strings.TrimSpace(region.Name)
		if _, taken := r.codeByName[name]; taken {
			continue
		}

		r.codeByName[name] = region.Code
	}

	return r
}

// Resolve returns the region code and coordinates for a region name. A name
// that is unknown, or whose code has no coordinates, yields ("", nil).
func (r *Resolver) Resolve(regionName string) (string, *models.Coordinates) {
	code, ok := r.codeByName[strings.TrimSpace(regionName)]
	if !ok {
		return "", nil
	}

	coords, ok := r.coordinates[code]
	if !ok {
		return "", nil
	}

	return code, &coords
}

// Apply sets the region code and coordinates of a record from its region.
// Stale values are cleared when the region no longer resolves.
func (r *Resolver) Apply(record *models.JobRecord) bool {
	code, coords := r.Resolve(record.Region)
	record.RegionCode = code
	record.Coordinates = coords

	return coords != nil
}
