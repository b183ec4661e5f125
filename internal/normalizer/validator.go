package normalizer

import (
	"errors"
	"fmt"
	"strings"

	"jobpipe/internal/models"
)

// Validation errors. All of them wrap ErrMalformedInput.
var (
	ErrMalformedInput = errors.New("malformed input record")
	ErrMissingID      = errors.New("record has no job id and no country code")
	ErrMissingContent = errors.New("record has neither title nor description")
)

// Validator handles record validation.
type Validator struct{}

// NewValidator creates a new validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks that a record can flow through the pipeline.
func (v *Validator) Validate(record *models.JobRecord) error {
	if record == nil {
		return fmt.Errorf("%w: nil record", ErrMalformedInput)
	}

	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("%w: %w", ErrMalformedInput, ErrMissingID)
	}

	if strings.TrimSpace(record.Title) == "" && strings.TrimSpace(record.Description) == "" {
		return fmt.Errorf("%w: %w (id %s)", ErrMalformedInput, ErrMissingContent, record.ID)
	}

	return nil
}
