// Package classify assigns taxonomy labels to job records through an external
// text-classification capability, with a persistent result cache, bounded
// retries and validation of every label against closed taxonomies.
package classify

import (
	"context"
	"errors"

	"jobpipe/internal/reference"
)

// Classifier failures. Adapters wrap one of these so the orchestrator can
// decide whether a call is worth repeating.
var (
	// ErrTransient covers network failures, rate limiting and server errors.
	ErrTransient = errors.New("transient classifier error")
	// ErrMalformedResponse is a reply that is not the expected structured output.
	ErrMalformedResponse = errors.New("malformed classifier response")
	// ErrPermanent is a failure that repeating the same request cannot fix.
	ErrPermanent = errors.New("permanent classifier error")
	// ErrEmptyText is reported for records with nothing to classify.
	ErrEmptyText = errors.New("record has no text to classify")
)

// Labels maps a taxonomy name to the labels chosen for it.
type Labels map[string][]string

// Request asks for labels for one or more texts.
type Request struct {
	Texts      []string
	Taxonomies []reference.Taxonomy
}

// Classifier is the external classification capability. It returns the raw
// reply text; decoding and validation happen in the orchestrator.
type Classifier interface {
	Classify(ctx context.Context, req Request) (string, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, req Request) (string, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
