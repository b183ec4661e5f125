package classify

import (
	"context"
	"sync"

	"jobpipe/internal/config"
	"jobpipe/internal/models"
	"jobpipe/internal/reference"
)

func testTaxonomies() []reference.Taxonomy {
	return []reference.Taxonomy{
		{Name: "field", Labels: []string{"Software Engineering", "Mechanical Engineering", "Non Technical"}},
		{Name: "digital_competences", Labels: []string{"Programming", "Data analysis"}, Multi: true},
	}
}

func testOptions() Options {
	return Options{
		MaxChars:  8000,
		BatchSize: 1,
		Workers:   1,
		Retry: config.RetryPolicy{
			MaxAttempts:       3,
			BackoffMultiplier: 1,
			TimeoutSec:        5,
		},
	}
}

// stubClassifier counts calls and answers through reply.
type stubClassifier struct {
	mu    sync.Mutex
	calls int
	reply func(ctx context.Context, call int, req Request) (string, error)
}

func (s *stubClassifier) Classify(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	return s.reply(ctx, call, req)
}

func (s *stubClassifier) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

func fixed(reply string) func(context.Context, int, Request) (string, error) {
	return func(context.Context, int, Request) (string, error) { return reply, nil }
}

func rec(id, desc string) models.JobRecord {
	return models.JobRecord{ID: id, Title: "Engineer", Description: desc}
}
