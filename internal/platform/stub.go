package platform

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StubAdapter is a scriptable Adapter for tests and offline development.
// Results are consumed in order; once the script is exhausted every upload
// succeeds with a generated post id.
type StubAdapter struct {
	name string

	mu       sync.Mutex
	script   []Result
	attempts int
}

func NewStubAdapter(name string) *StubAdapter {
	return &StubAdapter{name: name}
}

// Script queues results to return from successive Upload calls.
func (s *StubAdapter) Script(results ...Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, results...)
}

// FailWith queues n retryable failures with the given reason.
func (s *StubAdapter) FailWith(n int, reason string) {
	for i := 0; i < n; i++ {
		s.Script(Result{Outcome: OutcomeRetryable, Reason: reason})
	}
}

func (s *StubAdapter) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *StubAdapter) Name() string { return s.name }

func (s *StubAdapter) Upload(ctx context.Context, artifact Artifact, meta Metadata, cred Credential) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++

	if len(s.script) > 0 {
		next := s.script[0]
		s.script = s.script[1:]
		return next, nil
	}
	return success(fmt.Sprintf("%s-post-%d", s.name, s.attempts), ""), nil
}

func (s *StubAdapter) FetchStats(ctx context.Context, postID string, cred Credential) (*ViewStats, error) {
	return &ViewStats{
		Platform:  s.name,
		PostID:    postID,
		Views:     42,
		FetchedAt: time.Now().UTC(),
	}, nil
}
