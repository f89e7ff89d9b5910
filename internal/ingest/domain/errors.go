package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Fatal pipeline errors. Every one of these aborts the remaining steps
// of a run and leaves the live table set exactly as it was; retries are
// the external scheduler's responsibility.
var (
	// ErrFetch wraps network or storage failures after the retry
	// budget is exhausted.
	ErrFetch = errors.New("fetch failed")

	// ErrIntegrity flags a checksum mismatch between a manifest entry
	// and the downloaded bytes. Treated as suspected corruption; never
	// retried.
	ErrIntegrity = errors.New("checksum mismatch")

	// ErrLoad wraps a transactional write failure during load/swap.
	ErrLoad = errors.New("load failed")

	// ErrConcurrentRun is returned when the environment lock is held
	// by another run. Fatal for this invocation only.
	ErrConcurrentRun = errors.New("another ingestion run is in progress")

	ErrInvalidConfig = errors.New("invalid ingest configuration")
)

// MaxViolationSample bounds how many offending rows a ValidationError
// carries, keeping error payloads small.
const MaxViolationSample = 10

// Violation describes one offending row or column in a source file.
type Violation struct {
	Row    int    `json:"row"`
	Field  string `json:"field,omitempty"`
	Detail string `json:"detail"`
}

// ValidationError reports structural, referential or value violations
// for one source file. It carries a bounded sample of offending rows.
type ValidationError struct {
	Category   FileCategory `json:"category"`
	Total      int          `json:"total_violations"`
	Violations []Violation  `json:"violations"`
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "validation failed for %s: %d violation(s)", e.Category, e.Total)
	for _, v := range e.Violations {
		if v.Field != "" {
			fmt.Fprintf(&b, "; row %d field %s: %s", v.Row, v.Field, v.Detail)
		} else {
			fmt.Fprintf(&b, "; row %d: %s", v.Row, v.Detail)
		}
	}
	if e.Total > len(e.Violations) {
		fmt.Fprintf(&b, "; ... and %d more", e.Total-len(e.Violations))
	}
	return b.String()
}

// Add records a violation, sampling at most MaxViolationSample rows.
func (e *ValidationError) Add(row int, field, detail string) {
	e.Total++
	if len(e.Violations) < MaxViolationSample {
		e.Violations = append(e.Violations, Violation{Row: row, Field: field, Detail: detail})
	}
}

func (e *ValidationError) Empty() bool {
	return e.Total == 0
}

// Anomaly is a post-commit row-count discrepancy. It never blocks the
// commit but must be visible to operators.
type Anomaly struct {
	Entity   string `json:"entity"`
	Declared int64  `json:"declared"`
	Before   int64  `json:"before"`
	After    int64  `json:"after"`
	Detail   string `json:"detail"`
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s: %s (declared=%d before=%d after=%d)",
		a.Entity, a.Detail, a.Declared, a.Before, a.After)
}
