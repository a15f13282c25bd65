package numbering

import (
	"context"
	"time"
)

// Counter is the persisted state of one sequence.
// LastNumber is the most recently issued number; it only ever grows.
type Counter struct {
	Key        CounterKey
	LastNumber int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CounterRepository is the port to the counter store.
//
// Implementations must make Increment a single atomic statement that both bumps
// last_number and yields the new value. Reading the value and writing value+1 in
// two steps is not an acceptable implementation.
type CounterRepository interface {
	// EnsureSchema creates the counter table if it does not exist.
	EnsureSchema(ctx context.Context) error

	// EnsureCounter inserts the row for key with last_number = seed unless a row
	// already exists, in which case it is left untouched.
	// Returns true when this call created the row.
	EnsureCounter(ctx context.Context, key CounterKey, seed int64) (bool, error)

	// Increment atomically adds one to last_number and returns the new value.
	// ok is false when no row exists for key.
	Increment(ctx context.Context, key CounterKey) (value int64, ok bool, err error)

	// Get returns the counter for key or ErrCounterNotFound.
	Get(ctx context.Context, key CounterKey) (*Counter, error)

	// List returns all counters, optionally filtered by prefix.
	List(ctx context.Context, prefix string) ([]Counter, error)
}

// HistorySource reports the largest sequence already used for a key outside of
// the counter table, e.g. codes issued before the counter existed.
type HistorySource interface {
	// Name identifies the source in logs.
	Name() string

	// MaxSequence returns the highest numeric suffix found for key, or 0.
	MaxSequence(ctx context.Context, key CounterKey) (int64, error)
}

// Allocation is the result of issuing a code.
type Allocation struct {
	Code          string     `json:"code"`
	Prefix        string     `json:"prefix"`
	FinancialYear FiscalYear `json:"financial_year"`
	Number        int64      `json:"number"`
	// Fallback is true when Code is a provisional name and not from the counter.
	Fallback bool   `json:"fallback"`
	Warning  string `json:"warning,omitempty"`
}
