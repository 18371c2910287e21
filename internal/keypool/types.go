// Package keypool manages the pool of upstream API keys: round-robin
// selection, failure accounting, and health-check driven reactivation.
package keypool

import "time"

// KeyRecord tracks the health state of one upstream credential. The key
// itself is immutable once loaded; counters are owned by the Pool and only
// mutated through its methods.
type KeyRecord struct {
	Key          string
	FailureCount int
	LastFailure  *time.Time
}

// Healthy reports whether the record is below the failure threshold.
func (r *KeyRecord) Healthy(maxFailures int) bool {
	return r.FailureCount < maxFailures
}

// KeyStatus is a read-only snapshot entry for observability.
type KeyStatus struct {
	Key          string     `json:"api_key"`
	FailureCount int        `json:"failure_count"`
	Healthy      bool       `json:"healthy"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
}
