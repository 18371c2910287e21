package keypool

import (
	"context"
	"sync"
	"time"

	apperrors "gembalance/internal/errors"
	"gembalance/internal/monitoring"

	log "github.com/sirupsen/logrus"
)

// Checker probes whether a specific key is currently accepted upstream. It
// must not mutate pool state; reactivation resets go through ReportSuccess
// so the Pool stays the single writer of record state.
type Checker interface {
	Check(ctx context.Context, key string) bool
}

// Pool is the in-memory table of key health plus the shared round-robin
// cursor. All state is guarded by one mutex; selection is a pure in-memory
// transition and never blocks on I/O.
type Pool struct {
	mu          sync.Mutex
	records     []*KeyRecord
	index       map[string]*KeyRecord
	cursor      int
	maxFailures int
}

// NewPool builds a pool from an ordered key list. Duplicates are dropped,
// keeping first occurrence; maxFailures below 1 is clamped to 1. The cursor
// starts just before the first record so the first selection returns it.
func NewPool(keys []string, maxFailures int) *Pool {
	if maxFailures < 1 {
		maxFailures = 1
	}
	p := &Pool{
		index:       make(map[string]*KeyRecord, len(keys)),
		cursor:      -1,
		maxFailures: maxFailures,
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, dup := p.index[key]; dup {
			continue
		}
		rec := &KeyRecord{Key: key}
		p.records = append(p.records, rec)
		p.index[key] = rec
	}
	return p
}

// Len returns the number of records in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

// MaxFailures returns the configured failure threshold.
func (p *Pool) MaxFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxFailures
}

// NextWorkingKey advances the round-robin cursor until it lands on a healthy
// record, trying at most one full cycle. The cursor position persists across
// calls so load spreads over the pool instead of restarting at record zero.
func (p *Pool) NextWorkingKey() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.records) == 0 {
		return "", apperrors.ErrNoKeysAvailable
	}

	for attempts := 0; attempts < len(p.records); attempts++ {
		p.cursor = (p.cursor + 1) % len(p.records)
		rec := p.records[p.cursor]
		if rec.Healthy(p.maxFailures) {
			return rec.Key, nil
		}
	}
	return "", apperrors.ErrAllKeysFailing
}

// ReportFailure increments the failure count for a key and stamps the
// failure time. Unknown keys are ignored so the pool self-heals from stale
// references after a rebuild.
func (p *Pool) ReportFailure(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.index[key]
	if !ok {
		return
	}
	rec.FailureCount++
	now := time.Now()
	rec.LastFailure = &now
	if !rec.Healthy(p.maxFailures) {
		log.WithFields(log.Fields{
			"api_key":       maskKey(key),
			"failure_count": rec.FailureCount,
		}).Warn("api key reached failure threshold")
	}
	monitoring.PoolUnhealthyKeys.Set(float64(p.unhealthyCountLocked()))
}

// ReportSuccess resets a key's failure state. Unknown keys are ignored.
func (p *Pool) ReportSuccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.index[key]
	if !ok {
		return
	}
	rec.FailureCount = 0
	rec.LastFailure = nil
	monitoring.PoolUnhealthyKeys.Set(float64(p.unhealthyCountLocked()))
}

// IsHealthy reports whether the key is known and below the threshold.
func (p *Pool) IsHealthy(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.index[key]
	return ok && rec.Healthy(p.maxFailures)
}

// Snapshot returns a read-only view of all records in round-robin order. It
// does not touch the cursor or any counter.
func (p *Pool) Snapshot() []KeyStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]KeyStatus, 0, len(p.records))
	for _, rec := range p.records {
		var lastFailure *time.Time
		if rec.LastFailure != nil {
			t := *rec.LastFailure
			lastFailure = &t
		}
		out = append(out, KeyStatus{
			Key:          rec.Key,
			FailureCount: rec.FailureCount,
			Healthy:      rec.Healthy(p.maxFailures),
			LastFailure:  lastFailure,
		})
	}
	return out
}

// ReactivateUnhealthy probes every currently-unhealthy key and resets the
// ones the checker accepts. Probes run sequentially and individual failures
// never abort the sweep. Returns the number of keys recovered.
func (p *Pool) ReactivateUnhealthy(ctx context.Context, checker Checker) int {
	unhealthy := p.unhealthyKeys()
	if len(unhealthy) == 0 {
		return 0
	}

	recovered := 0
	for _, key := range unhealthy {
		if ctx.Err() != nil {
			break
		}
		if checker.Check(ctx, key) {
			p.ReportSuccess(key)
			recovered++
			log.WithField("api_key", maskKey(key)).Info("api key reactivated by health check")
		} else {
			log.WithField("api_key", maskKey(key)).Debug("api key still failing health check")
		}
	}
	if recovered > 0 {
		monitoring.SweepRecoveriesTotal.Add(float64(recovered))
	}
	return recovered
}

func (p *Pool) unhealthyKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []string
	for _, rec := range p.records {
		if !rec.Healthy(p.maxFailures) {
			out = append(out, rec.Key)
		}
	}
	return out
}

func (p *Pool) unhealthyCountLocked() int {
	n := 0
	for _, rec := range p.records {
		if !rec.Healthy(p.maxFailures) {
			n++
		}
	}
	return n
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
