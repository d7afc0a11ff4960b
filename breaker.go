package h2

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// BreakerState is the circuit breaker's position (spec.md §3, §4.10).
type BreakerState uint8

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerStats is the flat JSON-shaped persisted document of spec.md §6.
type BreakerStats struct {
	Name                string       `json:"name"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	FailureCount        int          `json:"failure_count"`
	SuccessCount        int          `json:"success_count"`
	TotalRequests       int          `json:"total_requests"`
	OpenedAt            time.Time    `json:"opened_at"`
}

// BreakerPersister saves/loads one named breaker's state (spec.md §4.10:
// "an optional persistence adapter (in-memory / file / user-supplied)").
type BreakerPersister interface {
	Load(name string) (*BreakerStats, error)
	Save(stats BreakerStats) error
}

// FilePersister stores one JSON document per breaker name under dir,
// matching the pack's idiom of flat JSON-shaped config/state documents.
type FilePersister struct {
	Dir string
}

func (f *FilePersister) path(name string) string { return f.Dir + "/" + name + ".json" }

func (f *FilePersister) Load(name string) (*BreakerStats, error) {
	b, err := os.ReadFile(f.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var s BreakerStats
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (f *FilePersister) Save(stats BreakerStats) error {
	b, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path(stats.Name), b, 0o644)
}

// CircuitBreaker gates calls to one origin/named scope (spec.md §4.10).
type CircuitBreaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	persister        BreakerPersister

	OnStateChange func(old, new BreakerState)
	OnFailure     func(err error, stats BreakerStats)

	mu    sync.Mutex
	stats BreakerStats
}

func NewCircuitBreaker(name string, failureThreshold int, recoveryTimeout time.Duration, persister BreakerPersister) *CircuitBreaker {
	b := &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		persister:        persister,
		stats:            BreakerStats{Name: name},
	}
	if persister != nil {
		if saved, err := persister.Load(name); err == nil && saved != nil {
			b.stats = *saved
		}
	}
	return b
}

// ShouldAllow reports whether a call may proceed right now (spec.md
// §4.10). Open transitions to HalfOpen once the recovery timeout has
// elapsed, as a side effect of being asked.
func (b *CircuitBreaker) ShouldAllow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.stats.State {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		return true
	case BreakerOpen:
		if time.Since(b.stats.OpenedAt) >= b.recoveryTimeout {
			b.transition(BreakerHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// Execute gates op behind ShouldAllow and records its outcome.
func (b *CircuitBreaker) Execute(op func() error) error {
	if !b.ShouldAllow() {
		return &CircuitOpenError{Origin: b.name}
	}
	err := op()
	if err != nil {
		b.RecordFailure(err)
		return err
	}
	b.RecordSuccess()
	return nil
}

func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.TotalRequests++
	b.stats.SuccessCount++
	b.stats.ConsecutiveFailures = 0
	if b.stats.State == BreakerHalfOpen {
		b.transition(BreakerClosed)
	}
	b.persist()
}

func (b *CircuitBreaker) RecordFailure(err error) {
	b.mu.Lock()
	b.stats.TotalRequests++
	b.stats.FailureCount++
	b.stats.ConsecutiveFailures++

	switch b.stats.State {
	case BreakerHalfOpen:
		b.transition(BreakerOpen)
	case BreakerClosed:
		if b.stats.ConsecutiveFailures >= b.failureThreshold {
			b.transition(BreakerOpen)
		}
	}
	stats := b.stats
	b.persist()
	b.mu.Unlock()

	if b.OnFailure != nil {
		b.OnFailure(err, stats)
	}
}

// transition must be called with mu held.
func (b *CircuitBreaker) transition(next BreakerState) {
	old := b.stats.State
	if old == next {
		return
	}
	b.stats.State = next
	if next == BreakerOpen {
		b.stats.OpenedAt = time.Now()
	}
	if b.OnStateChange != nil {
		b.OnStateChange(old, next)
	}
}

// persist must be called with mu held.
func (b *CircuitBreaker) persist() {
	if b.persister != nil {
		b.persister.Save(b.stats)
	}
}

func (b *CircuitBreaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// BreakerRegistry is a process-wide map of named breakers, guarded by a
// mutex per spec.md §5/§9 ("process-wide singletons... but allow
// per-client instantiation for tests").
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	cfg      *Config
}

func NewBreakerRegistry(cfg *Config) *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*CircuitBreaker), cfg: cfg}
}

func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewCircuitBreaker(name, r.cfg.CircuitBreakerFailureThreshold, r.cfg.CircuitBreakerRecoveryTimeout, nil)
	r.breakers[name] = b
	return b
}
