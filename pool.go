package h2

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// OriginKey identifies a pool/breaker scope (spec.md §3: "(host, port,
// scheme)").
type OriginKey struct {
	Scheme string
	Host   string
	Port   string
}

func (k OriginKey) String() string { return fmt.Sprintf("%s://%s:%s", k.Scheme, k.Host, k.Port) }

// poolEntry is one connection-pool record (spec.md §3).
type poolEntry struct {
	conn       *Conn
	createdAt  time.Time
	lastUsedAt time.Time
	requests   int
	errors     int
	score      int // [0, 100]
}

const (
	unhealthyScore  = 30
	initialScore    = 70
	scoreSuccessInc = 3
	scoreErrorDec   = 15
	scoreRTTPenalty = 2 // flat penalty on a success slower than healthyRTTBudget
)

// healthyRTTBudget is the RTT above which a success is still penalized a
// little (spec.md §4.8: "+Δ for success and low RTT, -Δ for error and
// high RTT" — the exact arithmetic is implementation-defined per
// spec.md §9; this module commits to a simple monotone formula honoring
// the healthy >= 30 contract).
const healthyRTTBudget = 200 * time.Millisecond

// Pool is a keyed cache of live connections (spec.md §4.8).
type Pool struct {
	cfg *Config

	mu      sync.Mutex
	origins map[OriginKey][]*poolEntry

	// creating coalesces concurrent callers for the same origin onto one
	// in-flight Dial (spec.md §4.8 concurrency note).
	creating map[OriginKey]*sync.WaitGroup

	Dial func(OriginKey) (*Conn, error)
}

func NewPool(cfg *Config) *Pool {
	return &Pool{
		cfg:      cfg,
		origins:  make(map[OriginKey][]*poolEntry),
		creating: make(map[OriginKey]*sync.WaitGroup),
	}
}

// Acquire returns the highest-scored healthy live connection for origin,
// or dials a new one subject to the pool-size cap (spec.md §4.8).
func (p *Pool) Acquire(origin OriginKey) (*Conn, error) {
	for {
		p.mu.Lock()
		entries := p.origins[origin]

		p.pruneClosedLocked(origin)
		entries = p.origins[origin]

		best := bestEntry(entries)
		if best != nil && best.score >= unhealthyScore {
			best.lastUsedAt = time.Now()
			best.requests++
			conn := best.conn
			p.mu.Unlock()
			return conn, nil
		}

		if len(entries) >= p.cfg.ConnectionPoolSize {
			// at cap: evict the worst-scored entry (LRU-by-score) to make
			// room for a fresh dial, per spec.md §4.8.
			p.evictWorstLocked(origin)
		}

		wg, inFlight := p.creating[origin]
		if inFlight {
			p.mu.Unlock()
			wg.Wait()
			continue
		}

		wg = &sync.WaitGroup{}
		wg.Add(1)
		p.creating[origin] = wg
		p.mu.Unlock()

		conn, err := p.Dial(origin)

		p.mu.Lock()
		delete(p.creating, origin)
		if err == nil {
			p.origins[origin] = append(p.origins[origin], &poolEntry{
				conn:      conn,
				createdAt: time.Now(), lastUsedAt: time.Now(),
				score: initialScore,
			})
		}
		p.mu.Unlock()
		wg.Done()

		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

func bestEntry(entries []*poolEntry) *poolEntry {
	var best *poolEntry
	for _, e := range entries {
		if e.conn.IsClosed() {
			continue
		}
		if best == nil || e.score > best.score {
			best = e
		}
	}
	return best
}

// pruneClosedLocked drops entries whose connection died outside the
// pool's knowledge (e.g. a peer GOAWAY). mu must be held.
func (p *Pool) pruneClosedLocked(origin OriginKey) {
	entries := p.origins[origin]
	kept := entries[:0]
	for _, e := range entries {
		if !e.conn.IsClosed() {
			kept = append(kept, e)
		}
	}
	p.origins[origin] = kept
}

// evictWorstLocked closes and removes the lowest-scored entry. mu must
// be held.
func (p *Pool) evictWorstLocked(origin OriginKey) {
	entries := p.origins[origin]
	if len(entries) == 0 {
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].score < entries[j].score })
	worst := entries[0]
	DefaultLogger.Printf("h2: pool evicting unhealthy connection to %s (score=%d)", origin, worst.score)
	worst.conn.Close()
	p.origins[origin] = entries[1:]
}

// Release reports the outcome of a completed request back to the pool,
// adjusting the connection's health score (spec.md §4.8).
func (p *Pool) Release(origin OriginKey, conn *Conn, success bool, rtt time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.origins[origin] {
		if e.conn != conn {
			continue
		}
		if success {
			e.score += scoreSuccessInc
			if rtt > healthyRTTBudget {
				e.score -= scoreRTTPenalty
			}
		} else {
			e.errors++
			e.score -= scoreErrorDec
		}
		if e.score > 100 {
			e.score = 100
		}
		if e.score < 0 {
			e.score = 0
		}
		return
	}
}

// Warmup asynchronously opens a connection for origin if none exists yet
// (spec.md §4.8).
func (p *Pool) Warmup(origin OriginKey) {
	p.mu.Lock()
	_, exists := p.origins[origin]
	p.mu.Unlock()
	if exists {
		return
	}
	go p.Acquire(origin)
}

// CleanupExpired closes idle connections beyond ttl (spec.md §4.8).
func (p *Pool) CleanupExpired(ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for origin, entries := range p.origins {
		kept := entries[:0]
		for _, e := range entries {
			if now.Sub(e.lastUsedAt) > ttl {
				DefaultLogger.Printf("h2: pool closing idle connection to %s (idle %s)", origin, now.Sub(e.lastUsedAt))
				e.conn.Close()
				continue
			}
			kept = append(kept, e)
		}
		p.origins[origin] = kept
	}
}
