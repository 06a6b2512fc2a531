// Package scheduler fetches slide tiles over HTTP with bounded
// concurrency, priority ordering, and retry with exponential backoff.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Tile is one unit of work, created fresh each visibility computation.
type Tile struct {
	Key       string // "tier/x/y"
	Tier      int
	X, Y      int
	Bounds    [4]float64 // minX, minY, maxX, maxY in world units
	Distance2 float64    // squared distance to view center, in tile-grid units
	URL       string
}

// State of a tile key within the scheduler.
type State int

const (
	StateIdle State = iota
	StateQueued
	StateInFlight
	StateDone
	StateFailedRetrying
	StateFailedTerminal
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQueued:
		return "queued"
	case StateInFlight:
		return "in-flight"
	case StateDone:
		return "done"
	case StateFailedRetrying:
		return "failed-retrying"
	case StateFailedTerminal:
		return "failed-terminal"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Snapshot holds the observability counters. Retries, Failed and Aborted
// are cumulative totals.
type Snapshot struct {
	InFlight int `json:"inflight"`
	Queued   int `json:"queued"`
	Retries  int `json:"retries"`
	Failed   int `json:"failed"`
	Aborted  int `json:"aborted"`
}

// Config contains scheduler configuration.
type Config struct {
	MaxConcurrency int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RequestTimeout time.Duration
	Client         *http.Client
}

// Callbacks receive fetch outcomes. Both may be nil. They are invoked from
// scheduler goroutines without internal locks held.
type Callbacks struct {
	OnLoaded func(tile Tile, data []byte)
	OnError  func(tile Tile, err error, attempts int)
}

type entry struct {
	tile     Tile
	state    State
	attempts int
	timer    *time.Timer // pending retry, if any
}

// Scheduler downloads the desired tile set. Schedule replaces the set each
// frame; queued tiles no longer desired are dropped, in-flight tiles run to
// completion.
type Scheduler struct {
	cfg Config
	cb  Callbacks

	mu        sync.Mutex
	entries   map[string]*entry
	queue     []string // keys in StateQueued, kept sorted by Distance2
	inflight  map[string]context.CancelFunc
	authToken string
	retries   int
	failed    int
	aborted   int
	destroyed bool

	wg sync.WaitGroup
}

// New creates a scheduler. Fetches start on the first Schedule call.
func New(cfg Config, cb Callbacks) *Scheduler {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 6
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 250 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 8 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Scheduler{
		cfg:      cfg,
		cb:       cb,
		entries:  make(map[string]*entry),
		inflight: make(map[string]context.CancelFunc),
	}
}

// SetAuthToken updates the bearer token used for subsequent requests.
// In-flight requests keep the header they were created with.
func (s *Scheduler) SetAuthToken(token string) {
	s.mu.Lock()
	s.authToken = token
	s.mu.Unlock()
}

// Schedule replaces the desired tile set. Queued tiles absent from the new
// set are aborted; in-flight tiles are left to complete. Remaining tiles
// dispatch nearest-first up to the concurrency bound.
func (s *Scheduler) Schedule(tiles []Tile) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}

	desired := make(map[string]Tile, len(tiles))
	for _, t := range tiles {
		desired[t.Key] = t
	}

	// Drop queued or retry-waiting tiles that are no longer wanted.
	for key, e := range s.entries {
		if _, want := desired[key]; want {
			continue
		}
		switch e.state {
		case StateQueued, StateFailedRetrying:
			if e.timer != nil {
				e.timer.Stop()
				e.timer = nil
			}
			e.state = StateAborted
			s.aborted++
			delete(s.entries, key)
		case StateDone, StateFailedTerminal, StateAborted:
			delete(s.entries, key)
		}
	}

	for key, t := range desired {
		e, ok := s.entries[key]
		if !ok {
			s.entries[key] = &entry{tile: t, state: StateQueued}
			continue
		}
		// Refresh priority; a terminal failure re-desired later is a
		// fresh attempt. A done key showing up again means the consumer
		// no longer holds the delivered payload, so refetch it too.
		e.tile = t
		switch e.state {
		case StateFailedTerminal, StateAborted, StateDone:
			e.state = StateQueued
			e.attempts = 0
		}
	}

	s.rebuildQueueLocked()
	s.pumpLocked()
	s.mu.Unlock()
}

func (s *Scheduler) rebuildQueueLocked() {
	s.queue = s.queue[:0]
	for key, e := range s.entries {
		if e.state == StateQueued {
			s.queue = append(s.queue, key)
		}
	}
	sort.Slice(s.queue, func(i, j int) bool {
		return s.entries[s.queue[i]].tile.Distance2 < s.entries[s.queue[j]].tile.Distance2
	})
}

func (s *Scheduler) pumpLocked() {
	for len(s.inflight) < s.cfg.MaxConcurrency && len(s.queue) > 0 {
		key := s.queue[0]
		s.queue = s.queue[1:]
		e, ok := s.entries[key]
		if !ok || e.state != StateQueued {
			continue
		}
		e.state = StateInFlight
		ctx, cancel := context.WithCancel(context.Background())
		s.inflight[key] = cancel
		s.wg.Add(1)
		go s.fetch(ctx, e.tile, e.attempts, s.authToken)
	}
}

func (s *Scheduler) fetch(ctx context.Context, tile Tile, attempt int, token string) {
	defer s.wg.Done()

	data, err := s.doRequest(ctx, tile.URL, token)

	s.mu.Lock()
	// Clear cancels in-flight contexts before this goroutine reacquires the
	// lock, so read the context state first: releasing our own cancel func
	// below would set ctx.Err() as well.
	superseded := ctx.Err() != nil
	if cancel, ok := s.inflight[tile.Key]; ok {
		cancel()
		delete(s.inflight, tile.Key)
	}
	e, tracked := s.entries[tile.Key]
	if !tracked || s.destroyed || superseded {
		// Cleared, destroyed, or superseded mid-flight: result discarded.
		s.pumpLocked()
		s.mu.Unlock()
		return
	}

	if err == nil {
		e.state = StateDone
		s.pumpLocked()
		s.mu.Unlock()
		if s.cb.OnLoaded != nil {
			s.cb.OnLoaded(tile, data)
		}
		return
	}

	e.attempts = attempt + 1
	if e.attempts > s.cfg.MaxRetries {
		e.state = StateFailedTerminal
		s.failed++
		attempts := e.attempts
		s.pumpLocked()
		s.mu.Unlock()
		log.Printf("[Scheduler] tile %s failed terminally after %d attempts: %v", tile.Key, attempts, err)
		if s.cb.OnError != nil {
			s.cb.OnError(tile, err, attempts)
		}
		return
	}

	e.state = StateFailedRetrying
	s.retries++
	delay := s.backoff(attempt)
	key := tile.Key
	e.timer = time.AfterFunc(delay, func() { s.requeue(key) })
	s.pumpLocked()
	s.mu.Unlock()
}

func (s *Scheduler) requeue(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || s.destroyed || e.state != StateFailedRetrying {
		return
	}
	e.timer = nil
	e.state = StateQueued
	s.rebuildQueueLocked()
	s.pumpLocked()
}

// backoff is min(maxDelay, base*2^attempt) plus uniform jitter in
// [0, base).
func (s *Scheduler) backoff(attempt int) time.Duration {
	d := s.cfg.RetryBaseDelay << uint(attempt)
	if d > s.cfg.RetryMaxDelay || d <= 0 {
		d = s.cfg.RetryMaxDelay
	}
	return d + time.Duration(rand.Int63n(int64(s.cfg.RetryBaseDelay)))
}

func (s *Scheduler) doRequest(ctx context.Context, url, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tile fetch: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// GetSnapshot returns current counters.
func (s *Scheduler) GetSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := 0
	for _, e := range s.entries {
		if e.state == StateQueued || e.state == StateFailedRetrying {
			queued++
		}
	}
	return Snapshot{
		InFlight: len(s.inflight),
		Queued:   queued,
		Retries:  s.retries,
		Failed:   s.failed,
		Aborted:  s.aborted,
	}
}

// StateOf reports the tracked state of a tile key.
func (s *Scheduler) StateOf(key string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e.state
	}
	return StateIdle
}

// Clear aborts all queued and in-flight work. The scheduler remains usable.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	for key, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		switch e.state {
		case StateQueued, StateInFlight, StateFailedRetrying:
			s.aborted++
		}
		delete(s.entries, key)
	}
	for key, cancel := range s.inflight {
		cancel()
		delete(s.inflight, key)
	}
	s.queue = s.queue[:0]
	s.mu.Unlock()
	s.wg.Wait()
}

// Destroy aborts everything and makes further Schedule calls no-ops.
func (s *Scheduler) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()
	s.Clear()
}
