// Package connpool implements the bounded connection pool of spec §4.E: a
// fixed-size slot vector, an acquire/release contract fair under
// contention, a background leak sweeper, and out-of-band sibling-channel
// KILL when a query times out.
package connpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dbbouncer/mysqlcore/channel"
	"github.com/dbbouncer/mysqlcore/command"
	"github.com/dbbouncer/mysqlcore/metrics"
)

// Stats is a point-in-time snapshot of the pool's slot vector and
// counters, mirroring the teacher's per-tenant pool.Stats shape collapsed
// to a single pool.
type Stats struct {
	Size               int
	Free               int
	Leased             int
	Empty              int
	Waiting            int
	LeakCount          int64
	AcquireFailedCount int64
	MaxLeased          int64
}

// Pool is a fixed-size vector of channels plus the bookkeeping needed to
// acquire, release, sweep, and out-of-band KILL them.
type Pool struct {
	addr       string
	cfg        Config
	channelCfg channel.Config
	logger     *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	slots    []slot
	waiting  int
	closed   bool
	closedCh chan struct{}

	leakCount          int64
	acquireFailedCount int64
	maxLeased          int64

	correlations map[uint32]string

	killAuth *killAuthCache

	metrics *metrics.Collector

	onUnhealthy func(slotIdx int, err error)
	onSlowQuery func(connID uint32, elapsed time.Duration, correlationID string)

	sweepDone chan struct{}
}

// Option configures optional Pool behavior at construction.
type Option func(*Pool)

// WithUnhealthyCallback registers a callback fired exactly once per
// Broken transition not caused by an explicit Pool.Close.
func WithUnhealthyCallback(fn func(slotIdx int, err error)) Option {
	return func(p *Pool) { p.onUnhealthy = fn }
}

// WithSlowQueryCallback registers a callback fired once per command whose
// wall-clock exceeds Config.SlowQueryThreshold.
func WithSlowQueryCallback(fn func(connID uint32, elapsed time.Duration, correlationID string)) Option {
	return func(p *Pool) { p.onSlowQuery = fn }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithMetrics feeds the pool's acquire/release/sweep events into c, keyed
// by this pool's (addr, database) pair. Without this option the pool
// tracks its counters internally but never reports them.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pool) { p.metrics = c }
}

// WithKillAuthCredential gates the probe tool's manual-KILL endpoint
// behind a bcrypt-hashed operator credential (see killauth.go). The
// pool's own automatic query-timeout KILL never consults this gate.
func WithKillAuthCredential(credential string) Option {
	return func(p *Pool) {
		if err := p.killAuth.Set(credential); err != nil && p.logger != nil {
			p.logger.Error("connpool: failed to set kill-authorization credential", "error", err)
		}
	}
}

// New constructs a Pool of cfg.Size slots dialing addr, all initially
// empty. The leak sweeper starts immediately.
func New(addr string, cfg Config, channelCfg channel.Config, opts ...Option) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p := &Pool{
		addr:         addr,
		cfg:          cfg,
		channelCfg:   channelCfg,
		logger:       slog.Default(),
		slots:        make([]slot, cfg.Size),
		closedCh:     make(chan struct{}),
		correlations: make(map[uint32]string),
		killAuth:     newKillAuthCache(),
		sweepDone:    make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	go p.sweepLoop()
	return p, nil
}

// Acquire blocks the caller up to Config.AcquireTimeout (or ctx's
// deadline, whichever is sooner) for a usable channel, following the
// four-step algorithm of spec §4.E: wait on the bounded fairness
// primitive (here, the slot vector itself, scanned under a condition
// variable rather than a separate semaphore channel — since the slot
// count already caps concurrent leases, a second counting primitive
// would just duplicate that bound), claim a free or lazily-dialed empty
// cell, retry past any cell whose channel turned out Broken, and fail
// with ErrAcquireFailed after bounded retries.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.mu.Lock()
	for attempt := 0; ; {
		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, ctx.Err()
		default:
		}
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if idx, ch, ok := p.claimFreeLocked(); ok {
			if !p.slots[idx].usable() {
				p.slots[idx] = slot{}
				ch.Close()
				attempt++
				if attempt > p.cfg.Size {
					p.acquireFailedCount++
					p.mu.Unlock()
					p.reportAcquireFailed()
					return nil, fmt.Errorf("%w: exhausted retries past broken slots", ErrAcquireFailed)
				}
				continue
			}
			p.mu.Unlock()
			return p.newLease(idx, ch), nil
		}

		if idx, ok := p.claimEmptyLocked(); ok {
			p.mu.Unlock()
			ch, err := p.dial(ctx, idx)
			p.mu.Lock()
			if err != nil {
				p.slots[idx] = slot{}
				p.cond.Broadcast()
				p.mu.Unlock()
				return nil, fmt.Errorf("connpool: dialing new connection: %w", err)
			}
			p.slots[idx].ch = ch
			p.slots[idx].acquiredAt = time.Now()
			p.slots[idx].maxOccupancy = p.cfg.MaxOccupancy
			p.mu.Unlock()
			return p.newLease(idx, ch), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.acquireFailedCount++
			p.mu.Unlock()
			p.reportAcquireFailed()
			return nil, ErrAcquireTimeout
		}

		p.waiting++
		timer := time.AfterFunc(remaining, func() { p.cond.Broadcast() })
		stopWatch := p.watchCtxDone(ctx)
		p.cond.Wait() // releases mu, waits for Signal/Broadcast, reacquires mu
		timer.Stop()
		stopWatch()
		p.waiting--
		// Retry from the top of the loop (mu is held).
	}
}

// watchCtxDone broadcasts the pool's condition variable if ctx is
// cancelled before the caller stops watching, so a cond.Wait() blocked on
// a context without its own deadline still wakes promptly on
// cancellation rather than waiting for the next unrelated broadcast.
func (p *Pool) watchCtxDone(ctx context.Context) (stop func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.cond.Broadcast()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// claimFreeLocked marks the first free slot leased and returns it. Caller
// must hold p.mu.
func (p *Pool) claimFreeLocked() (int, *channel.Channel, bool) {
	for i := range p.slots {
		if p.slots[i].state == slotFree {
			p.slots[i].state = slotLeased
			p.slots[i].acquiredAt = time.Now()
			p.slots[i].maxOccupancy = p.cfg.MaxOccupancy
			p.trackMaxLeasedLocked()
			return i, p.slots[i].ch, true
		}
	}
	return 0, nil, false
}

// claimEmptyLocked reserves the first empty slot (marking it leased with
// no channel yet, so no other acquirer can also claim it) and returns its
// index for the caller to dial into. Caller must hold p.mu.
func (p *Pool) claimEmptyLocked() (int, bool) {
	for i := range p.slots {
		if p.slots[i].state == slotEmpty {
			p.slots[i].state = slotLeased
			p.trackMaxLeasedLocked()
			return i, true
		}
	}
	return 0, false
}

func (p *Pool) trackMaxLeasedLocked() {
	leased := p.leasedLocked()
	if leased > p.maxLeased {
		p.maxLeased = leased
	}
	p.reportPoolGaugesLocked(leased)
}

func (p *Pool) leasedLocked() int64 {
	var leased int64
	for _, s := range p.slots {
		if s.state == slotLeased {
			leased++
		}
	}
	return leased
}

// reportPoolGaugesLocked pushes the current leased/max-leased gauges to
// the collector, if one is configured. Caller must hold p.mu.
func (p *Pool) reportPoolGaugesLocked(leased int64) {
	if p.metrics == nil {
		return
	}
	p.metrics.PoolStats(p.addr, p.channelCfg.Database, int(leased), int(p.maxLeased))
}

// reportAcquireFailed increments the collector's acquire-failed counter.
// Called without p.mu held.
func (p *Pool) reportAcquireFailed() {
	if p.metrics == nil {
		return
	}
	p.metrics.PoolAcquireFailed(p.addr, p.channelCfg.Database)
}

// reportCommandFailed increments the collector's per-kind failure counter.
func (p *Pool) reportCommandFailed(kind metrics.FailureKind) {
	if p.metrics == nil {
		return
	}
	p.metrics.CommandFailed(p.addr, p.channelCfg.Database, kind)
}

// reportRowsObserved records qc's row count under its SQL shape, if it has
// one of the four shapes spec §6 tracks.
func (p *Pool) reportRowsObserved(qc *command.QueryCommand) {
	if p.metrics == nil {
		return
	}
	shape, ok := classifyShape(qc.SQL())
	if !ok {
		return
	}
	p.metrics.RowsObserved(p.addr, p.channelCfg.Database, shape, rowCount(qc.Result()))
}

func (p *Pool) dial(ctx context.Context, slotIdx int) (*channel.Channel, error) {
	cfg := p.channelCfg
	cfg.OnTimeout = func(c *channel.Channel) { p.handleTimeout(c) }
	cfg.OnBroken = func(c *channel.Channel) { p.handleBroken(slotIdx, c) }
	cfg.Metrics = p.metrics
	cfg.MetricsHost = p.addr
	return channel.Dial(ctx, p.addr, cfg)
}

func (p *Pool) newLease(idx int, ch *channel.Channel) *Lease {
	return &Lease{pool: p, idx: idx, ch: ch}
}

// release flips slot idx from leased back to free. Idempotent: releasing
// an already-free slot is a no-op, matching Lease.Release's contract.
func (p *Pool) release(idx int) {
	p.mu.Lock()
	if p.slots[idx].state != slotLeased {
		p.mu.Unlock()
		return
	}
	p.slots[idx].state = slotFree
	p.slots[idx].acquiredAt = time.Time{}
	p.reportPoolGaugesLocked(p.leasedLocked())
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *Pool) handleBroken(slotIdx int, c *channel.Channel) {
	p.mu.Lock()
	closing := p.closed
	p.mu.Unlock()
	if closing {
		return
	}
	if p.onUnhealthy != nil {
		p.onUnhealthy(slotIdx, fmt.Errorf("connpool: channel for connection id %d broke", c.ConnectionID()))
	}
}

// handleTimeout implements spec §4.E's query-timeout-and-KILL sequence:
// acquire a sibling channel, submit a KillCommand carrying c's
// connection id, release the sibling, then mark c Broken. It runs on its
// own goroutine, kicked off by channel.Channel after Submit times out, so
// it never blocks the caller that already received the Timeout error.
func (p *Pool) handleTimeout(c *channel.Channel) {
	connID := c.ConnectionID()
	correlationID := p.takeCorrelation(connID)

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.killTimeout())
	defer cancel()

	if err := p.killSibling(ctx, c, connID); err != nil {
		p.logger.Warn("connpool: sibling KILL did not complete",
			"connection_id", connID, "correlation_id", correlationID, "error", err)
	} else {
		p.logger.Info("connpool: issued sibling KILL after query timeout",
			"connection_id", connID, "correlation_id", correlationID)
	}
	c.MarkBroken()
}

// killSibling acquires any channel other than victim and submits
// KillCommand(connID) on it. If no sibling is available within the kill
// timeout, the KILL step is skipped per spec §4.E step 1.
func (p *Pool) killSibling(ctx context.Context, victim *channel.Channel, connID uint32) error {
	for attempt := 0; attempt < p.cfg.Size; attempt++ {
		lease, err := p.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("connpool: no sibling channel available: %w", err)
		}
		if lease.Channel() == victim {
			lease.Release()
			continue
		}
		defer lease.Release()

		kill := command.NewKillCommand(lease.Channel().Capabilities(), connID)
		return lease.Channel().Submit(ctx, kill, p.cfg.killTimeout())
	}
	return fmt.Errorf("connpool: %w: no sibling slot distinct from the victim", ErrAcquireFailed)
}

func (p *Pool) rememberCorrelation(connID uint32, id string) {
	p.mu.Lock()
	p.correlations[connID] = id
	p.mu.Unlock()
}

func (p *Pool) takeCorrelation(connID uint32) string {
	p.mu.Lock()
	id, ok := p.correlations[connID]
	if ok {
		delete(p.correlations, connID)
	}
	p.mu.Unlock()
	if !ok {
		return uuid.NewString()
	}
	return id
}

// emitSlowQuery reports a command whose wall-clock exceeded
// Config.SlowQueryThreshold, stashing the correlation id against the
// channel's connection id so a subsequent timeout-driven KILL on the
// same command can be logged under the same id.
func (p *Pool) emitSlowQuery(ch *channel.Channel, elapsed time.Duration) string {
	correlationID := uuid.NewString()
	p.rememberCorrelation(ch.ConnectionID(), correlationID)
	if p.onSlowQuery != nil {
		p.onSlowQuery(ch.ConnectionID(), elapsed, correlationID)
	}
	return correlationID
}

// AuthorizeKill reports whether credential authorizes an
// externally-triggered manual KILL (e.g. from the debug probe's HTTP
// surface). The pool's own automatic timeout-driven KILL bypasses this
// gate entirely — it targets a connection the pool already owns.
func (p *Pool) AuthorizeKill(credential string) bool {
	return p.killAuth.Authorized(credential)
}

// sweepLoop is the background leak sweeper: wakes every
// Config.sweepInterval() and force-releases any lease held past
// Config.MaxOccupancy.
func (p *Pool) sweepLoop() {
	defer close(p.sweepDone)
	ticker := time.NewTicker(p.cfg.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-p.closedCh:
			return
		case <-ticker.C:
			p.sweepOnce()
		}
	}
}

func (p *Pool) sweepOnce() {
	now := time.Now()
	var toBreak []*channel.Channel

	p.mu.Lock()
	for i := range p.slots {
		s := &p.slots[i]
		if s.state != slotLeased || s.acquiredAt.IsZero() {
			continue
		}
		if now.Sub(s.acquiredAt) <= s.maxOccupancy {
			continue
		}
		p.leakCount++
		if p.metrics != nil {
			p.metrics.PoolLeak(p.addr, p.channelCfg.Database)
		}
		if s.ch.State() == channel.StateExecuting {
			toBreak = append(toBreak, s.ch)
		}
		s.state = slotFree
		s.acquiredAt = time.Time{}
	}
	p.reportPoolGaugesLocked(p.leasedLocked())
	p.mu.Unlock()

	for _, ch := range toBreak {
		ch.MarkBroken()
	}
	if len(toBreak) > 0 || len(p.slots) > 0 {
		p.cond.Broadcast()
	}
}

// Stats returns a snapshot of the pool's slot vector and counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var free, leased, empty int
	for _, s := range p.slots {
		switch s.state {
		case slotFree:
			free++
		case slotLeased:
			leased++
		default:
			empty++
		}
	}
	return Stats{
		Size:               len(p.slots),
		Free:               free,
		Leased:             leased,
		Empty:              empty,
		Waiting:            p.waiting,
		LeakCount:          p.leakCount,
		AcquireFailedCount: p.acquireFailedCount,
		MaxLeased:          p.maxLeased,
	}
}

// Close tears down every channel in the pool and unblocks all waiters
// with ErrPoolClosed. Idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closedCh)
	var toClose []*channel.Channel
	for i := range p.slots {
		if p.slots[i].ch != nil {
			toClose = append(toClose, p.slots[i].ch)
		}
		p.slots[i] = slot{}
	}
	p.mu.Unlock()
	p.cond.Broadcast()

	for _, ch := range toClose {
		ch.Close()
	}
	return nil
}
