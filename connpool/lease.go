package connpool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dbbouncer/mysqlcore/channel"
	"github.com/dbbouncer/mysqlcore/command"
	"github.com/dbbouncer/mysqlcore/metrics"
)

// Lease is the caller's handle on one leased slot (spec §6's
// `Lease::release` / `Lease::channel` surface). Release is idempotent;
// calling it more than once, or never, never corrupts the pool — an
// unreleased lease is eventually reclaimed by the leak sweeper.
type Lease struct {
	pool *Pool
	idx  int
	ch   *channel.Channel

	released atomic.Bool
}

// Channel returns the channel this lease carries.
func (l *Lease) Channel() *channel.Channel { return l.ch }

// Release returns the slot to the pool's free list. Safe to call more
// than once; only the first call has any effect.
func (l *Lease) Release() {
	if l.released.CompareAndSwap(false, true) {
		l.pool.release(l.idx)
	}
}

// Submit runs cmd through the lease's channel, measuring wall-clock time
// to report slow-execution events (spec §4.E / §7's SlowExecution error
// kind is a reporting signal, not a failure: the command still completes
// normally) and to stash a correlation id against the channel's
// connection id so a subsequent timeout-driven KILL can be logged under
// the same id.
func (l *Lease) Submit(ctx context.Context, cmd command.Command, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = l.pool.cfg.QueryTimeout
	}
	start := time.Now()
	err := l.ch.Submit(ctx, cmd, timeout)
	elapsed := time.Since(start)

	if elapsed > l.pool.cfg.SlowQueryThreshold {
		l.pool.emitSlowQuery(l.ch, elapsed)
		l.pool.reportCommandFailed(metrics.FailureSlowExecution)
	}
	if err != nil {
		l.pool.reportCommandFailed(classifyFailure(err))
	} else if qc, ok := cmd.(*command.QueryCommand); ok {
		l.pool.reportRowsObserved(qc)
	}
	return err
}
