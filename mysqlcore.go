// Package mysqlcore is the caller-facing facade over channel/connpool: a
// Pool that hands out Leases, and a Submit that turns a SQL string into a
// ResultEnvelope. It is a thin adapter, not a database/sql driver or a SQL
// cursor/metadata facade — callers who need that should wrap this package
// themselves, it is explicitly not this package's job.
package mysqlcore

import (
	"context"
	"time"

	"github.com/dbbouncer/mysqlcore/channel"
	"github.com/dbbouncer/mysqlcore/command"
	"github.com/dbbouncer/mysqlcore/connpool"
	"github.com/dbbouncer/mysqlcore/dsnopts"
)

// QueryResult re-exports command.QueryResult so callers constructing a
// ResultEnvelope never need to import the command package directly.
type QueryResult = command.QueryResult

// Pool is a bounded pool of MySQL connections to one (host, database)
// pair, opened from a dsnopts.Options.
type Pool struct {
	inner *connpool.Pool
}

// Open validates opts and constructs a Pool sized and timed by poolCfg.
// The returned Pool dials lazily: no network I/O happens until the first
// Acquire needs an empty slot.
func Open(opts dsnopts.Options, poolCfg connpool.Config, connOpts ...connpool.Option) (*Pool, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	channelCfg := channel.Config{
		Username:            opts.Username,
		Password:            opts.Password,
		Database:            opts.Database,
		DesiredCapabilities: opts.DesiredCapabilities(),
		Charset:             opts.CharacterID,
		PingPeriod:          opts.PingPeriod,
	}

	inner, err := connpool.New(opts.Addr(), poolCfg, channelCfg, connOpts...)
	if err != nil {
		return nil, err
	}
	return &Pool{inner: inner}, nil
}

// Acquire leases a ready channel from the pool, dialing and handshaking a
// new one into an empty slot when no free slot holds a channel.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	inner, err := p.inner.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Lease{inner: inner}, nil
}

// Stats returns a snapshot of the pool's slot occupancy and lifetime
// counters.
func (p *Pool) Stats() connpool.Stats { return p.inner.Stats() }

// AuthorizeKill reports whether credential matches the pool's configured
// manual-KILL credential (see connpool.WithKillAuthCredential). Intended
// for a debug HTTP endpoint gating an operator-triggered KILL, not for
// use by ordinary callers.
func (p *Pool) AuthorizeKill(credential string) bool { return p.inner.AuthorizeKill(credential) }

// Close tears down every channel in the pool and unblocks any pending
// Acquire calls with connpool.ErrPoolClosed.
func (p *Pool) Close() error { return p.inner.Close() }

// Kill issues a manual `KILL <connID>` statement (sent as COM_QUERY) over a freshly
// acquired sibling channel. This is the caller-facing counterpart to the
// pool's own automatic query-timeout KILL (connpool's killSibling):
// intended for an operator-gated debug endpoint, not ordinary query flow.
func (p *Pool) Kill(ctx context.Context, connID uint32, timeout time.Duration) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()

	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	kill := command.NewKillCommand(lease.Channel().Capabilities(), connID)
	return lease.inner.Submit(ctx, kill, timeout)
}

// Lease is a borrowed channel; callers must call Release exactly once
// when done, usually via defer immediately after Acquire succeeds.
type Lease struct {
	inner *connpool.Lease
}

// Release returns the underlying channel to the pool. Safe to call more
// than once; only the first call has an effect.
func (l *Lease) Release() { l.inner.Release() }

// Channel exposes the underlying channel.Channel for callers that need
// lower-level access (connection id, capabilities, raw Submit) beyond
// what Submit's SQL-string convenience offers.
func (l *Lease) Channel() *channel.Channel { return l.inner.Channel() }

// Submit runs sql as a single COM_QUERY against the leased channel and
// returns its result as a ResultEnvelope. timeout <= 0 uses the pool's
// configured query timeout.
func (l *Lease) Submit(ctx context.Context, sql string, timeout time.Duration) (*ResultEnvelope, error) {
	ch := l.inner.Channel()
	cmd := command.NewQueryCommand(ch.Capabilities(), sql)
	if err := l.inner.Submit(ctx, cmd, timeout); err != nil {
		return nil, err
	}
	return newResultEnvelope(cmd.Result(), cmd.Status()), nil
}
