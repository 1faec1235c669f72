package connpool

import (
	"time"

	"github.com/dbbouncer/mysqlcore/channel"
)

type slotState int

const (
	slotEmpty slotState = iota
	slotFree
	slotLeased
)

// slot is one cell in the pool's fixed-size vector (spec §3 "Pooled
// connection"): a channel paired with an occupied/free flag, the
// timestamp of its last acquire, and the occupancy budget for that
// acquire.
type slot struct {
	state        slotState
	ch           *channel.Channel
	acquiredAt   time.Time
	maxOccupancy time.Duration
}

// usable reports whether the slot's channel is still fit to hand out —
// Ready, not Broken and not mid-command from a stalled prior lease.
func (s slot) usable() bool {
	return s.ch != nil && s.ch.State() == channel.StateReady
}
