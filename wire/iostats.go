package wire

import "sync/atomic"

// IOStats accumulates byte-level instrumentation for a single socket: bytes
// transferred, call counts, and the largest single call seen in each
// direction. All fields are updated with atomic operations so the hot path
// (one reader goroutine, one writer caller) never takes a lock, per spec
// §5's "no lock on hot-path counter updates" rule.
type IOStats struct {
	bytesRead    atomic.Int64
	bytesWritten atomic.Int64
	readCount    atomic.Int64
	writeCount   atomic.Int64
	maxRead      atomic.Int64
	maxWrite     atomic.Int64
}

func (s *IOStats) recordRead(n int) {
	s.bytesRead.Add(int64(n))
	s.readCount.Add(1)
	casMax(&s.maxRead, int64(n))
}

func (s *IOStats) recordWrite(n int) {
	s.bytesWritten.Add(int64(n))
	s.writeCount.Add(1)
	casMax(&s.maxWrite, int64(n))
}

func casMax(dst *atomic.Int64, v int64) {
	for {
		cur := dst.Load()
		if v <= cur {
			return
		}
		if dst.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Snapshot is a point-in-time copy of an IOStats, safe to pass by value.
type Snapshot struct {
	BytesRead    int64
	BytesWritten int64
	ReadCount    int64
	WriteCount   int64
	MaxRead      int64
	MaxWrite     int64
}

// Snapshot captures the current counter values.
func (s *IOStats) Snapshot() Snapshot {
	return Snapshot{
		BytesRead:    s.bytesRead.Load(),
		BytesWritten: s.bytesWritten.Load(),
		ReadCount:    s.readCount.Load(),
		WriteCount:   s.writeCount.Load(),
		MaxRead:      s.maxRead.Load(),
		MaxWrite:     s.maxWrite.Load(),
	}
}
