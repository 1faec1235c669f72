// Package metrics exposes the counter events of spec §6 through a
// Prometheus collector shaped the same way as the teacher's
// internal/metrics: a dedicated registry, one instrument per event,
// registered once at construction.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// FailureKind names one of the error categories of spec §7 that a
// command can fail with. Only these eight values are ever used as the
// "kind" label, so cardinality stays bounded regardless of call volume.
type FailureKind string

const (
	FailureMysqlError           FailureKind = "MysqlError"
	FailureIllegalState         FailureKind = "IllegalState"
	FailureTimeout              FailureKind = "Timeout"
	FailureInvalidParameter     FailureKind = "InvalidParameter"
	FailureResultSetError       FailureKind = "ResultSetError"
	FailureUnexpectedError      FailureKind = "UnexpectedError"
	FailureSlowExecution        FailureKind = "SlowExecution"
	FailureDuplicateEntryForKey FailureKind = "DuplicateEntryForKey"
)

// RowShape names one of the SQL statement shapes whose row counts are
// tracked separately.
type RowShape string

const (
	ShapeSelect RowShape = "select"
	ShapeInsert RowShape = "insert"
	ShapeUpdate RowShape = "update"
	ShapeDelete RowShape = "delete"
)

// Collector holds every Prometheus instrument for one (host, database)
// pair's worth of mysqlcore activity.
type Collector struct {
	Registry *prometheus.Registry

	socketBytesRead    *prometheus.CounterVec
	socketBytesWritten *prometheus.CounterVec
	socketReadCount    *prometheus.CounterVec
	socketWriteCount   *prometheus.CounterVec
	socketMaxRead      *prometheus.GaugeVec
	socketMaxWrite     *prometheus.GaugeVec

	commandFailures *prometheus.CounterVec

	rowsTotal      *prometheus.CounterVec
	rowsMaxPerCall *prometheus.GaugeVec

	poolAcquired      *prometheus.GaugeVec
	poolMaxAcquired   *prometheus.GaugeVec
	poolLeakCount     *prometheus.CounterVec
	poolAcquireFailed *prometheus.CounterVec

	rowsMaxMu sync.Mutex
	rowsMax   map[string]int
}

// New creates and registers all instruments on a fresh registry. Safe to
// call once per (host, database) pair; see Registry in this package for
// the process-wide idempotent lookup.
func New() *Collector {
	reg := prometheus.NewRegistry()
	labels := []string{"host", "database"}

	c := &Collector{
		Registry: reg,
		rowsMax:  make(map[string]int),
		socketBytesRead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysqlcore_socket_bytes_read_total",
				Help: "Total bytes read from the wire per (host, database).",
			}, labels),
		socketBytesWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysqlcore_socket_bytes_written_total",
				Help: "Total bytes written to the wire per (host, database).",
			}, labels),
		socketReadCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysqlcore_socket_read_total",
				Help: "Total socket read calls per (host, database).",
			}, labels),
		socketWriteCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysqlcore_socket_write_total",
				Help: "Total socket write calls per (host, database).",
			}, labels),
		socketMaxRead: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mysqlcore_socket_max_single_read_bytes",
				Help: "Largest single read seen so far per (host, database).",
			}, labels),
		socketMaxWrite: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mysqlcore_socket_max_single_write_bytes",
				Help: "Largest single write seen so far per (host, database).",
			}, labels),

		commandFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysqlcore_command_failures_total",
				Help: "Command completions by failure kind per (host, database).",
			}, append(append([]string{}, labels...), "kind")),

		rowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysqlcore_rows_total",
				Help: "Rows affected or returned per SQL shape per (host, database).",
			}, append(append([]string{}, labels...), "shape")),
		rowsMaxPerCall: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mysqlcore_rows_max_per_call",
				Help: "Largest row count seen in a single call per SQL shape per (host, database).",
			}, append(append([]string{}, labels...), "shape")),

		poolAcquired: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mysqlcore_pool_acquired",
				Help: "Currently leased slots per (host, database).",
			}, labels),
		poolMaxAcquired: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mysqlcore_pool_max_acquired",
				Help: "High-water mark of simultaneously leased slots per (host, database).",
			}, labels),
		poolLeakCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysqlcore_pool_leaks_total",
				Help: "Leases force-reclaimed by the leak sweeper per (host, database).",
			}, labels),
		poolAcquireFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mysqlcore_pool_acquire_failed_total",
				Help: "Acquire calls that failed or timed out per (host, database).",
			}, labels),
	}

	reg.MustRegister(
		c.socketBytesRead,
		c.socketBytesWritten,
		c.socketReadCount,
		c.socketWriteCount,
		c.socketMaxRead,
		c.socketMaxWrite,
		c.commandFailures,
		c.rowsTotal,
		c.rowsMaxPerCall,
		c.poolAcquired,
		c.poolMaxAcquired,
		c.poolLeakCount,
		c.poolAcquireFailed,
	)
	return c
}

// SocketStats records a snapshot of socket byte/call instrumentation
// (wire.Snapshot, reported as plain fields here so this package does not
// import the wire package).
func (c *Collector) SocketStats(host, database string, bytesRead, bytesWritten, readCalls, writeCalls uint64, maxRead, maxWrite int64) {
	c.socketBytesRead.WithLabelValues(host, database).Add(float64(bytesRead))
	c.socketBytesWritten.WithLabelValues(host, database).Add(float64(bytesWritten))
	c.socketReadCount.WithLabelValues(host, database).Add(float64(readCalls))
	c.socketWriteCount.WithLabelValues(host, database).Add(float64(writeCalls))
	c.socketMaxRead.WithLabelValues(host, database).Set(float64(maxRead))
	c.socketMaxWrite.WithLabelValues(host, database).Set(float64(maxWrite))
}

// CommandFailed increments the failure counter for kind. A server-side
// MysqlError or an observational SlowExecution both land here alongside
// the hard failure kinds: spec §7 treats them as one taxonomy of
// per-command outcomes, not two.
func (c *Collector) CommandFailed(host, database string, kind FailureKind) {
	c.commandFailures.WithLabelValues(host, database, string(kind)).Inc()
}

// RowsObserved records a call's row count for shape, tracking both the
// running total and the largest single-call count seen. The per-shape
// maximum is read-modify-write, so it is guarded by a mutex rather than
// relying on GaugeVec's own atomic Set (which has no compare-and-set).
func (c *Collector) RowsObserved(host, database string, shape RowShape, rows int) {
	c.rowsTotal.WithLabelValues(host, database, string(shape)).Add(float64(rows))

	key := host + "\x00" + database + "\x00" + string(shape)
	c.rowsMaxMu.Lock()
	if rows > c.rowsMax[key] {
		c.rowsMax[key] = rows
		c.rowsMaxPerCall.WithLabelValues(host, database, string(shape)).Set(float64(rows))
	}
	c.rowsMaxMu.Unlock()
}

// PoolStats reflects a connpool.Stats snapshot into the pool gauges.
func (c *Collector) PoolStats(host, database string, acquired, maxAcquired int) {
	c.poolAcquired.WithLabelValues(host, database).Set(float64(acquired))
	c.poolMaxAcquired.WithLabelValues(host, database).Set(float64(maxAcquired))
}

// PoolLeak increments the leak counter by one.
func (c *Collector) PoolLeak(host, database string) {
	c.poolLeakCount.WithLabelValues(host, database).Inc()
}

// PoolAcquireFailed increments the acquire-failed counter by one.
func (c *Collector) PoolAcquireFailed(host, database string) {
	c.poolAcquireFailed.WithLabelValues(host, database).Inc()
}
