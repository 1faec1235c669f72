package mysqlcore

import (
	"github.com/dbbouncer/mysqlcore/command"
	"github.com/dbbouncer/mysqlcore/protocol"
)

// ResultEnvelope is the caller-facing shape of a completed Submit: exactly
// one of the two halves is populated, discriminated by IsResultSet. This
// package intentionally stops here rather than offering a database/sql
// driver or a cursor/metadata facade over the rows.
type ResultEnvelope struct {
	// Columns and Rows are populated for a SELECT-shaped statement.
	Columns []protocol.ColumnDefinition41
	Rows    []protocol.TextRow

	// AffectedRows and LastInsertID are populated for a non-result-set
	// statement (INSERT/UPDATE/DELETE/DDL).
	AffectedRows uint64
	LastInsertID uint64

	Status protocol.ServerStatus
}

// IsResultSet reports whether the envelope carries rows rather than an
// affected-rows/last-insert-id summary.
func (r *ResultEnvelope) IsResultSet() bool {
	return r.Columns != nil || r.Rows != nil
}

func newResultEnvelope(res command.QueryResult, status protocol.ServerStatus) *ResultEnvelope {
	if res.OK != nil {
		return &ResultEnvelope{
			AffectedRows: res.OK.AffectedRows,
			LastInsertID: res.OK.LastInsertID,
			Status:       res.OK.Status,
		}
	}
	return &ResultEnvelope{
		Columns: res.Columns,
		Rows:    res.Rows,
		Status:  status,
	}
}
