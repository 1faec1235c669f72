package connpool

import (
	"errors"
	"strings"

	"github.com/dbbouncer/mysqlcore/channel"
	"github.com/dbbouncer/mysqlcore/command"
	"github.com/dbbouncer/mysqlcore/metrics"
	"github.com/dbbouncer/mysqlcore/protocol"
)

// classifyShape reports the RowShape a SELECT/INSERT/UPDATE/DELETE
// statement falls under, by its leading keyword. Any other statement
// shape reports ok=false: spec §6 only tracks row counts for these four.
func classifyShape(sql string) (shape metrics.RowShape, ok bool) {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "", false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT":
		return metrics.ShapeSelect, true
	case "INSERT":
		return metrics.ShapeInsert, true
	case "UPDATE":
		return metrics.ShapeUpdate, true
	case "DELETE":
		return metrics.ShapeDelete, true
	default:
		return "", false
	}
}

// classifyFailure maps a Submit error to one of spec §7's failure kinds.
func classifyFailure(err error) metrics.FailureKind {
	var ep protocol.ErrPacket
	if errors.As(err, &ep) {
		if ep.Code == 1062 {
			return metrics.FailureDuplicateEntryForKey
		}
		return metrics.FailureMysqlError
	}
	switch {
	case errors.Is(err, channel.ErrTimeout):
		return metrics.FailureTimeout
	case errors.Is(err, channel.ErrIllegalState):
		return metrics.FailureIllegalState
	default:
		return metrics.FailureUnexpectedError
	}
}

// rowCount returns the row count a completed QueryCommand's result
// carries: affected rows for an OK-shaped response, len(Rows) for a
// result-set-shaped one.
func rowCount(res command.QueryResult) int {
	if res.OK != nil {
		return int(res.OK.AffectedRows)
	}
	return len(res.Rows)
}
