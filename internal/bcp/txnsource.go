package bcp

import (
	"context"

	"github.com/hugr-lab/go-mssql-core/internal/pool"
	"github.com/hugr-lab/go-mssql-core/internal/txn"
)

// TransactionSource adapts a txn.Transaction to ConnSource so a bulk load
// issued inside an explicit transaction rides the one pinned Connection
// instead of borrowing its own (spec §4.7/§4.9). Release and Discard are
// both no-ops: the Transaction owns the Connection's lifetime until Commit
// or Rollback, mirroring dml.TransactionSource.
type TransactionSource struct {
	Txn *txn.Transaction
}

func (s TransactionSource) Acquire(ctx context.Context) (*pool.PooledConn, error) {
	return s.Txn.Conn(ctx)
}

func (s TransactionSource) Release(conn *pool.PooledConn) {}
func (s TransactionSource) Discard(conn *pool.PooledConn) {}
