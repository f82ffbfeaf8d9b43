package dml

import (
	"context"

	"github.com/hugr-lab/go-mssql-core/internal/pool"
	"github.com/hugr-lab/go-mssql-core/internal/txn"
)

// TransactionSource adapts a txn.Transaction to ConnProvider so a batcher
// can ride the one pinned Connection for the life of an explicit
// transaction (spec §4.7: "every host operation must obtain that pinned
// Connection"). Release is a no-op — the Transaction keeps the Connection
// pinned until Commit or Rollback, and pool.Release already no-ops on a
// pinned connection, so this mirrors that contract explicitly rather than
// relying on it silently.
type TransactionSource struct {
	Txn *txn.Transaction
}

func (s TransactionSource) Acquire(ctx context.Context) (*pool.PooledConn, error) {
	return s.Txn.Conn(ctx)
}

func (s TransactionSource) Release(conn *pool.PooledConn) {}
