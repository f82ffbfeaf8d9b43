package dml

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugr-lab/go-mssql-core/internal/pool"
)

// defaultParamBudget is the per-batch parameter ceiling spec §4.8 rule 1
// defaults to (the server hard limit is roughly 2,100).
const defaultParamBudget = 2000

// Column describes one target-table column a batcher writes to.
type Column struct {
	Name         string
	IsPrimaryKey bool
}

// TableRef names the target table and its column shape.
type TableRef struct {
	Schema  string
	Table   string
	Columns []Column
}

func (t TableRef) qualifiedName() string {
	if t.Schema == "" {
		return fmt.Sprintf("[%s]", t.Table)
	}
	return fmt.Sprintf("[%s].[%s]", t.Schema, t.Table)
}

func (t TableRef) primaryKeyColumns() []Column {
	var pk []Column
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			pk = append(pk, c)
		}
	}
	return pk
}

// ConnProvider supplies the Connection a flush runs on. *pool.Pool
// satisfies this directly (autocommit: one Connection borrowed and
// returned per flush); a Transaction-backed source wraps txn.Transaction
// so every flush rides the one pinned Connection instead (spec §4.7/§4.8).
type ConnProvider interface {
	Acquire(ctx context.Context) (*pool.PooledConn, error)
	Release(conn *pool.PooledConn)
}

// effectiveBatchSize implements spec §4.8 rule 1: min(configured_batch_size,
// param_budget / params_per_row).
func effectiveBatchSize(configuredBatchSize, paramsPerRow int) int {
	if paramsPerRow <= 0 {
		paramsPerRow = 1
	}
	budgetRows := defaultParamBudget / paramsPerRow
	if budgetRows < 1 {
		budgetRows = 1
	}
	if configuredBatchSize <= 0 || configuredBatchSize > budgetRows {
		return budgetRows
	}
	return configuredBatchSize
}

// runBatch executes sql on a Connection obtained from conns, fully drains
// the response (expecting a DONE with DONE_COUNT per spec §4.8 rule 4),
// and returns the affected row count.
func runBatch(ctx context.Context, conns ConnProvider, sql string) (uint64, error) {
	conn, err := conns.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("dml: acquiring connection: %w", err)
	}
	defer conns.Release(conn)

	stream, err := conn.Conn().Execute(ctx, sql)
	if err != nil {
		return 0, fmt.Errorf("dml: executing batch: %w", err)
	}
	for stream.Next() {
	}
	conn.Conn().Release(stream)
	if err := stream.Err(); err != nil {
		return 0, fmt.Errorf("dml: batch failed: %w", err)
	}
	return stream.RowsAffected(), nil
}

// encodeRowLiterals renders one row's values as a parenthesized VALUES
// tuple, in the given column order.
func encodeRowLiterals(values []any) (string, error) {
	parts := make([]string, len(values))
	for i, v := range values {
		lit, err := EncodeLiteral(v)
		if err != nil {
			return "", fmt.Errorf("dml: encoding column %d: %w", i, err)
		}
		parts[i] = lit
	}
	return "(" + strings.Join(parts, ", ") + ")", nil
}

func joinColumnNames(cols []Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = fmt.Sprintf("[%s]", c.Name)
	}
	return strings.Join(names, ", ")
}
