package dml

import (
	"context"
	"fmt"
	"strings"
)

// Deleter batches rows into FROM-JOIN DELETE statements keyed by row
// identity (spec §4.8). Tables without a primary key are rejected at
// construction, before any batch is sent.
type Deleter struct {
	table        TableRef
	pkCols       []Column
	conns        ConnProvider
	batchSize    int
	deferFlush   bool
	rows         [][]any
	rowsAffected uint64
}

// NewDeleter builds a Deleter for table. deferFlush must be true when this
// batcher runs inside an explicit transaction on a pinned Connection (spec
// §4.8's defer-to-finalise rule — same reasoning as Updater).
func NewDeleter(table TableRef, conns ConnProvider, configuredBatchSize int, deferFlush bool) (*Deleter, error) {
	pk := table.primaryKeyColumns()
	if len(pk) == 0 {
		return nil, fmt.Errorf("dml: delete from %s: table has no primary key", table.qualifiedName())
	}
	return &Deleter{
		table:      table,
		pkCols:     pk,
		conns:      conns,
		batchSize:  effectiveBatchSize(configuredBatchSize, len(pk)),
		deferFlush: deferFlush,
	}, nil
}

// Add appends one row's identity (one value per primary-key column, in
// key-ordinal order).
func (b *Deleter) Add(ctx context.Context, rowID []any) error {
	if len(rowID) != len(b.pkCols) {
		return fmt.Errorf("dml: delete row id has %d values, table has %d primary-key columns", len(rowID), len(b.pkCols))
	}
	b.rows = append(b.rows, rowID)
	if !b.deferFlush && len(b.rows) >= b.batchSize {
		return b.flushChunk(ctx, b.batchSize)
	}
	return nil
}

// Finish flushes every remaining buffered row, chunked to the effective
// batch size.
func (b *Deleter) Finish(ctx context.Context) error {
	for len(b.rows) > 0 {
		n := b.batchSize
		if n > len(b.rows) {
			n = len(b.rows)
		}
		if err := b.flushChunk(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// RowsAffected returns the cumulative DONE_COUNT total across all flushes.
func (b *Deleter) RowsAffected() uint64 { return b.rowsAffected }

func (b *Deleter) flushChunk(ctx context.Context, n int) error {
	chunk := b.rows[:n]
	sql, err := b.buildSQL(chunk)
	if err != nil {
		return err
	}
	affected, err := runBatch(ctx, b.conns, sql)
	if err != nil {
		return err
	}
	b.rowsAffected += affected
	b.rows = b.rows[n:]
	return nil
}

func (b *Deleter) buildSQL(chunk [][]any) (string, error) {
	tuples := make([]string, len(chunk))
	for i, rowID := range chunk {
		tuple, err := encodeRowLiterals(rowID)
		if err != nil {
			return "", err
		}
		tuples[i] = tuple
	}

	joinClauses := make([]string, len(b.pkCols))
	vColumnsList := make([]string, len(b.pkCols))
	for i, c := range b.pkCols {
		joinClauses[i] = fmt.Sprintf("t.[%s] = v.[%s]", c.Name, c.Name)
		vColumnsList[i] = fmt.Sprintf("[%s]", c.Name)
	}

	var sb strings.Builder
	sb.WriteString("DELETE t FROM ")
	sb.WriteString(b.table.qualifiedName())
	sb.WriteString(" AS t JOIN (VALUES ")
	sb.WriteString(strings.Join(tuples, ", "))
	sb.WriteString(") AS v (")
	sb.WriteString(strings.Join(vColumnsList, ", "))
	sb.WriteString(") ON ")
	sb.WriteString(strings.Join(joinClauses, " AND "))
	return sb.String(), nil
}
