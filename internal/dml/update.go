package dml

import (
	"context"
	"fmt"
	"strings"
)

// rowUpdate pairs a row identity (one value per primary-key column, in
// key-ordinal order) with the new values for the columns being updated.
type rowUpdate struct {
	rowID  []any
	values []any
}

// Updater batches rows into FROM-JOIN UPDATE statements keyed by row
// identity (spec §4.8). Tables without a primary key, or updates that
// touch a primary-key column, are rejected at construction — before any
// batch is sent, per spec §4.8 rules.
type Updater struct {
	table       TableRef
	updateCols  []Column
	pkCols      []Column
	conns       ConnProvider
	batchSize   int
	deferFlush  bool
	rows        []rowUpdate
	rowsAffected uint64
}

// NewUpdater builds an Updater for table, writing updateCols. deferFlush
// must be true when this batcher runs inside an explicit transaction on a
// pinned Connection (spec §4.8: "to avoid interleaving with a concurrent
// result stream on the same Connection, UPDATE and DELETE defer all
// flushes until the input side has been fully consumed").
func NewUpdater(table TableRef, updateCols []Column, conns ConnProvider, configuredBatchSize int, deferFlush bool) (*Updater, error) {
	pk := table.primaryKeyColumns()
	if len(pk) == 0 {
		return nil, fmt.Errorf("dml: update on %s: table has no primary key", table.qualifiedName())
	}
	for _, uc := range updateCols {
		if uc.IsPrimaryKey {
			return nil, fmt.Errorf("dml: update on %s: cannot update primary-key column %q", table.qualifiedName(), uc.Name)
		}
	}
	return &Updater{
		table:      table,
		updateCols: updateCols,
		pkCols:     pk,
		conns:      conns,
		batchSize:  effectiveBatchSize(configuredBatchSize, len(pk)+len(updateCols)),
		deferFlush: deferFlush,
	}, nil
}

// Add appends one row's identity and new values. rowID must carry one
// value per primary-key column in key-ordinal order; values must carry one
// per updateCols entry in the same order.
func (b *Updater) Add(ctx context.Context, rowID []any, values []any) error {
	if len(rowID) != len(b.pkCols) {
		return fmt.Errorf("dml: update row id has %d values, table has %d primary-key columns", len(rowID), len(b.pkCols))
	}
	if len(values) != len(b.updateCols) {
		return fmt.Errorf("dml: update row has %d values, %d columns being updated", len(values), len(b.updateCols))
	}
	b.rows = append(b.rows, rowUpdate{rowID: rowID, values: values})
	if !b.deferFlush && len(b.rows) >= b.batchSize {
		return b.flushChunk(ctx, b.batchSize)
	}
	return nil
}

// Finish flushes every remaining buffered row, chunked to the effective
// batch size (spec §4.8: "flush batches in finalise").
func (b *Updater) Finish(ctx context.Context) error {
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
func (b *Updater) RowsAffected() uint64 { return b.rowsAffected }

func (b *Updater) flushChunk(ctx context.Context, n int) error {
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

func (b *Updater) buildSQL(chunk []rowUpdate) (string, error) {
	tuples := make([]string, len(chunk))
	for i, row := range chunk {
		values := make([]any, 0, len(row.rowID)+len(row.values))
		values = append(values, row.rowID...)
		values = append(values, row.values...)
		tuple, err := encodeRowLiterals(values)
		if err != nil {
			return "", err
		}
		tuples[i] = tuple
	}

	setClauses := make([]string, len(b.updateCols))
	for i, c := range b.updateCols {
		setClauses[i] = fmt.Sprintf("t.[%s] = v.[%s]", c.Name, c.Name)
	}

	joinClauses := make([]string, len(b.pkCols))
	for i, c := range b.pkCols {
		joinClauses[i] = fmt.Sprintf("t.[%s] = v.[%s]", c.Name, c.Name)
	}

	vColumns := make([]string, 0, len(b.pkCols)+len(b.updateCols))
	for _, c := range b.pkCols {
		vColumns = append(vColumns, c.Name)
	}
	for _, c := range b.updateCols {
		vColumns = append(vColumns, c.Name)
	}
	vColumnsList := make([]string, len(vColumns))
	for i, n := range vColumns {
		vColumnsList[i] = fmt.Sprintf("[%s]", n)
	}

	var sb strings.Builder
	sb.WriteString("UPDATE t SET ")
	sb.WriteString(strings.Join(setClauses, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(b.table.qualifiedName())
	sb.WriteString(" AS t JOIN (VALUES ")
	sb.WriteString(strings.Join(tuples, ", "))
	sb.WriteString(") AS v (")
	sb.WriteString(strings.Join(vColumnsList, ", "))
	sb.WriteString(") ON ")
	sb.WriteString(strings.Join(joinClauses, " AND "))
	return sb.String(), nil
}
