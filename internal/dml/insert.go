package dml

import (
	"context"
	"fmt"
	"strings"
)

// Inserter batches rows into multi-VALUES INSERT statements (spec §4.8).
// It flushes incrementally as rows accumulate — an INSERT never reads a
// result set of its own concurrently with the Connection, so there is no
// interleaving hazard requiring the UPDATE/DELETE defer-to-finalise rule.
type Inserter struct {
	table        TableRef
	conns        ConnProvider
	batchSize    int
	withOutput   bool
	rows         [][]any
	rowsAffected uint64
}

// NewInserter builds an Inserter targeting table. withOutput appends
// `OUTPUT INSERTED.*` to every flushed statement (spec §4.8 rule 3).
func NewInserter(table TableRef, conns ConnProvider, configuredBatchSize int, withOutput bool) (*Inserter, error) {
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("dml: insert into %s: no columns", table.qualifiedName())
	}
	return &Inserter{
		table:      table,
		conns:      conns,
		batchSize:  effectiveBatchSize(configuredBatchSize, len(table.Columns)),
		withOutput: withOutput,
	}, nil
}

// Add appends one row's values (in table.Columns order) and flushes if the
// batch has reached its effective size.
func (b *Inserter) Add(ctx context.Context, values []any) error {
	if len(values) != len(b.table.Columns) {
		return fmt.Errorf("dml: insert row has %d values, table has %d columns", len(values), len(b.table.Columns))
	}
	b.rows = append(b.rows, values)
	if len(b.rows) >= b.batchSize {
		return b.flush(ctx)
	}
	return nil
}

// Finish flushes any remaining buffered rows.
func (b *Inserter) Finish(ctx context.Context) error {
	if len(b.rows) == 0 {
		return nil
	}
	return b.flush(ctx)
}

// RowsAffected returns the cumulative DONE_COUNT total across all flushes.
func (b *Inserter) RowsAffected() uint64 { return b.rowsAffected }

func (b *Inserter) flush(ctx context.Context) error {
	sql, err := b.buildSQL()
	if err != nil {
		return err
	}
	n, err := runBatch(ctx, b.conns, sql)
	if err != nil {
		return err
	}
	b.rowsAffected += n
	b.rows = b.rows[:0]
	return nil
}

func (b *Inserter) buildSQL() (string, error) {
	tuples := make([]string, len(b.rows))
	for i, row := range b.rows {
		tuple, err := encodeRowLiterals(row)
		if err != nil {
			return "", err
		}
		tuples[i] = tuple
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.table.qualifiedName())
	sb.WriteString(" (")
	sb.WriteString(joinColumnNames(b.table.Columns))
	sb.WriteString(")")
	if b.withOutput {
		sb.WriteString(" OUTPUT INSERTED.*")
	}
	sb.WriteString(" VALUES ")
	sb.WriteString(strings.Join(tuples, ", "))
	return sb.String(), nil
}
