package bcp

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hugr-lab/go-mssql-core/internal/metrics"
	"github.com/hugr-lab/go-mssql-core/internal/pool"
	"github.com/hugr-lab/go-mssql-core/internal/tds"
)

const (
	defaultFlushRows    = 10000
	defaultMaxBatchBytes = 4 << 20
)

// Options controls batching and locking for one bulk load (spec §6.4's
// bcp_flush_rows / bcp_tablock, plus the byte ceiling spec §4.9 requires).
type Options struct {
	FlushRows     int  // rows_in_batch threshold that triggers a flush
	MaxBatchBytes int  // byte ceiling that forces a flush even under FlushRows
	TABLock       bool // WITH (TABLOCK) hint on INSERT BULK
}

func (o Options) flushRows() int {
	if o.FlushRows > 0 {
		return o.FlushRows
	}
	return defaultFlushRows
}

func (o Options) maxBatchBytes() int {
	if o.MaxBatchBytes > 0 {
		return o.MaxBatchBytes
	}
	return defaultMaxBatchBytes
}

// RowSource feeds the writer one row of column values at a time, in Target
// column order. Next returns io.EOF once the input is exhausted.
type RowSource interface {
	Next(ctx context.Context) ([]any, error)
}

// ConnSource supplies the Connection a bulk load pins for its whole
// duration (spec §4.9: "a BCP writer holds a shared reference to its
// Connection for the whole bulk load"). *pool.Pool satisfies this for
// autocommit; dml.TransactionSource's counterpart wires the pinned
// transaction Connection when a bulk load runs inside one.
type ConnSource interface {
	Acquire(ctx context.Context) (*pool.PooledConn, error)
	Release(conn *pool.PooledConn)
	Discard(conn *pool.PooledConn)
}

// Writer drives one BULK_LOAD session end to end: INSERT BULK, COLMETADATA,
// a streamed run of ROW tokens chunked by Options, and the DONE-confirmed
// row count (spec §4.9).
type Writer struct {
	target Target
	opts   Options
	conns  ConnSource
}

func New(target Target, conns ConnSource, opts Options) *Writer {
	return &Writer{target: target, opts: opts, conns: conns}
}

// Run executes the bulk load and returns the total row count confirmed by
// the server's DONE tokens across all batches. Errors part-way through
// leave whatever rows the server already confirmed counted; the caller
// inspects the returned count alongside the error (spec §4.9, "Errors
// during a BCP batch flush are propagated; pre-error batches remain
// inserted").
func (w *Writer) Run(ctx context.Context, rows RowSource) (uint64, error) {
	colMeta := w.target.colMetadata()

	conn, err := w.conns.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("bcp: acquiring connection: %w", err)
	}
	// A connection that arrives already pinned (an explicit transaction's)
	// keeps its pin; only a connection pinned here is unpinned afterwards.
	alreadyPinned := conn.IsPinned()
	if !alreadyPinned {
		conn.Pin(pool.PinBulkLoad)
	}

	var confirmed uint64
	failed := false
	defer func() {
		if !alreadyPinned {
			conn.Unpin()
		}
		if failed {
			w.conns.Discard(conn)
		} else {
			w.conns.Release(conn)
		}
	}()

	mw, err := w.beginBatch(ctx, conn, colMeta)
	if err != nil {
		failed = true
		return 0, err
	}

	rowsInBatch := 0
	batchBytes := 0
	moreInput := true

	for moreInput {
		vals, err := rows.Next(ctx)
		if errors.Is(err, io.EOF) {
			moreInput = false
			break
		}
		if err != nil {
			w.abort(ctx, conn, mw)
			failed = true
			return confirmed, fmt.Errorf("bcp: reading input row: %w", err)
		}

		rowBytes, err := tds.BuildRow(colMeta, vals)
		if err != nil {
			w.abort(ctx, conn, mw)
			failed = true
			return confirmed, fmt.Errorf("bcp: encoding row: %w", err)
		}
		if _, err := mw.Write(rowBytes); err != nil {
			failed = true
			return confirmed, fmt.Errorf("bcp: writing row: %w", err)
		}
		rowsInBatch++
		batchBytes += len(rowBytes)

		if rowsInBatch >= w.opts.flushRows() || batchBytes >= w.opts.maxBatchBytes() {
			n, err := w.flushBatch(ctx, conn, mw, rowsInBatch)
			if err != nil {
				failed = true
				return confirmed, err
			}
			confirmed += n
			rowsInBatch, batchBytes = 0, 0

			// Peek whether there's more input before re-issuing INSERT
			// BULK (spec §4.9 step 5): a flush with nothing left to send
			// would otherwise leave a dangling re-issued batch.
			next, err := rows.Next(ctx)
			if errors.Is(err, io.EOF) {
				moreInput = false
				break
			}
			if err != nil {
				failed = true
				return confirmed, fmt.Errorf("bcp: reading input row: %w", err)
			}
			mw, err = w.beginBatch(ctx, conn, colMeta)
			if err != nil {
				failed = true
				return confirmed, err
			}
			rowBytes, err := tds.BuildRow(colMeta, next)
			if err != nil {
				w.abort(ctx, conn, mw)
				failed = true
				return confirmed, fmt.Errorf("bcp: encoding row: %w", err)
			}
			if _, err := mw.Write(rowBytes); err != nil {
				failed = true
				return confirmed, fmt.Errorf("bcp: writing row: %w", err)
			}
			rowsInBatch, batchBytes = 1, len(rowBytes)
		}
	}

	n, err := w.flushBatch(ctx, conn, mw, rowsInBatch)
	if err != nil {
		failed = true
		return confirmed, err
	}
	confirmed += n
	return confirmed, nil
}

// beginBatch issues INSERT BULK as a SQL_BATCH, waits for its success DONE,
// then opens a fresh BULK_LOAD message and writes COLMETADATA (spec §4.9
// steps 1-2, and step 5's re-issue between batches).
func (w *Writer) beginBatch(ctx context.Context, conn *pool.PooledConn, colMeta []tds.ColumnMeta) (*tds.MessageWriter, error) {
	sql, err := w.target.buildInsertBulk(w.opts)
	if err != nil {
		return nil, err
	}

	stream, err := conn.Conn().Execute(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("bcp: %s: %w", sql, err)
	}
	for stream.Next() {
	}
	conn.Conn().Release(stream)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("bcp: %s: %w", sql, err)
	}

	mw, err := conn.Conn().BulkLoadWriter(ctx)
	if err != nil {
		return nil, fmt.Errorf("bcp: opening bulk load message: %w", err)
	}
	if _, err := mw.Write(tds.BuildColMetadata(colMeta)); err != nil {
		return nil, fmt.Errorf("bcp: writing colmetadata: %w", err)
	}
	return mw, nil
}

// flushBatch closes out the current batch: a client DONE token announcing
// rowsInBatch, EOM on the BULK_LOAD message, then the server's confirming
// DONE (spec §4.9 step 4).
func (w *Writer) flushBatch(ctx context.Context, conn *pool.PooledConn, mw *tds.MessageWriter, rowsInBatch int) (uint64, error) {
	done := tds.BuildDoneToken(tds.DoneStatusCount, tds.CurCmdInsert, uint64(rowsInBatch))
	if _, err := mw.Write(done); err != nil {
		return 0, fmt.Errorf("bcp: writing done token: %w", err)
	}
	stream, err := conn.Conn().AwaitBulkLoadResponse(mw)
	if err != nil {
		return 0, fmt.Errorf("bcp: awaiting batch confirmation: %w", err)
	}
	for stream.Next() {
	}
	conn.Conn().Release(stream)
	if err := stream.Err(); err != nil {
		return 0, fmt.Errorf("bcp: batch failed: %w", err)
	}
	confirmed := stream.RowsAffected()
	metrics.BCPRowsWritten.WithLabelValues(conn.ContextName()).Add(float64(confirmed))
	return confirmed, nil
}

// abort ends the open BULK_LOAD message and sends ATTENTION when the input
// side fails mid-batch. It does not read the server's reply or wait for the
// attention acknowledgement: the connection is left in StateCancelling, and
// Run then discards it instead of returning it to Idle.
func (w *Writer) abort(ctx context.Context, conn *pool.PooledConn, mw *tds.MessageWriter) {
	_ = mw.Close()
	_ = conn.Conn().Cancel(ctx)
}
