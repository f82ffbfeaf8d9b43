// Package catalog exposes the host-engine-facing contract (spec §6.3): a
// Catalog is one attached SQL Server database — a pool, the DML batchers,
// the BCP writer, and the transaction binding — wired together behind
// attach/execute/scan/insert/update/delete/bulk_copy/begin/commit/rollback/
// stats. The host engine never touches internal/pool, internal/dml or
// internal/bcp directly; it only ever talks to a Catalog.
package catalog

import (
	"context"
	"fmt"

	"github.com/hugr-lab/go-mssql-core/internal/bcp"
	"github.com/hugr-lab/go-mssql-core/internal/config"
	"github.com/hugr-lab/go-mssql-core/internal/dml"
	"github.com/hugr-lab/go-mssql-core/internal/pool"
	"github.com/hugr-lab/go-mssql-core/internal/pool/coordinator"
	"github.com/hugr-lab/go-mssql-core/internal/resultstream"
	"github.com/hugr-lab/go-mssql-core/internal/tds"
	"github.com/hugr-lab/go-mssql-core/internal/txn"
)

// Target names a table this Catalog writes to: the same shape dml.TableRef
// and bcp.Target both need, so callers build it once.
type Target struct {
	Schema  string
	Table   string
	Columns []Column
}

// Column describes one column of a Target. Type is only required for
// BulkCopy; Insert/Update/Delete work purely off Name/IsPrimaryKey since
// they serialize values as T-SQL literal text, not wire-typed rows.
type Column struct {
	Name         string
	IsPrimaryKey bool
	Type         *tds.TypeInfo
	Nullable     bool
}

func (t Target) dmlTable() dml.TableRef {
	cols := make([]dml.Column, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = dml.Column{Name: c.Name, IsPrimaryKey: c.IsPrimaryKey}
	}
	return dml.TableRef{Schema: t.Schema, Table: t.Table, Columns: cols}
}

func (t Target) bcpTarget() bcp.Target {
	cols := make([]bcp.Column, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = bcp.Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
	}
	return bcp.Target{Schema: t.Schema, Table: t.Table, Columns: cols}
}

// Catalog is one attached SQL Server database.
type Catalog struct {
	name string
	pool *pool.Pool
	cfg  config.CatalogTarget
}

// attach builds the pool for one catalog target, eagerly validating
// connectivity with a SELECT 1 when encryption is enabled (spec §6.3:
// "build pool, validate connectivity with a SELECT 1 if encryption is
// on").
func attach(ctx context.Context, t config.CatalogTarget, coord *coordinator.RedisCoordinator) (*Catalog, error) {
	p, err := pool.New(ctx, pool.Config{
		ContextName:        t.Context,
		Host:               t.Host,
		Port:               t.Port,
		Database:           t.Database,
		AppName:            t.AppName,
		User:               t.User,
		Password:           t.Password,
		Encrypt:            encryptByte(t.Encrypt),
		TrustServerCert:    t.TrustServerCert,
		PacketSize:         t.PacketSize,
		MaxConnections:     t.MaxConnections,
		MinWarmConnections: t.MinWarmConnections,
		ConnectionTimeout:  t.ConnectionTimeout,
		IdleTimeout:        t.IdleTimeout,
		AcquireTimeout:     t.AcquireTimeout,
		Coordinator:        coord,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: attaching %s: %w", t.Context, err)
	}

	cat := &Catalog{name: t.Context, pool: p, cfg: t}

	if encryptByte(t.Encrypt) != tds.EncryptOff {
		if _, err := cat.Execute(ctx, "SELECT 1"); err != nil {
			p.Close()
			return nil, fmt.Errorf("catalog: SELECT 1 against %s: %w", t.Context, err)
		}
	}

	return cat, nil
}

func encryptByte(mode string) byte {
	switch mode {
	case "on":
		return tds.EncryptOn
	case "required":
		return tds.EncryptReq
	default:
		return tds.EncryptOff
	}
}

// Execute runs sqlText autocommit and returns the affected row count from
// its final DONE_COUNT (spec §6.3 execute).
func (c *Catalog) Execute(ctx context.Context, sqlText string) (uint64, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("catalog: acquiring connection: %w", err)
	}
	defer c.pool.Release(conn)

	stream, err := conn.Conn().Execute(ctx, sqlText)
	if err != nil {
		return 0, err
	}
	for stream.Next() {
	}
	conn.Conn().Release(stream)
	if err := stream.Err(); err != nil {
		return 0, err
	}
	return stream.RowsAffected(), nil
}

// Scan runs sqlText and returns a Stream over its one result set (spec
// §6.3 scan). The caller must drain Next to false (or Drain) and then
// Release, the same discipline connection.Conn.Execute documents.
func (c *Catalog) Scan(ctx context.Context, sqlText string) (*resultstream.Stream, *pool.PooledConn, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: acquiring connection: %w", err)
	}
	stream, err := conn.Conn().Execute(ctx, sqlText)
	if err != nil {
		c.pool.Release(conn)
		return nil, nil, err
	}
	return stream, conn, nil
}

// ReleaseScan returns a Connection borrowed by Scan. The caller calls this
// after fully draining the returned Stream.
func (c *Catalog) ReleaseScan(conn *pool.PooledConn, stream *resultstream.Stream) {
	conn.Conn().Release(stream)
	c.pool.Release(conn)
}

func (c *Catalog) connSource(tx *txn.Transaction) dml.ConnProvider {
	if tx != nil {
		return dml.TransactionSource{Txn: tx}
	}
	return c.pool
}

// Insert batches rows into table via a dml.Inserter, flushing incrementally
// (spec §6.3 insert / §4.8).
func (c *Catalog) Insert(ctx context.Context, target Target, rows [][]any, withOutput bool, tx *txn.Transaction) (uint64, error) {
	ins, err := dml.NewInserter(target.dmlTable(), c.connSource(tx), c.cfg.BatchSize, withOutput)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		if err := ins.Add(ctx, row); err != nil {
			return ins.RowsAffected(), err
		}
	}
	if err := ins.Finish(ctx); err != nil {
		return ins.RowsAffected(), err
	}
	return ins.RowsAffected(), nil
}

// Update batches row-identity/new-value pairs into table via a dml.Updater
// (spec §6.3 update / §4.8). rowIDs[i] and values[i] describe one row.
func (c *Catalog) Update(ctx context.Context, target Target, updateCols []Column, rowIDs [][]any, values [][]any, tx *txn.Transaction) (uint64, error) {
	cols := make([]dml.Column, len(updateCols))
	for i, c := range updateCols {
		cols[i] = dml.Column{Name: c.Name, IsPrimaryKey: c.IsPrimaryKey}
	}
	upd, err := dml.NewUpdater(target.dmlTable(), cols, c.connSource(tx), c.cfg.BatchSize, tx != nil)
	if err != nil {
		return 0, err
	}
	for i := range rowIDs {
		if err := upd.Add(ctx, rowIDs[i], values[i]); err != nil {
			return upd.RowsAffected(), err
		}
	}
	if err := upd.Finish(ctx); err != nil {
		return upd.RowsAffected(), err
	}
	return upd.RowsAffected(), nil
}

// Delete batches row identities into table via a dml.Deleter (spec §6.3
// delete / §4.8).
func (c *Catalog) Delete(ctx context.Context, target Target, rowIDs [][]any, tx *txn.Transaction) (uint64, error) {
	del, err := dml.NewDeleter(target.dmlTable(), c.connSource(tx), c.cfg.BatchSize, tx != nil)
	if err != nil {
		return 0, err
	}
	for _, rowID := range rowIDs {
		if err := del.Add(ctx, rowID); err != nil {
			return del.RowsAffected(), err
		}
	}
	if err := del.Finish(ctx); err != nil {
		return del.RowsAffected(), err
	}
	return del.RowsAffected(), nil
}

// BulkCopy streams rows into target through the BCP writer, returning the
// count confirmed by the server's DONE tokens (spec §6.3 bulk_copy /
// §4.9).
func (c *Catalog) BulkCopy(ctx context.Context, target Target, rows bcp.RowSource, tx *txn.Transaction) (uint64, error) {
	var conns bcp.ConnSource
	if tx != nil {
		conns = bcp.TransactionSource{Txn: tx}
	} else {
		conns = c.pool
	}
	w := bcp.New(target.bcpTarget(), conns, bcp.Options{
		FlushRows: c.cfg.BCPFlushRows,
		TABLock:   c.cfg.BCPTABLock,
	})
	return w.Run(ctx, rows)
}

// Begin starts a new transaction binding over this Catalog's pool (spec
// §6.3 begin). The returned Transaction pins a Connection lazily on its
// first use.
func (c *Catalog) Begin() *txn.Transaction { return txn.New(c.pool) }

// Stats returns a point-in-time snapshot of this Catalog's pool occupancy
// (spec §6.3 stats).
func (c *Catalog) Stats() pool.Stats { return c.pool.Stats() }

// Close shuts down this Catalog's pool.
func (c *Catalog) Close() error { return c.pool.Close() }

// Name returns the context name this Catalog was attached under.
func (c *Catalog) Name() string { return c.name }
