// Package client provides the high-level, pooled operations a caller
// actually wants: query, execute, scalar queries, streaming result
// sets, leased-connection closures, and explicit transactions. It sits
// on top of tds and pool the way aul's pkg/server sits on top of
// procedure/runtime/storage: orchestration, not wire-level work.
package client

import (
	"context"
	"fmt"
	"strings"

	gotdserrors "github.com/ha1tch/gotds/pkg/errors"
	"github.com/ha1tch/gotds/pkg/log"
	"github.com/ha1tch/gotds/pool"
	"github.com/ha1tch/gotds/tds"
)

// Client is the pooled, high-level facade over one TDS endpoint.
type Client struct {
	pool *pool.Pool
	log  *log.Logger
}

// New wraps an already-configured Pool as a Client.
func New(p *pool.Pool, logger *log.Logger) *Client {
	return &Client{pool: p, log: logger}
}

// Pool returns the underlying connection pool, for callers that need
// Stats/Close directly.
func (c *Client) Pool() *pool.Pool { return c.pool }

// Close shuts down the underlying pool.
func (c *Client) Close() { c.pool.Close() }

// QueryResult is the materialized outcome of Query or CallProcedure:
// every result set the batch produced, any INFO messages, and (for an
// RPC call) the procedure's RETURN value and output parameters.
type QueryResult struct {
	ResultSets   []tds.AggregatedResultSet
	Messages     []tds.InfoToken
	ReturnStatus *int32
	Outputs      *tds.OutputParams
}

// Rows returns the first result set's rows, or nil if the batch
// produced none. Convenience for the common single-SELECT case.
func (r *QueryResult) Rows() []tds.Row {
	if len(r.ResultSets) == 0 {
		return nil
	}
	return r.ResultSets[0].Rows
}

// release returns pc to the pool, discarding instead of releasing if
// its pipeline poisoned the connection.
func (c *Client) release(pc *pool.PooledConn) {
	if pc.Pipeline().Broken() {
		c.pool.Discard(pc)
	} else {
		c.pool.Release(pc)
	}
}

// Query runs sql as a SQLBATCH and aggregates every result set into
// memory, resolving once the batch's terminal DONE arrives.
func (c *Client) Query(ctx context.Context, sql string) (*QueryResult, error) {
	pc, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.release(pc)

	return runAggregating(ctx, pc, tds.PacketSQLBatch, tds.EncodeSQLBatch(pc.TransactionDescriptor(), sql))
}

// Execute runs sql as a SQLBATCH, discarding any rows, and returns the
// sum of the row counts of the DONE tokens that have the COUNT flag set
// — the INSERT/UPDATE/DELETE/DDL shape.
func (c *Client) Execute(ctx context.Context, sql string) (int64, error) {
	pc, err := c.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer c.release(pc)

	d := tds.NewExecuteDelegate()
	body := tds.EncodeSQLBatch(pc.TransactionDescriptor(), sql)
	if err := pc.Pipeline().Execute(ctx, tds.PacketSQLBatch, body, d); err != nil {
		return 0, err
	}
	return d.RowsAffected, nil
}

// QueryScalar runs sql and returns the first column of the first row
// in the response, whichever result set carries it (an empty first
// result set does not stop a later set's row from being used), or
// found == false if the batch produced no rows at all.
func (c *Client) QueryScalar(ctx context.Context, sql string) (value interface{}, found bool, err error) {
	pc, perr := c.pool.Acquire(ctx)
	if perr != nil {
		return nil, false, perr
	}
	defer c.release(pc)

	d := tds.NewScalarDelegate()
	body := tds.EncodeSQLBatch(pc.TransactionDescriptor(), sql)
	if err := pc.Pipeline().Execute(ctx, tds.PacketSQLBatch, body, d); err != nil {
		return nil, false, err
	}
	return d.ScalarValue, d.ScalarFound, nil
}

// StreamQuery runs sql and returns a channel of StreamEvent, lazily
// populated as tokens arrive. The leased connection is held for the
// lifetime of the request and released (or discarded, if the pipeline
// poisoned it) once the driving goroutine's Execute call returns.
// Cancelling ctx is enough to reclaim the connection even if the caller
// stops reading Events altogether: the pipeline detects the cancellation
// the moment it next tries to publish to the (now stalled) channel,
// abandons the request, and runs it through the Attention/drain
// sequence before releasing the connection back to the pool.
func (c *Client) StreamQuery(ctx context.Context, sql string) (<-chan tds.StreamEvent, error) {
	pc, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	d := tds.NewStreamingDelegate(16)
	body := tds.EncodeSQLBatch(pc.TransactionDescriptor(), sql)

	go func() {
		pc.Pipeline().Execute(ctx, tds.PacketSQLBatch, body, d)
		c.release(pc)
	}()

	return d.Events, nil
}

// WithConnection leases a connection for the duration of op, releasing
// it (or discarding it, if op's work poisoned the pipeline) once op
// returns. Use this for a sequence of statements that must share one
// connection's session state — a temp table, SET options, or a
// transaction built from the lower-level Tx type.
func WithConnection[T any](ctx context.Context, c *Client, op func(pc *pool.PooledConn) (T, error)) (T, error) {
	var zero T

	pc, err := c.pool.Acquire(ctx)
	if err != nil {
		return zero, err
	}
	defer c.release(pc)

	return op(pc)
}

// ChangeDatabase issues USE on a leased connection and checks that the
// connection's database name changed, comparing pc.Database() before
// and after the batch rather than looking for the ENVCHANGE itself. A
// USE naming the database already in use therefore returns an error
// even though the server accepted it. A USE against a nonexistent
// database fails with an ERROR token, which Pipeline.Execute surfaces.
func ChangeDatabase(ctx context.Context, pc *pool.PooledConn, name string) error {
	before := pc.Database()

	d := tds.NewExecuteDelegate()
	body := tds.EncodeSQLBatch(pc.TransactionDescriptor(), "USE "+quoteIdent(name))
	if err := pc.Pipeline().Execute(ctx, tds.PacketSQLBatch, body, d); err != nil {
		return err
	}

	if pc.Database() == before {
		return gotdserrors.New(gotdserrors.ErrCodeProtocolError, "USE did not report a database ENVCHANGE").
			WithField("database", name).Build()
	}
	return nil
}

// CallProcedure invokes a stored procedure by name via RPC_REQUEST,
// binding any sqlexp.Out-valued params' destinations from the
// server's RETURNVALUE tokens before returning.
func (c *Client) CallProcedure(ctx context.Context, procName string, params []tds.Param) (*QueryResult, error) {
	pc, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.release(pc)

	body := tds.EncodeRPCByName(pc.TransactionDescriptor(), procName, 0, params)
	res, err := runAggregating(ctx, pc, tds.PacketRPCRequest, body)
	if err != nil {
		return nil, err
	}
	if err := res.Outputs.Bind(params); err != nil {
		return res, err
	}
	return res, nil
}

// runAggregating drives one request to completion against an already
// leased pc, returning the aggregated result.
func runAggregating(ctx context.Context, pc *pool.PooledConn, pktType tds.PacketType, body []byte) (*QueryResult, error) {
	d := tds.NewAggregatingDelegate()
	if err := pc.Pipeline().Execute(ctx, pktType, body, d); err != nil {
		return nil, err
	}
	return &QueryResult{
		ResultSets:   d.ResultSets,
		Messages:     d.Messages,
		ReturnStatus: d.ReturnStatus,
		Outputs:      d.Outputs,
	}, nil
}

// quoteIdent brackets a SQL Server identifier, doubling any embedded
// ']' the way T-SQL requires. USE doesn't accept parameters, so the
// database-switch path has to build its own safe identifier text
// rather than sending a bound parameter.
func quoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// Tx is an explicit transaction leased from the pool. Every statement
// run through it shares the lease's connection, and therefore its
// transaction descriptor, which the connection's ENVCHANGE handling
// keeps current as BEGIN/COMMIT/ROLLBACK responses arrive.
type Tx struct {
	client *Client
	pc     *pool.PooledConn
	done   bool
}

// Begin leases a connection and starts a transaction at the given
// isolation level.
func (c *Client) Begin(ctx context.Context, isolation tds.IsolationLevel) (*Tx, error) {
	pc, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	d := tds.NewExecuteDelegate()
	body := tds.EncodeTransactionRequest(pc.TransactionDescriptor(), tds.TransactionRequest{
		Type:           tds.TxnBegin,
		IsolationLevel: isolation,
	})
	if err := pc.Pipeline().Execute(ctx, tds.PacketTransMgrReq, body, d); err != nil {
		c.release(pc)
		return nil, err
	}
	if pc.TransactionDescriptor() == 0 {
		c.release(pc)
		return nil, gotdserrors.New(gotdserrors.ErrCodeProtocolError,
			"BEGIN TRANSACTION did not return a transaction descriptor").Build()
	}

	return &Tx{client: c, pc: pc}, nil
}

// Query runs sql inside the transaction's connection.
func (tx *Tx) Query(ctx context.Context, sql string) (*QueryResult, error) {
	return runAggregating(ctx, tx.pc, tds.PacketSQLBatch, tds.EncodeSQLBatch(tx.pc.TransactionDescriptor(), sql))
}

// Execute runs sql inside the transaction's connection, returning the
// affected row count.
func (tx *Tx) Execute(ctx context.Context, sql string) (int64, error) {
	d := tds.NewExecuteDelegate()
	body := tds.EncodeSQLBatch(tx.pc.TransactionDescriptor(), sql)
	if err := tx.pc.Pipeline().Execute(ctx, tds.PacketSQLBatch, body, d); err != nil {
		return 0, err
	}
	return d.RowsAffected, nil
}

// Savepoint marks a named savepoint inside the transaction.
func (tx *Tx) Savepoint(ctx context.Context, name string) error {
	d := tds.NewExecuteDelegate()
	body := tds.EncodeTransactionRequest(tx.pc.TransactionDescriptor(), tds.TransactionRequest{
		Type:          tds.TxnSavepoint,
		SavepointName: name,
	})
	return tx.pc.Pipeline().Execute(ctx, tds.PacketTransMgrReq, body, d)
}

// RollbackToSavepoint rolls the transaction back to a previously
// marked savepoint without ending it.
func (tx *Tx) RollbackToSavepoint(ctx context.Context, name string) error {
	d := tds.NewExecuteDelegate()
	body := tds.EncodeTransactionRequest(tx.pc.TransactionDescriptor(), tds.TransactionRequest{
		Type:          tds.TxnRollback,
		SavepointName: name,
	})
	return tx.pc.Pipeline().Execute(ctx, tds.PacketTransMgrReq, body, d)
}

// Commit commits the transaction and returns the connection to the
// pool. Calling Commit or Rollback a second time is a programming
// error and returns an error rather than touching the socket again.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return fmt.Errorf("client: transaction already resolved")
	}
	tx.done = true
	defer tx.client.release(tx.pc)

	d := tds.NewExecuteDelegate()
	body := tds.EncodeTransactionRequest(tx.pc.TransactionDescriptor(), tds.TransactionRequest{Type: tds.TxnCommit})
	return tx.pc.Pipeline().Execute(ctx, tds.PacketTransMgrReq, body, d)
}

// Rollback rolls the whole transaction back and returns the connection
// to the pool.
func (tx *Tx) Rollback(ctx context.Context) error {
	if tx.done {
		return fmt.Errorf("client: transaction already resolved")
	}
	tx.done = true
	defer tx.client.release(tx.pc)

	d := tds.NewExecuteDelegate()
	body := tds.EncodeTransactionRequest(tx.pc.TransactionDescriptor(), tds.TransactionRequest{Type: tds.TxnRollback})
	return tx.pc.Pipeline().Execute(ctx, tds.PacketTransMgrReq, body, d)
}
