package tds

import (
	"context"
	"io"
	"sync"

	gotdserrors "github.com/ha1tch/gotds/pkg/errors"
)

// Error token severities that change how the pipeline treats an
// in-flight request, per MS-TDS convention: severity >= 20 is
// unrecoverable for the whole connection, severity in [17,20) fails
// the current request outright, anything lower is recorded and returned
// as the request's error once its terminal DONE arrives.
const (
	severityRequestFatal    byte = 17
	severityConnectionFatal byte = 20
)

// Pipeline enforces the one-request-at-a-time invariant on a Conn: a
// caller's Execute blocks until any prior Execute on the same Conn has
// reached its terminal DONE. Waiting callers are serialized by a plain
// sync.Mutex, which does not hand the Conn to them in the order they
// called Execute.
type Pipeline struct {
	conn   *Conn
	mu     sync.Mutex
	broken error
}

// NewPipeline wraps conn with single-flight request serialization.
func NewPipeline(conn *Conn) *Pipeline {
	return &Pipeline{conn: conn}
}

// Broken reports whether a prior Execute poisoned the connection. A
// pool should Discard rather than Release a PooledConn whose Pipeline
// is broken.
func (p *Pipeline) Broken() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.broken != nil
}

// Execute sends a pre-encoded SQLBATCH/RPC/TRANSACTION MANAGER request
// body and drives the response into d until the request's terminal
// condition is reached, the context is cancelled, or a fatal error
// poisons the connection. Once poisoned, every subsequent Execute on
// this Pipeline fails immediately without touching the socket.
func (p *Pipeline) Execute(ctx context.Context, pktType PacketType, body []byte, d *Delegate) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.broken != nil {
		return p.broken
	}

	if err := p.conn.SendMessage(pktType, body); err != nil {
		p.broken = err
		return err
	}

	err := p.drive(ctx, d)
	if fatal, ok := err.(*connFatalError); ok {
		p.broken = fatal.cause
		return fatal.cause
	}
	return err
}

// connFatalError marks a drive() failure as poisoning the whole
// connection (TCP close, malformed framing, or a server error with
// severity >= 20), as opposed to a failure scoped to one request.
type connFatalError struct{ cause error }

func (e *connFatalError) Error() string { return e.cause.Error() }
func (e *connFatalError) Unwrap() error { return e.cause }

// drive reads response messages and dispatches their tokens to d until
// a terminal DONE is observed. It watches ctx between messages (and,
// best-effort, mid-message via the Conn's read-deadline support), and
// also watches ctx on every publish to a Streaming delegate — so a
// consumer that stops reading is detected the moment ctx is cancelled,
// not just between messages — and switches to the Attention
// cancellation path the moment it notices either.
//
// A DONEINPROC is delivered to the delegate like any other DONE but
// never itself ends the request: only a top-level DONE or DONEPROC
// (MORE clear) is terminal, matching how a stored procedure's nested
// statement completions are "delivered but not terminal".
func (p *Pipeline) drive(ctx context.Context, d *Delegate) error {
	var firstErr error

	for {
		select {
		case <-ctx.Done():
			return p.cancelAndDrain(d, ctx.Err())
		default:
		}

		data, err := p.conn.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return p.cancelAndDrain(d, ctx.Err())
			}
			d.finishStreaming(err)
			return &connFatalError{gotdserrors.Wrap(err, gotdserrors.ErrCodeConnectionFailed, "read response").Build()}
		}

		parser := NewParser(data)
		terminal := false
		abandoned := false

		for {
			tok, err := parser.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				perr := &connFatalError{gotdserrors.Wrap(err, gotdserrors.ErrCodeProtocolError, "parse response token stream").Build()}
				d.finishStreaming(perr)
				return perr
			}

			switch t := tok.(type) {
			case ColMetadataToken:
				if !d.onColMetadata(ctx, t.Columns) {
					abandoned = true
				}
			case RowToken:
				if !d.onRow(ctx, t.Values) {
					abandoned = true
				}
			case InfoToken:
				if !d.onInfo(ctx, t) {
					abandoned = true
				}
			case ErrorToken:
				if firstErr == nil {
					firstErr = serverError(t)
				}
				if t.Class >= severityConnectionFatal {
					fatal := &connFatalError{firstErr}
					d.finishStreaming(fatal)
					return fatal
				}
				if t.Class >= severityRequestFatal {
					d.finishStreaming(firstErr)
					return firstErr
				}
			case ReturnStatusToken:
				d.onReturnStatus(t)
			case ReturnValueToken:
				d.onReturnValue(t)
			case DoneToken:
				if !d.onDone(ctx, t) {
					abandoned = true
				}
				if t.Kind != TokenDoneInProc && t.Final() {
					terminal = true
				}
			case EnvChangeToken:
				// Routing only ever arrives during login; mid-request
				// ENVCHANGEs (database/collation/packet-size from a SET
				// or USE statement) just update session state.
				_ = p.conn.applyEnvChange(t)
			case OrderToken, FeatureExtAckToken, FedAuthInfoToken, SSPIToken:
				// side-channel tokens, nothing for the pipeline to do
			}

			if abandoned {
				break
			}
		}

		if abandoned {
			return p.cancelAndDrain(d, ctx.Err())
		}

		if terminal {
			if firstErr != nil {
				d.finishStreaming(firstErr)
				return firstErr
			}
			d.finishStreaming(nil)
			return nil
		}
	}
}

// cancelAndDrain sends ATTENTION and discards the response stream up
// to DONE-with-ATTN, returning a cancellation error. The connection
// stays usable for the next Execute once this returns nil-drain-error;
// a failure draining the attention confirmation instead poisons it,
// since the connection's read position can no longer be trusted.
// finishStreaming skips the notification send on its own (via
// d.abandoned) if a prior publish already discovered the consumer is
// gone, so cancelAndDrain itself never needs to block on it.
func (p *Pipeline) cancelAndDrain(d *Delegate, cause error) error {
	cancelErr := gotdserrors.Cancelled("request").Build()
	d.finishStreaming(cancelErr)

	if err := p.conn.SendAttention(); err != nil {
		return &connFatalError{err}
	}
	// Use a background context for the drain itself: the caller's
	// context is already done, but the drain must still run to
	// completion to leave the connection in a known-ready state.
	if err := DrainAttentionConfirmation(context.Background(), p.conn); err != nil {
		return &connFatalError{gotdserrors.Wrap(err, gotdserrors.ErrCodeConnectionFailed, "drain attention confirmation").Build()}
	}
	return cancelErr
}

// serverError converts a terminal ERROR token into a *gotdserrors.Error
// carrying the server's error number, class, state, and message.
func serverError(t ErrorToken) error {
	return gotdserrors.New(gotdserrors.ErrCodeServerError, t.Message).
		WithField("number", t.Number).
		WithField("class", t.Class).
		WithField("state", t.State).
		WithField("proc", t.ProcName).
		WithField("line", t.LineNumber).
		Build()
}
