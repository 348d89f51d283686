package tds

import "context"

// DelegateKind tags the four shapes of request a pipeline can drive.
// The pipeline dispatches on Kind directly rather than through an open
// interface: every kind is driven by the same token loop, they differ
// only in what they keep and when they consider themselves satisfied.
type DelegateKind int

const (
	KindAggregating DelegateKind = iota
	KindStreaming
	KindScalar
	KindExecute
)

// StreamEvent is one item published to a Streaming delegate's channel.
// Exactly one of Columns/Row/Done/Info/Err is set per event.
type StreamEvent struct {
	Columns []Column
	Row     *Row
	Done    *DoneToken
	Info    *InfoToken
	Err     error
}

// Delegate consumes the token stream of one in-flight request. It is a
// tagged union, not a polymorphic interface: Kind says which fields
// are meaningful, and Pipeline.drive populates them as tokens arrive.
type Delegate struct {
	Kind DelegateKind

	// Aggregating
	ResultSets []AggregatedResultSet

	// Streaming: Events is read by the caller, closed when the request
	// reaches its terminal DONE or the pipeline cancels it. The channel's
	// capacity (NewStreamingDelegate's bufSize) bounds how many events may
	// be buffered before a publish blocks,
	// the closest approximation of "pause reading the socket" available
	// given that one readMessage call already returns a full logical
	// message's worth of tokens.
	Events chan StreamEvent

	// Scalar
	ScalarValue interface{}
	ScalarFound bool

	// Execute
	RowsAffected int64

	// Shared across all kinds.
	Messages     []InfoToken
	ReturnStatus *int32
	Outputs      *OutputParams

	curColumns []Column
	curIndex   map[string]int
	curRows    []Row

	// abandoned is set once publish observes ctx.Done() instead of a
	// successful send: the consumer has stopped reading Events, so
	// finishStreaming must not attempt a further blocking send that
	// would never complete.
	abandoned bool
}

// AggregatedResultSet is one SELECT's worth of rows under an
// Aggregating delegate: its column shape plus every row, and the DONE
// that closed it (row count, MORE bit).
type AggregatedResultSet struct {
	Columns []Column
	Rows    []Row
	Done    DoneToken
}

// NewAggregatingDelegate collects every result set's rows into memory,
// resolving once the request's terminal DONE arrives.
func NewAggregatingDelegate() *Delegate {
	return &Delegate{Kind: KindAggregating, Outputs: NewOutputParams()}
}

// NewStreamingDelegate publishes one StreamEvent per token of interest
// to a channel of the given buffer size, so a caller can consume rows
// incrementally instead of waiting for the whole response to land.
func NewStreamingDelegate(bufSize int) *Delegate {
	if bufSize < 1 {
		bufSize = 1
	}
	return &Delegate{Kind: KindStreaming, Events: make(chan StreamEvent, bufSize), Outputs: NewOutputParams()}
}

// NewScalarDelegate reads the first column of the first row in the
// response, whichever result set carries it: an empty first result set
// does not stop a later set's first row from being taken. Every other
// row is discarded, but the pipeline still drains the stream to its
// terminal DONE first.
func NewScalarDelegate() *Delegate {
	return &Delegate{Kind: KindScalar, Outputs: NewOutputParams()}
}

// NewExecuteDelegate discards rows and sums DONE row counts where the
// COUNT flag is set, the shape of a plain INSERT/UPDATE/DELETE/DDL
// call that returns no result set.
func NewExecuteDelegate() *Delegate {
	return &Delegate{Kind: KindExecute, Outputs: NewOutputParams()}
}

// onColMetadata records the upcoming result set's column shape. Returns
// false if a Streaming delegate's consumer has abandoned the stream
// (ctx done while publishing), telling the caller to stop driving this
// request and fall back to the Attention/drain path.
func (d *Delegate) onColMetadata(ctx context.Context, cols []Column) bool {
	d.curColumns = cols
	d.curIndex = buildColumnIndex(cols)
	d.curRows = nil
	if d.Kind == KindStreaming {
		return d.publish(ctx, StreamEvent{Columns: cols})
	}
	return true
}

// onRow records one decoded row against the current result set's
// column shape.
func (d *Delegate) onRow(ctx context.Context, values []interface{}) bool {
	row := &Row{Columns: d.curColumns, Values: values, index: d.curIndex}

	switch d.Kind {
	case KindAggregating:
		d.curRows = append(d.curRows, *row)
	case KindStreaming:
		return d.publish(ctx, StreamEvent{Row: row})
	case KindScalar:
		if !d.ScalarFound && len(values) > 0 {
			d.ScalarValue = values[0]
			d.ScalarFound = true
		}
	case KindExecute:
		// rows are not materialized for an Execute delegate
	}
	return true
}

// onDone closes out the current result set (Aggregating) or forwards
// the DONE as an event (Streaming), and folds row counts into
// RowsAffected for an Execute delegate. A DONE/DONEPROC/DONEINPROC that
// closes a statement with no result set open (no COLMETADATA seen since
// the last DONE — a SET, DECLARE, INSERT, or other rowless statement)
// contributes only its row count, never an empty AggregatedResultSet:
// a result set is defined by its COLMETADATA, not by statement
// completion.
func (d *Delegate) onDone(ctx context.Context, t DoneToken) bool {
	if t.HasCount() {
		d.RowsAffected += int64(t.RowCount)
	}

	switch d.Kind {
	case KindAggregating:
		if d.curColumns != nil {
			d.ResultSets = append(d.ResultSets, AggregatedResultSet{
				Columns: d.curColumns,
				Rows:    d.curRows,
				Done:    t,
			})
			d.curColumns, d.curRows = nil, nil
		}
	case KindStreaming:
		done := t
		return d.publish(ctx, StreamEvent{Done: &done})
	}
	return true
}

// onInfo records a non-fatal INFO token as a side-channel message.
func (d *Delegate) onInfo(ctx context.Context, t InfoToken) bool {
	d.Messages = append(d.Messages, t)
	if d.Kind == KindStreaming {
		info := t
		return d.publish(ctx, StreamEvent{Info: &info})
	}
	return true
}

// onReturnStatus records a stored procedure's RETURN value.
func (d *Delegate) onReturnStatus(t ReturnStatusToken) {
	v := t.Value
	d.ReturnStatus = &v
}

// onReturnValue records one RPC output parameter or RETURN value.
func (d *Delegate) onReturnValue(t ReturnValueToken) {
	d.Outputs.Add(t)
}

// publish sends ev to the streaming channel, blocking until the
// consumer has room or ctx is done. A consumer that stops reading (the
// channel stays full) no longer wedges the driving goroutine forever:
// once ctx is cancelled, publish gives up and reports the stream
// abandoned so the pipeline can switch to the Attention/drain path
// instead of blocking on a send nobody will ever receive.
func (d *Delegate) publish(ctx context.Context, ev StreamEvent) bool {
	if d.Events == nil {
		return true
	}
	select {
	case d.Events <- ev:
		return true
	case <-ctx.Done():
		d.abandoned = true
		return false
	}
}

// finishStreaming closes the Events channel, signalling end of stream
// to a Streaming delegate's consumer. Safe to call on any delegate
// kind; a no-op unless Events is set. Skips the final error send if the
// stream was already abandoned (see publish) — that consumer is gone
// and a blocking send here would never return.
func (d *Delegate) finishStreaming(err error) {
	if d.Events == nil {
		return
	}
	if err != nil && !d.abandoned {
		d.Events <- StreamEvent{Err: err}
	}
	close(d.Events)
}
