package tds

import (
	"context"
	"testing"
	"time"
)

func TestAggregatingDelegateCollectsResultSets(t *testing.T) {
	d := NewAggregatingDelegate()
	ctx := context.Background()
	cols := []Column{{Name: "id"}, {Name: "name"}}

	d.onColMetadata(ctx, cols)
	d.onRow(ctx, []interface{}{int64(1), "alice"})
	d.onRow(ctx, []interface{}{int64(2), "bob"})
	d.onDone(ctx, DoneToken{Status: DoneCount, RowCount: 2})

	d.onColMetadata(ctx, cols)
	d.onRow(ctx, []interface{}{int64(3), "carol"})
	d.onDone(ctx, DoneToken{Status: DoneCount, RowCount: 1})

	if len(d.ResultSets) != 2 {
		t.Fatalf("len(ResultSets) = %d; want 2", len(d.ResultSets))
	}
	if len(d.ResultSets[0].Rows) != 2 || len(d.ResultSets[1].Rows) != 1 {
		t.Fatalf("ResultSets row counts = %d, %d; want 2, 1", len(d.ResultSets[0].Rows), len(d.ResultSets[1].Rows))
	}
	if d.ResultSets[1].Rows[0].Values[1] != "carol" {
		t.Fatalf("second result set's row = %v; want carol in position 1", d.ResultSets[1].Rows[0].Values)
	}
}

// TestAggregatingDelegateSkipsDoneWithoutOpenResultSet covers a batch
// like "SET NOCOUNT OFF; SELECT 1 AS a; SELECT 2 AS b, 3 AS c;": the
// SET statement's DONE has no preceding COLMETADATA and must not
// produce an empty result set — a result set is defined by its
// COLMETADATA, not by statement completion.
func TestAggregatingDelegateSkipsDoneWithoutOpenResultSet(t *testing.T) {
	d := NewAggregatingDelegate()
	ctx := context.Background()

	d.onDone(ctx, DoneToken{Status: DoneMore}) // SET's DONE, no COLMETADATA preceded it

	cols := []Column{{Name: "a"}}
	d.onColMetadata(ctx, cols)
	d.onRow(ctx, []interface{}{int64(1)})
	d.onDone(ctx, DoneToken{Status: DoneMore | DoneCount, RowCount: 1})

	cols2 := []Column{{Name: "b"}, {Name: "c"}}
	d.onColMetadata(ctx, cols2)
	d.onRow(ctx, []interface{}{int64(2), int64(3)})
	d.onDone(ctx, DoneToken{Status: DoneCount, RowCount: 1})

	if len(d.ResultSets) != 2 {
		t.Fatalf("len(ResultSets) = %d; want 2 (the rowless SET statement must not add one)", len(d.ResultSets))
	}
	if len(d.ResultSets[0].Rows) != 1 || d.ResultSets[0].Rows[0].Values[0] != int64(1) {
		t.Fatalf("ResultSets[0] = %+v; want the first SELECT's single row", d.ResultSets[0])
	}
	if len(d.ResultSets[1].Rows) != 1 || d.ResultSets[1].Rows[0].Values[0] != int64(2) {
		t.Fatalf("ResultSets[1] = %+v; want the second SELECT's single row", d.ResultSets[1])
	}
}

func TestScalarDelegateKeepsOnlyFirstValue(t *testing.T) {
	d := NewScalarDelegate()
	ctx := context.Background()
	cols := []Column{{Name: "n"}}

	d.onColMetadata(ctx, cols)
	d.onRow(ctx, []interface{}{int64(42)})
	d.onRow(ctx, []interface{}{int64(99)}) // must be ignored
	d.onDone(ctx, DoneToken{Status: DoneCount, RowCount: 2})

	if !d.ScalarFound {
		t.Fatal("ScalarFound = false; want true")
	}
	if d.ScalarValue != int64(42) {
		t.Fatalf("ScalarValue = %v; want 42", d.ScalarValue)
	}
}

func TestScalarDelegateNotFoundOnEmptyResultSet(t *testing.T) {
	d := NewScalarDelegate()
	ctx := context.Background()
	d.onColMetadata(ctx, []Column{{Name: "n"}})
	d.onDone(ctx, DoneToken{Status: DoneCount, RowCount: 0})

	if d.ScalarFound {
		t.Fatal("ScalarFound = true; want false for an empty result set")
	}
}

func TestExecuteDelegateSumsRowCountsAcrossDones(t *testing.T) {
	d := NewExecuteDelegate()
	ctx := context.Background()
	d.onDone(ctx, DoneToken{Status: DoneCount, RowCount: 5})
	d.onDone(ctx, DoneToken{Status: DoneCount, RowCount: 2})
	d.onDone(ctx, DoneToken{Status: 0, RowCount: 100}) // no DoneCount flag: ignored

	if d.RowsAffected != 7 {
		t.Fatalf("RowsAffected = %d; want 7", d.RowsAffected)
	}
}

func TestStreamingDelegatePublishesEventsInOrder(t *testing.T) {
	d := NewStreamingDelegate(8)
	ctx := context.Background()
	cols := []Column{{Name: "id"}}

	d.onColMetadata(ctx, cols)
	d.onRow(ctx, []interface{}{int64(1)})
	d.onInfo(ctx, InfoToken{Message: "hello"})
	d.onDone(ctx, DoneToken{Status: DoneCount, RowCount: 1})
	d.finishStreaming(nil)

	var events []StreamEvent
	for ev := range d.Events {
		events = append(events, ev)
	}

	if len(events) != 4 {
		t.Fatalf("len(events) = %d; want 4 (columns, row, info, done)", len(events))
	}
	if events[0].Columns == nil {
		t.Fatal("events[0] should carry Columns")
	}
	if events[1].Row == nil || events[1].Row.Values[0] != int64(1) {
		t.Fatalf("events[1].Row = %+v; want row with value 1", events[1].Row)
	}
	if events[2].Info == nil || events[2].Info.Message != "hello" {
		t.Fatalf("events[2].Info = %+v; want message hello", events[2].Info)
	}
	if events[3].Done == nil {
		t.Fatal("events[3] should carry Done")
	}
}

func TestStreamingDelegateFinishWithErrorPublishesErrEvent(t *testing.T) {
	d := NewStreamingDelegate(4)
	ctx := context.Background()
	d.onColMetadata(ctx, []Column{{Name: "id"}})
	wantErr := errTestSentinel{}
	d.finishStreaming(wantErr)

	var gotErr error
	var count int
	for ev := range d.Events {
		count++
		if ev.Err != nil {
			gotErr = ev.Err
		}
	}
	if count != 2 {
		t.Fatalf("len(events) = %d; want 2 (columns, err)", count)
	}
	if gotErr != wantErr {
		t.Fatalf("Err event = %v; want %v", gotErr, wantErr)
	}
}

// TestStreamingDelegatePublishAbandonsOnContextDone covers a consumer
// that stops reading Events entirely: once the channel buffer fills and
// ctx is cancelled, publish must give up rather than block forever, and
// finishStreaming must not then also try (and block on) a final send.
func TestStreamingDelegatePublishAbandonsOnContextDone(t *testing.T) {
	d := NewStreamingDelegate(1)
	ctx, cancel := context.WithCancel(context.Background())

	// Fill the one-slot buffer so the next publish would otherwise block.
	if ok := d.onColMetadata(ctx, []Column{{Name: "id"}}); !ok {
		t.Fatal("first publish into an empty buffer should succeed")
	}

	cancel()

	done := make(chan bool, 1)
	go func() {
		done <- d.onRow(ctx, []interface{}{int64(1)})
	}()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("onRow() = true; want false once ctx is cancelled and the buffer is full")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onRow() blocked instead of observing ctx cancellation")
	}

	if !d.abandoned {
		t.Fatal("abandoned = false; want true after a publish observes ctx.Done()")
	}

	// finishStreaming must not block trying to deliver a final error to
	// a consumer that has already been marked abandoned.
	finished := make(chan struct{})
	go func() {
		d.finishStreaming(errTestSentinel{})
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("finishStreaming() blocked after the stream was abandoned")
	}
}

type errTestSentinel struct{}

func (errTestSentinel) Error() string { return "sentinel" }

func TestReturnStatusAndOutputsRecorded(t *testing.T) {
	d := NewAggregatingDelegate()
	d.onReturnStatus(ReturnStatusToken{Value: 0})
	if d.ReturnStatus == nil || *d.ReturnStatus != 0 {
		t.Fatalf("ReturnStatus = %v; want pointer to 0", d.ReturnStatus)
	}
}
