package client

import (
	"context"
	"testing"

	"github.com/ha1tch/gotds/tds"
)

func TestQuoteIdentDoublesEmbeddedBrackets(t *testing.T) {
	cases := map[string]string{
		"orders":    "[orders]",
		"my]db":     "[my]]db]",
		"a]]b":      "[a]]]]b]",
		"":          "[]",
	}
	for in, want := range cases {
		if got := quoteIdent(in); got != want {
			t.Fatalf("quoteIdent(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestTxCommitTwiceReturnsAlreadyResolved(t *testing.T) {
	tx := &Tx{done: true}
	if err := tx.Commit(context.Background()); err == nil {
		t.Fatal("Commit() on an already-resolved Tx should fail")
	}
}

func TestTxRollbackTwiceReturnsAlreadyResolved(t *testing.T) {
	tx := &Tx{done: true}
	if err := tx.Rollback(context.Background()); err == nil {
		t.Fatal("Rollback() on an already-resolved Tx should fail")
	}
}

func TestQueryResultRowsEmptyWhenNoResultSets(t *testing.T) {
	r := &QueryResult{}
	if got := r.Rows(); got != nil {
		t.Fatalf("Rows() = %v; want nil for a result with no result sets", got)
	}
}

func TestQueryResultRowsReturnsFirstResultSet(t *testing.T) {
	row := tds.Row{Values: []interface{}{int64(1)}}
	r := &QueryResult{ResultSets: []tds.AggregatedResultSet{
		{Rows: []tds.Row{row}},
		{Rows: []tds.Row{{Values: []interface{}{int64(2)}}}},
	}}
	rows := r.Rows()
	if len(rows) != 1 || rows[0].Values[0] != int64(1) {
		t.Fatalf("Rows() = %+v; want the first result set's single row", rows)
	}
}
