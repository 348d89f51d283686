package tds

import (
	"github.com/golang-sql/sqlexp"
	"testing"
)

func TestRowColumnIndexAndValue(t *testing.T) {
	r := &Row{
		Columns: []Column{{Name: "ID"}, {Name: "Name"}},
		Values:  []interface{}{int64(7), "widget"},
	}

	if i := r.ColumnIndex("id"); i != 0 {
		t.Fatalf("ColumnIndex(%q) = %d; want 0 (case-insensitive)", "id", i)
	}
	if i := r.ColumnIndex("missing"); i != -1 {
		t.Fatalf("ColumnIndex(missing) = %d; want -1", i)
	}

	v, ok := r.Value("name")
	if !ok || v != "widget" {
		t.Fatalf("Value(name) = %v, %v; want widget, true", v, ok)
	}

	if _, ok := r.Value("nope"); ok {
		t.Fatal("Value(nope) ok = true; want false")
	}
}

func TestBuildColumnIndexFirstDefinedWins(t *testing.T) {
	cols := []Column{{Name: "id"}, {Name: "Dup"}, {Name: "dup"}}
	idx := buildColumnIndex(cols)

	r := &Row{Columns: cols, Values: []interface{}{int64(1), "first", "second"}, index: idx}

	if i := r.ColumnIndex("DUP"); i != 1 {
		t.Fatalf("ColumnIndex(DUP) = %d; want 1 (first-defined wins)", i)
	}
	v, ok := r.Value("dup")
	if !ok || v != "first" {
		t.Fatalf("Value(dup) = %v, %v; want first, true", v, ok)
	}
	if i := r.ColumnIndex("missing"); i != -1 {
		t.Fatalf("ColumnIndex(missing) = %d; want -1", i)
	}
}

func TestRowAtOutOfRange(t *testing.T) {
	r := &Row{Values: []interface{}{int64(1)}}
	if r.At(0) != int64(1) {
		t.Fatalf("At(0) = %v; want 1", r.At(0))
	}
	if r.At(1) != nil {
		t.Fatalf("At(1) = %v; want nil", r.At(1))
	}
	if r.At(-1) != nil {
		t.Fatalf("At(-1) = %v; want nil", r.At(-1))
	}
}

func TestOutputParamsGetAndLen(t *testing.T) {
	o := NewOutputParams()
	o.Add(ReturnValueToken{Name: "@total", Value: int64(42)})
	o.Add(ReturnValueToken{Name: "msg", Value: "ok"})

	if o.Len() != 2 {
		t.Fatalf("Len() = %d; want 2", o.Len())
	}
	v, ok := o.Get("total")
	if !ok || v != int64(42) {
		t.Fatalf("Get(total) = %v, %v; want 42, true", v, ok)
	}
	v, ok = o.Get("@msg")
	if !ok || v != "ok" {
		t.Fatalf("Get(@msg) = %v, %v; want ok, true", v, ok)
	}
	if _, ok := o.Get("nope"); ok {
		t.Fatal("Get(nope) ok = true; want false")
	}
}

func TestOutputParamsBindWritesDestination(t *testing.T) {
	o := NewOutputParams()
	o.Add(ReturnValueToken{Name: "total", Value: int64(99)})

	var total int64
	params := []Param{
		OutParam("@total", Column{}, &total),
	}

	if err := o.Bind(params); err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	if total != 99 {
		t.Fatalf("total = %d; want 99", total)
	}
}

func TestOutputParamsBindIgnoresNonOutputParams(t *testing.T) {
	o := NewOutputParams()
	o.Add(ReturnValueToken{Name: "total", Value: int64(99)})

	var untouched int64 = -1
	params := []Param{
		{Name: "total", Value: sqlexp.Out{Dest: &untouched}, Output: false},
	}

	if err := o.Bind(params); err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	if untouched != -1 {
		t.Fatalf("untouched = %d; want unchanged -1 since Output is false", untouched)
	}
}

func TestOutputParamsBindLeavesUnmatchedDestinationAlone(t *testing.T) {
	o := NewOutputParams()

	var dest int64 = -1
	params := []Param{
		OutParam("@nevertouched", Column{}, &dest),
	}

	if err := o.Bind(params); err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	if dest != -1 {
		t.Fatalf("dest = %d; want unchanged -1 since the server never returned this name", dest)
	}
}
