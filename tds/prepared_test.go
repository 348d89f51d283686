package tds

import "testing"

func TestPreparedStatementCacheStoreAndLookup(t *testing.T) {
	c := NewPreparedStatementCache()

	if _, ok := c.Lookup("select 1", ""); ok {
		t.Fatal("Lookup() on an empty cache should miss")
	}

	ps := c.Store("select @p1", "@p1 int", 42, []Column{{Name: "col1"}})
	if ps.Handle != 42 {
		t.Fatalf("Store() handle = %d; want 42", ps.Handle)
	}
	if ps.ParamCount != 1 {
		t.Fatalf("ParamCount = %d; want 1", ps.ParamCount)
	}

	got, ok := c.Lookup("select @p1", "@p1 int")
	if !ok || got.Handle != 42 {
		t.Fatalf("Lookup() = %+v, %v; want the stored statement", got, ok)
	}

	if _, ok := c.Lookup("select @p1", "@p1 bigint"); ok {
		t.Fatal("Lookup() with a different param signature should miss (separate cache key)")
	}

	if c.Len() != 1 {
		t.Fatalf("Len() = %d; want 1", c.Len())
	}
}

func TestPreparedStatementCacheTouchIncrementsExecCount(t *testing.T) {
	c := NewPreparedStatementCache()
	ps := c.Store("select 1", "", 1, nil)

	c.Touch(ps)
	c.Touch(ps)

	if ps.ExecCount != 2 {
		t.Fatalf("ExecCount = %d; want 2", ps.ExecCount)
	}
}

func TestPreparedStatementCacheEvictRemovesEntry(t *testing.T) {
	c := NewPreparedStatementCache()
	c.Store("select 1", "", 1, nil)

	c.Evict("select 1", "")

	if _, ok := c.Lookup("select 1", ""); ok {
		t.Fatal("Lookup() after Evict() should miss")
	}
	if c.Len() != 0 {
		t.Fatalf("Len() after Evict() = %d; want 0", c.Len())
	}
}

func TestCountParamsCountsCommaSeparatedDefs(t *testing.T) {
	cases := map[string]int{
		"":                        0,
		"@p1 int":                 1,
		"@p1 int, @p2 nvarchar(100)": 2,
	}
	for defs, want := range cases {
		if got := countParams(defs); got != want {
			t.Fatalf("countParams(%q) = %d; want %d", defs, got, want)
		}
	}
}

func TestPreparedStatementErrorMessage(t *testing.T) {
	err := &PreparedStatementError{Handle: 7, Message: "handle not found"}
	if err.Error() != "handle not found" {
		t.Fatalf("Error() = %q; want %q", err.Error(), "handle not found")
	}
}
