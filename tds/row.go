package tds

import (
	"fmt"
	"strings"

	"github.com/golang-sql/sqlexp"
)

// Row is one COLMETADATA-described ROW/NBCROW token decoded into a
// public, column-addressable form. The pipeline builds one Row per
// token it hands to a delegate; the underlying slices are owned by the
// Row and safe to read after the message that produced them has been
// fully consumed.
type Row struct {
	Columns []Column
	Values  []interface{}

	// index maps lowercased column name to its first-defined index,
	// built once per result set (buildColumnIndex) and shared by every
	// Row of that result set. Nil for a Row built without one (e.g. in
	// tests), in which case ColumnIndex falls back to a linear scan.
	index map[string]int
}

// buildColumnIndex precomputes the case-insensitive name-to-index
// lookup a result set's Rows share, so repeated ColumnIndex/Value calls
// against many rows of the same shape don't each re-scan the column
// list. First-defined wins on a duplicate name, matching the linear
// scan it replaces.
func buildColumnIndex(cols []Column) map[string]int {
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		key := strings.ToLower(c.Name)
		if _, exists := idx[key]; !exists {
			idx[key] = i
		}
	}
	return idx
}

// ColumnIndex returns the zero-based index of the named column, or -1
// if no column matches. Matching is case-insensitive, the way
// sp_executesql result sets are conventionally consumed.
func (r *Row) ColumnIndex(name string) int {
	if r.index != nil {
		if i, ok := r.index[strings.ToLower(name)]; ok {
			return i
		}
		return -1
	}
	for i, c := range r.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// Value returns the decoded value of the named column and whether it
// was found.
func (r *Row) Value(name string) (interface{}, bool) {
	i := r.ColumnIndex(name)
	if i < 0 {
		return nil, false
	}
	return r.Values[i], true
}

// At returns the decoded value at a zero-based ordinal, or nil if out
// of range.
func (r *Row) At(i int) interface{} {
	if i < 0 || i >= len(r.Values) {
		return nil
	}
	return r.Values[i]
}

// ReturnStatus is the integer value of a stored procedure's RETURN
// statement, surfaced by a RETURNSTATUS token. A call with no explicit
// RETURN sees 0.
type ReturnStatus int32

// OutputParams collects the RETURNVALUE tokens an RPC call produced,
// in the order the server sent them, keyed by parameter name (without
// the leading '@', matching how callers named them in the Param they
// sent).
type OutputParams struct {
	byName map[string]*ReturnValueToken
	order  []*ReturnValueToken
}

// NewOutputParams builds an OutputParams collector. Pipeline delegates
// append to it as ReturnValueToken values arrive.
func NewOutputParams() *OutputParams {
	return &OutputParams{byName: make(map[string]*ReturnValueToken)}
}

// Add records one RETURNVALUE token.
func (o *OutputParams) Add(t ReturnValueToken) {
	name := strings.TrimPrefix(t.Name, "@")
	rec := t
	o.byName[name] = &rec
	o.order = append(o.order, &rec)
}

// Len reports how many output values were returned.
func (o *OutputParams) Len() int {
	return len(o.order)
}

// Get returns the named output value, or nil if the server did not
// return one by that name (e.g. the parameter was never bound as
// output, or the proc never assigned it).
func (o *OutputParams) Get(name string) (interface{}, bool) {
	rec, ok := o.byName[strings.TrimPrefix(name, "@")]
	if !ok {
		return nil, false
	}
	return rec.Value, true
}

// Bind assigns the server's returned values into the sqlexp.Out
// destinations the caller supplied when building the RPC's Param
// list, the same binding convention database/sql drivers use for
// output parameters (sql.Named("p", sqlexp.Out{Dest: &v})). Params
// with Output == false are ignored; a Param whose name has no
// corresponding RETURNVALUE token (the proc never touched it) leaves
// its destination untouched.
func (o *OutputParams) Bind(params []Param) error {
	for _, p := range params {
		if !p.Output {
			continue
		}
		out, ok := p.Value.(sqlexp.Out)
		if !ok {
			continue
		}
		rec, ok := o.byName[strings.TrimPrefix(p.Name, "@")]
		if !ok {
			continue
		}
		if err := assignOut(out, rec.Value); err != nil {
			return fmt.Errorf("tds: output parameter %q: %w", p.Name, err)
		}
	}
	return nil
}

// assignOut writes val into the pointer out.Dest holds. Only the
// pointer types this driver's Param/value decoding actually produces
// are supported; anything else is a caller programming error.
func assignOut(out sqlexp.Out, val interface{}) error {
	switch dst := out.Dest.(type) {
	case *interface{}:
		*dst = val
	case *int64:
		v := toInt64(val)
		*dst = v
	case *int32:
		*dst = int32(toInt64(val))
	case *float64:
		*dst = toFloat64(val)
	case *bool:
		*dst = toBool(val)
	case *string:
		*dst = toStringVal(val)
	case *[]byte:
		*dst = toBytesVal(val)
	default:
		return fmt.Errorf("unsupported output destination type %T", out.Dest)
	}
	return nil
}

// OutParam builds a Param bound as an RPC output parameter, wrapping
// dest the way sqlexp.Out conventionally does for database/sql
// drivers: the server's RETURNVALUE for this name is written back into
// dest once the call's OutputParams are bound.
func OutParam(name string, col Column, dest interface{}) Param {
	return Param{
		Name:   name,
		Column: col,
		Value:  sqlexp.Out{Dest: dest},
		Output: true,
	}
}
