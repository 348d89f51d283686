package client

import (
	"context"
	"fmt"
)

// DatabaseInfo, SchemaInfo, TableInfo, and ColumnInfo are the typed
// shapes a MetadataCatalog hands back. The query strings that build
// them (sys.* view introspection) are an external collaborator's
// concern, not this driver's: MetadataCatalog is the execution
// contract such a collaborator is consumed through, not an
// implementation of schema SQL.
type DatabaseInfo struct {
	Name       string
	CreateDate string
	Collation  string
}

type SchemaInfo struct {
	Name  string
	Owner string
}

type TableInfo struct {
	Schema string
	Name   string
	Type   string // BASE TABLE, VIEW
}

type ColumnInfo struct {
	Schema       string
	Table        string
	Name         string
	OrdinalPos   int
	DataType     string
	IsNullable   bool
	MaxLength    int
	Precision    int
	Scale        int
	IsIdentity   bool
}

// MetadataOptions tunes how a MetadataCatalog filters and enriches its
// results, per the configuration surface's metadata knobs.
type MetadataOptions struct {
	IncludeSystemSchemas         bool
	EnableColumnCache            bool
	IncludeRoutineDefinitions    bool
	IncludeTriggerDefinitions    bool
	PreferStoredProcedureColumns bool
}

// MetadataCatalog is the query-execution contract a schema-introspection
// collaborator is consumed through: something that already knows how to
// run a SQL batch and get rows back. A *Client does not implement it
// itself; NewMetadataCatalog wraps a *Client in one.
type MetadataCatalog interface {
	ListDatabases(ctx context.Context) ([]DatabaseInfo, error)
	ListSchemas(ctx context.Context) ([]SchemaInfo, error)
	ListTables(ctx context.Context, schema string) ([]TableInfo, error)
	ListColumns(ctx context.Context, schema, table string) ([]ColumnInfo, error)
}

// sqlCatalog is the reference MetadataCatalog implementation: catalog
// queries (sys.databases and sys.schemas for databases and schemas,
// INFORMATION_SCHEMA for tables and columns) run through a Client, with a column-shape
// cache keyed by schema.table when EnableColumnCache is set. A real
// deployment is free to substitute a richer sys.* catalog without
// touching anything that consumes MetadataCatalog.
type sqlCatalog struct {
	client *Client
	opts   MetadataOptions

	columnCache map[string][]ColumnInfo
}

// NewMetadataCatalog builds the reference MetadataCatalog over c.
func NewMetadataCatalog(c *Client, opts MetadataOptions) MetadataCatalog {
	return &sqlCatalog{
		client:      c,
		opts:        opts,
		columnCache: make(map[string][]ColumnInfo),
	}
}

func (m *sqlCatalog) ListDatabases(ctx context.Context) ([]DatabaseInfo, error) {
	res, err := m.client.Query(ctx, `SELECT name, create_date, collation_name FROM sys.databases ORDER BY name`)
	if err != nil {
		return nil, err
	}
	var out []DatabaseInfo
	for _, row := range res.Rows() {
		out = append(out, DatabaseInfo{
			Name:       toStr(row.At(0)),
			CreateDate: toStr(row.At(1)),
			Collation:  toStr(row.At(2)),
		})
	}
	return out, nil
}

func (m *sqlCatalog) ListSchemas(ctx context.Context) ([]SchemaInfo, error) {
	query := `SELECT s.name, USER_NAME(s.principal_id) FROM sys.schemas s`
	if !m.opts.IncludeSystemSchemas {
		query += ` WHERE s.schema_id < 16384`
	}
	query += ` ORDER BY s.name`

	res, err := m.client.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	var out []SchemaInfo
	for _, row := range res.Rows() {
		out = append(out, SchemaInfo{Name: toStr(row.At(0)), Owner: toStr(row.At(1))})
	}
	return out, nil
}

func (m *sqlCatalog) ListTables(ctx context.Context, schema string) ([]TableInfo, error) {
	query := fmt.Sprintf(
		`SELECT TABLE_SCHEMA, TABLE_NAME, TABLE_TYPE FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = %s ORDER BY TABLE_NAME`,
		quoteLiteral(schema))

	res, err := m.client.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	var out []TableInfo
	for _, row := range res.Rows() {
		out = append(out, TableInfo{
			Schema: toStr(row.At(0)),
			Name:   toStr(row.At(1)),
			Type:   toStr(row.At(2)),
		})
	}
	return out, nil
}

func (m *sqlCatalog) ListColumns(ctx context.Context, schema, table string) ([]ColumnInfo, error) {
	cacheKey := schema + "." + table
	if m.opts.EnableColumnCache {
		if cached, ok := m.columnCache[cacheKey]; ok {
			return cached, nil
		}
	}

	query := fmt.Sprintf(`
SELECT COLUMN_NAME, ORDINAL_POSITION, DATA_TYPE, IS_NULLABLE,
       CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE,
       COLUMNPROPERTY(OBJECT_ID(TABLE_SCHEMA + '.' + TABLE_NAME), COLUMN_NAME, 'IsIdentity')
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = %s AND TABLE_NAME = %s
ORDER BY ORDINAL_POSITION`, quoteLiteral(schema), quoteLiteral(table))

	res, err := m.client.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	var out []ColumnInfo
	for _, row := range res.Rows() {
		out = append(out, ColumnInfo{
			Schema:     schema,
			Table:      table,
			Name:       toStr(row.At(0)),
			OrdinalPos: toInt(row.At(1)),
			DataType:   toStr(row.At(2)),
			IsNullable: toStr(row.At(3)) == "YES",
			MaxLength:  toInt(row.At(4)),
			Precision:  toInt(row.At(5)),
			Scale:      toInt(row.At(6)),
			IsIdentity: toInt(row.At(7)) == 1,
		})
	}

	if m.opts.EnableColumnCache {
		m.columnCache[cacheKey] = out
	}
	return out, nil
}

func quoteLiteral(s string) string {
	escaped := ""
	for _, r := range s {
		if r == '\'' {
			escaped += "''"
		} else {
			escaped += string(r)
		}
	}
	return "'" + escaped + "'"
}

func toStr(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
