package tds

import (
	"sync"
	"time"
)

// PreparedStatement is a server-side statement handle this driver
// obtained via sp_prepexec (or sp_prepare), cached so repeat executions
// of the same SQL text can skip straight to sp_execute.
type PreparedStatement struct {
	Handle     int32
	SQL        string
	ParamDefs  string // "@p1 int, @p2 nvarchar(100)", as sent to sp_prepexec
	ParamCount int
	Columns    []Column // result column metadata, if the server returned one
	CreatedAt  time.Time
	ExecCount  int64
}

// PreparedStatementCache maps SQL text (plus its parameter signature) to
// the handle the server returned for it, so a connection reuses one
// sp_prepexec call across repeated executions of the same statement
// instead of re-preparing every time.
type PreparedStatementCache struct {
	mu    sync.RWMutex
	byKey map[string]*PreparedStatement
}

// NewPreparedStatementCache creates an empty cache.
func NewPreparedStatementCache() *PreparedStatementCache {
	return &PreparedStatementCache{byKey: make(map[string]*PreparedStatement)}
}

func cacheKey(sql, paramDefs string) string {
	return paramDefs + "\x00" + sql
}

// Lookup returns the cached statement for sql/paramDefs, if present.
func (c *PreparedStatementCache) Lookup(sql, paramDefs string) (*PreparedStatement, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ps, ok := c.byKey[cacheKey(sql, paramDefs)]
	return ps, ok
}

// Store records a handle the server returned for sql/paramDefs.
func (c *PreparedStatementCache) Store(sql, paramDefs string, handle int32, columns []Column) *PreparedStatement {
	ps := &PreparedStatement{
		Handle:     handle,
		SQL:        sql,
		ParamDefs:  paramDefs,
		ParamCount: countParams(paramDefs),
		Columns:    columns,
		CreatedAt:  time.Now(),
	}
	c.mu.Lock()
	c.byKey[cacheKey(sql, paramDefs)] = ps
	c.mu.Unlock()
	return ps
}

// Touch increments the execution counter for a cached statement.
func (c *PreparedStatementCache) Touch(ps *PreparedStatement) {
	c.mu.Lock()
	ps.ExecCount++
	c.mu.Unlock()
}

// Evict drops a cached statement, e.g. after the server reports its
// handle invalid (SQL Server can invalidate handles across a dropped
// connection or a schema change).
func (c *PreparedStatementCache) Evict(sql, paramDefs string) {
	c.mu.Lock()
	delete(c.byKey, cacheKey(sql, paramDefs))
	c.mu.Unlock()
}

// Len reports how many statements are cached.
func (c *PreparedStatementCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}

func countParams(paramDefs string) int {
	if paramDefs == "" {
		return 0
	}
	count := 1
	for _, r := range paramDefs {
		if r == ',' {
			count++
		}
	}
	return count
}

// PreparedStatementError indicates an operation against an unknown or
// invalidated prepared-statement handle.
type PreparedStatementError struct {
	Handle  int32
	Message string
}

func (e *PreparedStatementError) Error() string {
	return e.Message
}
