// Package memory is an in-process Store used by tests and the memory:// dev
// driver. Tables declare their columns so that queries against a column that
// does not exist fail the same way a relational store would.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/multibank/internal/store"
	"github.com/google/uuid"
)

// ColumnType is the declared type of a column.
type ColumnType int

const (
	Text ColumnType = iota
	UUID
	Numeric
	Timestamp
)

// Column declares one column of a table.
type Column struct {
	Name string
	Type ColumnType
}

type table struct {
	columns map[string]ColumnType
	rows    []store.Row
	fail    error
}

// Store is an in-memory implementation of store.Store. It is safe for
// concurrent use.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
}

// New creates an empty store.
func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

// CreateTable declares a table. Redeclaring a table drops its rows.
func (s *Store) CreateTable(name string, columns ...Column) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &table{columns: make(map[string]ColumnType, len(columns))}
	for _, c := range columns {
		t.columns[c.Name] = c.Type
	}
	s.tables[name] = t
}

// FailWith makes every operation on table return err until cleared with nil.
func (s *Store) FailWith(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tables[name]; ok {
		t.fail = err
	}
}

// Rows returns a copy of every row in table.
func (s *Store) Rows(name string) []store.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[name]
	if !ok {
		return nil
	}
	out := make([]store.Row, 0, len(t.rows))
	for _, r := range t.rows {
		out = append(out, copyRow(r))
	}
	return out
}

func (s *Store) lookup(name string) (*table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, &store.Error{
			Code:    store.CodeUndefinedTable,
			Message: fmt.Sprintf("relation %q does not exist", name),
			Table:   name,
		}
	}
	if t.fail != nil {
		return nil, t.fail
	}
	return t, nil
}

func (t *table) check(tableName, column string, value any, checkValue bool) error {
	typ, ok := t.columns[column]
	if !ok {
		return &store.Error{
			Code:    store.CodeUndefinedColumn,
			Message: fmt.Sprintf("column %s.%s does not exist", tableName, column),
			Table:   tableName,
			Column:  column,
		}
	}
	if !checkValue || value == nil {
		return nil
	}
	if typ == UUID {
		if s, isString := value.(string); isString {
			if _, err := uuid.Parse(s); err != nil {
				return &store.Error{
					Code:    store.CodeInvalidTextRepresentation,
					Message: fmt.Sprintf("invalid input syntax for type uuid: %q", s),
					Table:   tableName,
					Column:  column,
				}
			}
		}
	}
	return nil
}

// Select implements store.Store.
func (s *Store) Select(ctx context.Context, q store.Query) ([]store.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.lookup(q.Table)
	if err != nil {
		return nil, err
	}
	for _, c := range q.Columns {
		if err := t.check(q.Table, c, nil, false); err != nil {
			return nil, err
		}
	}
	for _, f := range q.Filters {
		if err := t.check(q.Table, f.Column, f.Value, true); err != nil {
			return nil, err
		}
	}
	if q.OrderBy != "" {
		if err := t.check(q.Table, q.OrderBy, nil, false); err != nil {
			return nil, err
		}
	}

	var result []store.Row
	for _, r := range t.rows {
		if matchesAll(r, q.Filters) {
			result = append(result, project(r, q.Columns))
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(result, func(i, j int) bool {
			c := compare(result[i][q.OrderBy], result[j][q.OrderBy])
			if q.Descending {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && q.Limit < len(result) {
		result = result[:q.Limit]
	}

	return result, nil
}

// Insert implements store.Store. A non-empty "id" column must be unique.
func (s *Store) Insert(ctx context.Context, tableName string, row store.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(tableName)
	if err != nil {
		return err
	}
	for c, v := range row {
		if err := t.check(tableName, c, v, true); err != nil {
			return err
		}
	}
	if id, ok := row["id"]; ok && id != nil {
		for _, existing := range t.rows {
			if compare(existing["id"], id) == 0 {
				return &store.Error{
					Code:    store.CodeUniqueViolation,
					Message: fmt.Sprintf("duplicate key value violates unique constraint \"%s_pkey\"", tableName),
					Table:   tableName,
					Column:  "id",
				}
			}
		}
	}

	t.rows = append(t.rows, copyRow(row))
	return nil
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, tableName string, filters []store.Filter, values store.Row) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.lookup(tableName)
	if err != nil {
		return 0, err
	}
	for _, f := range filters {
		if err := t.check(tableName, f.Column, f.Value, true); err != nil {
			return 0, err
		}
	}
	for c, v := range values {
		if err := t.check(tableName, c, v, true); err != nil {
			return 0, err
		}
	}

	var n int64
	for _, r := range t.rows {
		if !matchesAll(r, filters) {
			continue
		}
		for c, v := range values {
			r[c] = v
		}
		n++
	}
	return n, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return nil
}

func matchesAll(r store.Row, filters []store.Filter) bool {
	for _, f := range filters {
		v, ok := r[f.Column]
		if !ok || v == nil {
			return false
		}
		c := compare(v, f.Value)
		switch f.Op {
		case store.OpEq:
			if c != 0 {
				return false
			}
		case store.OpGte:
			if c < 0 {
				return false
			}
		case store.OpLte:
			if c > 0 {
				return false
			}
		}
	}
	return true
}

// compare orders two values of the same logical type. Nil sorts first.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if da, err := store.ToDecimal(a); err == nil {
		if db, err := store.ToDecimal(b); err == nil {
			if _, aIsString := a.(string); !aIsString {
				return da.Cmp(db)
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func project(r store.Row, columns []string) store.Row {
	if len(columns) == 0 {
		return copyRow(r)
	}
	out := make(store.Row, len(columns))
	for _, c := range columns {
		if v, ok := r[c]; ok {
			out[c] = v
		}
	}
	return out
}

func copyRow(r store.Row) store.Row {
	out := make(store.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

var _ store.Store = (*Store)(nil)
