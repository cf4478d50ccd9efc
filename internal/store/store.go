// Package store defines the contract this layer consumes from the remote
// tabular store. Drivers live in subpackages (memory, postgres, bigquery).
package store

import (
	"context"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpGte Op = "gte"
	OpLte Op = "lte"
)

// Filter restricts a query to rows where Column Op Value holds.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Eq builds an equality filter.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// Gte builds a greater-or-equal filter.
func Gte(column string, value any) Filter {
	return Filter{Column: column, Op: OpGte, Value: value}
}

// Lte builds a less-or-equal filter.
func Lte(column string, value any) Filter {
	return Filter{Column: column, Op: OpLte, Value: value}
}

// Query selects rows from a single table.
type Query struct {
	Table      string
	Columns    []string // empty selects every column
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int // zero means no limit
}

// Store is the query/command surface of the remote relational store.
type Store interface {
	// Select returns the rows matching q.
	Select(ctx context.Context, q Query) ([]Row, error)

	// Insert adds a single row to table.
	Insert(ctx context.Context, table string, row Row) error

	// Update sets values on every row of table matching filters and returns
	// the number of rows changed.
	Update(ctx context.Context, table string, filters []Filter, values Row) (int64, error)

	// Close releases the underlying connection.
	Close() error
}
