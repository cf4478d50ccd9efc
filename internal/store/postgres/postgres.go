// Package postgres implements store.Store on PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/dvloznov/multibank/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store is a store.Store backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// DSN puts password into rawURL unless the URL already carries one.
func DSN(rawURL, password string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("DSN: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("DSN: unsupported scheme %q", u.Scheme)
	}
	if password != "" {
		if _, set := u.User.Password(); !set {
			u.User = url.UserPassword(u.User.Username(), password)
		}
	}
	return u.String(), nil
}

// Open connects to the database at rawURL and checks it answers.
func Open(ctx context.Context, rawURL, password string) (*Store, error) {
	dsn, err := DSN(rawURL, password)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("Open: ping: %w", mapError(err))
	}
	return &Store{pool: pool}, nil
}

// Opener adapts Open to store.Opener.
func Opener(rawURL, password string) store.Opener {
	return func(ctx context.Context) (store.Store, error) {
		return Open(ctx, rawURL, password)
	}
}

// Select implements store.Store.
func (s *Store) Select(ctx context.Context, q store.Query) ([]store.Row, error) {
	sql, args, err := buildSelect(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, mapError(err)
	}

	out := make([]store.Row, 0, len(maps))
	for _, m := range maps {
		r := make(store.Row, len(m))
		for k, v := range m {
			r[k] = fromPG(v)
		}
		out = append(out, r)
	}
	return out, nil
}

// Insert implements store.Store.
func (s *Store) Insert(ctx context.Context, table string, row store.Row) error {
	sql, args, err := buildInsert(table, row)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return mapError(err)
	}
	return nil
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, table string, filters []store.Filter, values store.Row) (int64, error) {
	sql, args, err := buildUpdate(table, filters, values)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Pool exposes the pool for migrations.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func operator(op store.Op) (string, error) {
	switch op {
	case store.OpEq, "":
		return "=", nil
	case store.OpGte:
		return ">=", nil
	case store.OpLte:
		return "<=", nil
	}
	return "", fmt.Errorf("unsupported operator %q", op)
}

func where(filters []store.Filter, args []any) (string, []any, error) {
	if len(filters) == 0 {
		return "", args, nil
	}
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		op, err := operator(f.Op)
		if err != nil {
			return "", nil, err
		}
		args = append(args, toPG(f.Value))
		parts = append(parts, fmt.Sprintf("%s %s $%d", ident(f.Column), op, len(args)))
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func buildSelect(q store.Query) (string, []any, error) {
	cols := "*"
	if len(q.Columns) > 0 {
		quoted := make([]string, 0, len(q.Columns))
		for _, c := range q.Columns {
			quoted = append(quoted, ident(c))
		}
		cols = strings.Join(quoted, ", ")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", cols, ident(q.Table))

	w, args, err := where(q.Filters, nil)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(w)

	if q.OrderBy != "" {
		fmt.Fprintf(&sb, " ORDER BY %s", ident(q.OrderBy))
		if q.Descending {
			sb.WriteString(" DESC")
		}
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	return sb.String(), args, nil
}

func sortedColumns(row store.Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func buildInsert(table string, row store.Row) (string, []any, error) {
	if len(row) == 0 {
		return "", nil, fmt.Errorf("buildInsert: empty row for %s", table)
	}
	cols := sortedColumns(row)
	quoted := make([]string, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for i, c := range cols {
		quoted = append(quoted, ident(c))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, toPG(row[c]))
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ident(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	return sql, args, nil
}

func buildUpdate(table string, filters []store.Filter, values store.Row) (string, []any, error) {
	if len(values) == 0 {
		return "", nil, fmt.Errorf("buildUpdate: nothing to set on %s", table)
	}
	if len(filters) == 0 {
		return "", nil, fmt.Errorf("buildUpdate: refusing unfiltered update of %s", table)
	}
	cols := sortedColumns(values)
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+len(filters))
	for _, c := range cols {
		args = append(args, toPG(values[c]))
		sets = append(sets, fmt.Sprintf("%s = $%d", ident(c), len(args)))
	}
	w, args, err := where(filters, args)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("UPDATE %s SET %s%s", ident(table), strings.Join(sets, ", "), w), args, nil
}

// toPG converts values pgx cannot encode on its own.
func toPG(v any) any {
	switch d := v.(type) {
	case decimal.Decimal:
		return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
	case decimal.NullDecimal:
		if !d.Valid {
			return nil
		}
		return toPG(d.Decimal)
	}
	return v
}

// fromPG converts driver values into the shapes store.Row readers expect.
func fromPG(v any) any {
	switch n := v.(type) {
	case pgtype.Numeric:
		if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil {
			return nil
		}
		return decimal.NewFromBigInt(n.Int, n.Exp)
	case [16]byte:
		return uuid.UUID(n).String()
	}
	return v
}

// mapError turns pgx failures into store errors. Server errors keep their
// SQLSTATE; connection level failures become store.TransportError.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &store.Error{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Table:   pgErr.TableName,
			Column:  pgErr.ColumnName,
		}
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) || errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return &store.TransportError{Err: err}
	}
	return err
}

var _ store.Store = (*Store)(nil)
