// Package bigquery implements store.Store on a BigQuery dataset.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/multibank/internal/store"
	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Store is a store.Store over one dataset. Writes use DML so that schema
// errors surface synchronously, as they do for reads.
type Store struct {
	client  *bigquery.Client
	project string
	dataset string
}

// ParseURL splits bigquery://project/dataset.
func ParseURL(raw string) (project, dataset string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("ParseURL: %w", err)
	}
	if u.Scheme != "bigquery" {
		return "", "", fmt.Errorf("ParseURL: unsupported scheme %q", u.Scheme)
	}
	dataset = strings.Trim(u.Path, "/")
	if u.Host == "" || dataset == "" || strings.Contains(dataset, "/") {
		return "", "", fmt.Errorf("ParseURL: want bigquery://project/dataset, got %q", raw)
	}
	return u.Host, dataset, nil
}

// Open creates a client for the dataset at rawURL. credentialsFile is a
// service account key; "default" uses Application Default Credentials.
func Open(ctx context.Context, rawURL, credentialsFile string) (*Store, error) {
	project, dataset, err := ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}

	var opts []option.ClientOption
	if credentialsFile != "" && credentialsFile != "default" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("Open: creating client: %w", mapError(err))
	}
	return &Store{client: client, project: project, dataset: dataset}, nil
}

// Opener adapts Open to store.Opener.
func Opener(rawURL, credentialsFile string) store.Opener {
	return func(ctx context.Context) (store.Store, error) {
		return Open(ctx, rawURL, credentialsFile)
	}
}

// Select implements store.Store.
func (s *Store) Select(ctx context.Context, q store.Query) ([]store.Row, error) {
	sql, params, err := buildSelect(s.project, s.dataset, q)
	if err != nil {
		return nil, err
	}

	query := s.client.Query(sql)
	query.Parameters = params
	it, err := query.Read(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	var rows []store.Row
	for {
		var values map[string]bigquery.Value
		err := it.Next(&values)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, mapError(err)
		}
		r := make(store.Row, len(values))
		for k, v := range values {
			r[k] = fromBQ(v)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// Insert implements store.Store.
func (s *Store) Insert(ctx context.Context, table string, row store.Row) error {
	sql, params, err := buildInsert(s.project, s.dataset, table, row)
	if err != nil {
		return err
	}
	_, err = s.run(ctx, sql, params)
	return err
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, table string, filters []store.Filter, values store.Row) (int64, error) {
	sql, params, err := buildUpdate(s.project, s.dataset, table, filters, values)
	if err != nil {
		return 0, err
	}
	return s.run(ctx, sql, params)
}

// Close implements store.Store.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// run executes a DML statement and returns the affected row count.
func (s *Store) run(ctx context.Context, sql string, params []bigquery.QueryParameter) (int64, error) {
	query := s.client.Query(sql)
	query.Parameters = params

	job, err := query.Run(ctx)
	if err != nil {
		return 0, mapError(err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, mapError(err)
	}
	if err := status.Err(); err != nil {
		return 0, mapError(err)
	}
	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}

func tableRef(project, dataset, table string) string {
	return fmt.Sprintf("`%s.%s.%s`", project, dataset, table)
}

func column(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "") + "`"
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

func where(filters []store.Filter, params []bigquery.QueryParameter) (string, []bigquery.QueryParameter, error) {
	if len(filters) == 0 {
		return "", params, nil
	}
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		op, err := operator(f.Op)
		if err != nil {
			return "", nil, err
		}
		name := fmt.Sprintf("p%d", len(params))
		params = append(params, bigquery.QueryParameter{Name: name, Value: toBQ(f.Value)})
		parts = append(parts, fmt.Sprintf("%s %s @%s", column(f.Column), op, name))
	}
	return " WHERE " + strings.Join(parts, " AND "), params, nil
}

func buildSelect(project, dataset string, q store.Query) (string, []bigquery.QueryParameter, error) {
	cols := "*"
	if len(q.Columns) > 0 {
		quoted := make([]string, 0, len(q.Columns))
		for _, c := range q.Columns {
			quoted = append(quoted, column(c))
		}
		cols = strings.Join(quoted, ", ")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", cols, tableRef(project, dataset, q.Table))

	w, params, err := where(q.Filters, nil)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(w)

	if q.OrderBy != "" {
		fmt.Fprintf(&sb, " ORDER BY %s", column(q.OrderBy))
		if q.Descending {
			sb.WriteString(" DESC")
		}
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	return sb.String(), params, nil
}

// presentColumns returns the non-nil columns of row, sorted.
func presentColumns(row store.Row) []string {
	cols := make([]string, 0, len(row))
	for c, v := range row {
		if v != nil {
			cols = append(cols, c)
		}
	}
	sort.Strings(cols)
	return cols
}

func buildInsert(project, dataset, table string, row store.Row) (string, []bigquery.QueryParameter, error) {
	cols := presentColumns(row)
	if len(cols) == 0 {
		return "", nil, fmt.Errorf("buildInsert: empty row for %s", table)
	}
	quoted := make([]string, 0, len(cols))
	names := make([]string, 0, len(cols))
	params := make([]bigquery.QueryParameter, 0, len(cols))
	for i, c := range cols {
		name := fmt.Sprintf("p%d", i)
		quoted = append(quoted, column(c))
		names = append(names, "@"+name)
		params = append(params, bigquery.QueryParameter{Name: name, Value: toBQ(row[c])})
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		tableRef(project, dataset, table), strings.Join(quoted, ", "), strings.Join(names, ", "))
	return sql, params, nil
}

func buildUpdate(project, dataset, table string, filters []store.Filter, values store.Row) (string, []bigquery.QueryParameter, error) {
	cols := presentColumns(values)
	if len(cols) == 0 {
		return "", nil, fmt.Errorf("buildUpdate: nothing to set on %s", table)
	}
	if len(filters) == 0 {
		return "", nil, fmt.Errorf("buildUpdate: refusing unfiltered update of %s", table)
	}
	sets := make([]string, 0, len(cols))
	params := make([]bigquery.QueryParameter, 0, len(cols)+len(filters))
	for _, c := range cols {
		name := fmt.Sprintf("p%d", len(params))
		params = append(params, bigquery.QueryParameter{Name: name, Value: toBQ(values[c])})
		sets = append(sets, fmt.Sprintf("%s = @%s", column(c), name))
	}
	w, params, err := where(filters, params)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("UPDATE %s SET %s%s", tableRef(project, dataset, table), strings.Join(sets, ", "), w)
	return sql, params, nil
}

// toBQ converts decimals into NUMERIC parameters.
func toBQ(v any) any {
	switch d := v.(type) {
	case decimal.Decimal:
		return d.Rat()
	case decimal.NullDecimal:
		if d.Valid {
			return d.Decimal.Rat()
		}
	}
	return v
}

// fromBQ converts civil values into times; NUMERIC *big.Rat is left for
// store.ToDecimal.
func fromBQ(v bigquery.Value) any {
	switch t := v.(type) {
	case civil.Date:
		return t.In(time.UTC)
	case civil.DateTime:
		return t.In(time.UTC)
	}
	return v
}

// codeForMessage maps BigQuery's free-text query errors onto store codes.
func codeForMessage(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "unrecognized name"),
		strings.Contains(lower, "not found inside"),
		strings.Contains(lower, "no such field"):
		return store.CodeUndefinedColumn
	case strings.Contains(lower, "not found: table"):
		return store.CodeUndefinedTable
	case strings.Contains(lower, "could not cast literal"),
		strings.Contains(lower, "invalid input syntax"):
		return store.CodeInvalidTextRepresentation
	}
	return ""
}

// mapError turns client errors into store errors. Query and job errors
// become *store.Error; 5xx, rate limiting and network failures become
// store.TransportError.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code >= 500 || apiErr.Code == 429 {
			return &store.TransportError{Err: err}
		}
		return &store.Error{Code: codeForMessage(apiErr.Message), Message: apiErr.Message}
	}

	var bqErr *bigquery.Error
	if errors.As(err, &bqErr) {
		if bqErr.Reason == "backendError" || bqErr.Reason == "rateLimitExceeded" {
			return &store.TransportError{Err: err}
		}
		return &store.Error{Code: codeForMessage(bqErr.Message), Message: bqErr.Message}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &store.TransportError{Err: err}
	}
	return err
}

var _ store.Store = (*Store)(nil)
