// Package queryexec runs an ordered list of equivalent query variants, each
// written against a different historical naming of the same columns, and
// stops at the first one the store accepts.
package queryexec

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/multibank/internal/domain"
	"github.com/dvloznov/multibank/internal/logger"
	"github.com/dvloznov/multibank/internal/store"
)

// Variant is one formulation of a logical query.
type Variant[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Classifier reports whether err means the variant referenced a column or
// table the current store revision does not have.
type Classifier func(err error) bool

// Result is the value produced by the first accepted variant.
type Result[T any] struct {
	Value    T
	Variant  string
	Attempts int
}

// IsSchemaError is the default Classifier. It matches the undefined-column and
// invalid-column-reference codes, or a message mentioning "column" or
// "schema cache". Cancellation and transport failures never match.
func IsSchemaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || store.IsTransport(err) {
		return false
	}

	switch store.CodeOf(err) {
	case store.CodeUndefinedColumn, store.CodeInvalidColumnReference:
		return true
	}

	msg := err.Error()
	var se *store.Error
	if errors.As(err, &se) {
		msg = se.Message
	}
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "column") || strings.Contains(msg, "schema cache")
}

// Execute runs variants in order. A schema-class failure moves on to the next
// variant; any other failure is returned at once. When every variant fails
// with a schema-class error the last one is returned wrapped in a
// *domain.SchemaExhaustedError.
func Execute[T any](ctx context.Context, classify Classifier, variants []Variant[T]) (Result[T], error) {
	log := logger.FromContext(ctx)
	if classify == nil {
		classify = IsSchemaError
	}
	if len(variants) == 0 {
		return Result[T]{}, errors.New("Execute: no query variants")
	}

	names := make([]string, 0, len(variants))
	var lastErr error
	for i, v := range variants {
		if err := ctx.Err(); err != nil {
			return Result[T]{Attempts: i}, err
		}
		names = append(names, v.Name)

		log.Debug().Str("variant", v.Name).Int("attempt", i+1).Msg("Running query variant")
		value, err := v.Run(ctx)
		if err == nil {
			return Result[T]{Value: value, Variant: v.Name, Attempts: i + 1}, nil
		}
		if !classify(err) {
			return Result[T]{Attempts: i + 1}, fmt.Errorf("variant %s: %w", v.Name, err)
		}

		log.Warn().Err(err).Str("variant", v.Name).Msg("Recoverable variant failure, trying next")
		lastErr = err
	}

	return Result[T]{Attempts: len(variants)}, &domain.SchemaExhaustedError{Variants: names, Err: lastErr}
}

// NamedQuery is a store query tagged with the schema revision it targets.
type NamedQuery struct {
	Name  string
	Query store.Query
}

// Select runs queries against s as variants of one logical read.
func Select(ctx context.Context, s store.Store, classify Classifier, queries ...NamedQuery) (Result[[]store.Row], error) {
	variants := make([]Variant[[]store.Row], 0, len(queries))
	for _, nq := range queries {
		q := nq.Query
		variants = append(variants, Variant[[]store.Row]{
			Name: nq.Name,
			Run: func(ctx context.Context) ([]store.Row, error) {
				return s.Select(ctx, q)
			},
		})
	}
	return Execute(ctx, classify, variants)
}
