package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"reflect"
	"testing"
	"time"

	"github.com/dvloznov/multibank/internal/store"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

func TestBuildSelect(t *testing.T) {
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	sql, args, err := buildSelect(store.Query{
		Table:      "transactions",
		Filters:    []store.Filter{store.Eq("user_id", "900105-123456"), store.Gte("created_at", since)},
		OrderBy:    "created_at",
		Descending: true,
		Limit:      50,
	})
	if err != nil {
		t.Fatalf("buildSelect failed: %v", err)
	}

	want := `SELECT * FROM "transactions" WHERE "user_id" = $1 AND "created_at" >= $2 ORDER BY "created_at" DESC LIMIT 50`
	if sql != want {
		t.Errorf("sql =\n%s\nwant\n%s", sql, want)
	}
	if !reflect.DeepEqual(args, []any{"900105-123456", since}) {
		t.Errorf("unexpected args %v", args)
	}
}

func TestBuildSelect_ColumnsAndQuoting(t *testing.T) {
	sql, _, err := buildSelect(store.Query{Table: "profiles", Columns: []string{"id", `we"ird`}, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	want := `SELECT "id", "we""ird" FROM "profiles" LIMIT 1`
	if sql != want {
		t.Errorf("sql = %s, want %s", sql, want)
	}
}

func TestBuildSelect_BadOperator(t *testing.T) {
	_, _, err := buildSelect(store.Query{Table: "t", Filters: []store.Filter{{Column: "a", Op: "like", Value: "x"}}})
	if err == nil {
		t.Error("expected error for unsupported operator")
	}
}

func TestBuildInsert(t *testing.T) {
	sql, args, err := buildInsert("accounts", store.Row{
		"user_id": "900105-123456",
		"id":      "900105-123456-kaspi",
		"balance": decimal.RequireFromString("100.50"),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := `INSERT INTO "accounts" ("balance", "id", "user_id") VALUES ($1, $2, $3)`
	if sql != want {
		t.Errorf("sql = %s, want %s", sql, want)
	}
	n, ok := args[0].(pgtype.Numeric)
	if !ok || n.Int.Cmp(big.NewInt(10050)) != 0 || n.Exp != -2 {
		t.Errorf("decimal not converted to numeric: %#v", args[0])
	}
	if _, _, err := buildInsert("accounts", store.Row{}); err == nil {
		t.Error("expected error for empty row")
	}
}

func TestBuildUpdate(t *testing.T) {
	sql, args, err := buildUpdate("accounts",
		[]store.Filter{store.Eq("id", "a1")},
		store.Row{"balance": decimal.RequireFromString("7")})
	if err != nil {
		t.Fatal(err)
	}
	want := `UPDATE "accounts" SET "balance" = $1 WHERE "id" = $2`
	if sql != want {
		t.Errorf("sql = %s, want %s", sql, want)
	}
	if len(args) != 2 || args[1] != "a1" {
		t.Errorf("unexpected args %v", args)
	}

	if _, _, err := buildUpdate("accounts", nil, store.Row{"balance": 1}); err == nil {
		t.Error("expected error for unfiltered update")
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		url      string
		password string
		want     string
		wantErr  bool
	}{
		{"postgres://app@db:5432/multibank", "secret", "postgres://app:secret@db:5432/multibank", false},
		{"postgresql://app:keep@db/multibank", "secret", "postgresql://app:keep@db/multibank", false},
		{"postgres://app@db/multibank?sslmode=disable", "", "postgres://app@db/multibank?sslmode=disable", false},
		{"mysql://db/x", "secret", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := DSN(tt.url, tt.password)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("DSN = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestMapError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "42703", Message: `column "auth_user_id" does not exist`}
	mapped := mapError(fmt.Errorf("query: %w", pgErr))
	var se *store.Error
	if !errors.As(mapped, &se) || se.Code != store.CodeUndefinedColumn {
		t.Errorf("expected store error 42703, got %v", mapped)
	}

	if !store.IsTransport(mapError(io.ErrUnexpectedEOF)) {
		t.Error("unexpected EOF should be a transport error")
	}
	if err := mapError(context.Canceled); !errors.Is(err, context.Canceled) || store.IsTransport(err) {
		t.Errorf("cancellation must pass through, got %v", err)
	}
	plain := errors.New("cannot encode")
	if err := mapError(plain); err != plain {
		t.Errorf("unknown errors must pass through, got %v", err)
	}
	if mapError(nil) != nil {
		t.Error("nil must stay nil")
	}
}

func TestFromPG(t *testing.T) {
	n := pgtype.Numeric{Int: big.NewInt(98499), Exp: -1, Valid: true}
	d, ok := fromPG(n).(decimal.Decimal)
	if !ok || !d.Equal(decimal.RequireFromString("9849.9")) {
		t.Errorf("unexpected numeric conversion %v", fromPG(n))
	}
	if fromPG(pgtype.Numeric{}) != nil {
		t.Error("null numeric should become nil")
	}
	id := [16]byte{0x0b, 0x0d, 0x6a, 0x52}
	if s, ok := fromPG(id).(string); !ok || len(s) != 36 {
		t.Errorf("uuid not converted to string: %v", fromPG(id))
	}
	if fromPG("x") != "x" {
		t.Error("strings pass through")
	}
}
