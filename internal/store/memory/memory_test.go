package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/multibank/internal/store"
	"github.com/shopspring/decimal"
)

func newAccountsStore(t *testing.T) *Store {
	t.Helper()
	s := New()
	s.CreateTable("accounts",
		Column{Name: "id", Type: Text},
		Column{Name: "user_id", Type: Text},
		Column{Name: "bank", Type: Text},
		Column{Name: "balance", Type: Numeric},
		Column{Name: "created_at", Type: Timestamp},
	)
	return s
}

func TestSelect_FiltersOrdersAndLimits(t *testing.T) {
	ctx := context.Background()
	s := newAccountsStore(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := []store.Row{
		{"id": "a1", "user_id": "u1", "bank": "Kaspi Bank", "balance": decimal.NewFromInt(100), "created_at": base},
		{"id": "a2", "user_id": "u1", "bank": "Halyk Bank", "balance": decimal.NewFromInt(50), "created_at": base.Add(time.Hour)},
		{"id": "a3", "user_id": "u2", "bank": "Kaspi Bank", "balance": decimal.NewFromInt(7), "created_at": base.Add(2 * time.Hour)},
	}
	for _, r := range rows {
		if err := s.Insert(ctx, "accounts", r); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := s.Select(ctx, store.Query{
		Table:      "accounts",
		Filters:    []store.Filter{store.Eq("user_id", "u1")},
		OrderBy:    "created_at",
		Descending: true,
	})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(got) != 2 || got[0]["id"] != "a2" || got[1]["id"] != "a1" {
		t.Fatalf("unexpected rows: %v", got)
	}

	got, err = s.Select(ctx, store.Query{
		Table:   "accounts",
		Filters: []store.Filter{store.Gte("created_at", base.Add(time.Hour))},
		OrderBy: "created_at",
		Limit:   1,
	})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(got) != 1 || got[0]["id"] != "a2" {
		t.Fatalf("unexpected rows: %v", got)
	}
}

func TestSelect_UnknownColumn(t *testing.T) {
	s := newAccountsStore(t)

	_, err := s.Select(context.Background(), store.Query{
		Table:   "accounts",
		Filters: []store.Filter{store.Eq("profile_id", "u1")},
	})
	if code := store.CodeOf(err); code != store.CodeUndefinedColumn {
		t.Fatalf("expected code %s, got %q (%v)", store.CodeUndefinedColumn, code, err)
	}
}

func TestSelect_UnknownTable(t *testing.T) {
	s := New()

	_, err := s.Select(context.Background(), store.Query{Table: "profiles"})
	if code := store.CodeOf(err); code != store.CodeUndefinedTable {
		t.Fatalf("expected code %s, got %q", store.CodeUndefinedTable, code)
	}
}

func TestSelect_UUIDColumnRejectsText(t *testing.T) {
	s := New()
	s.CreateTable("profiles", Column{Name: "id", Type: UUID})

	_, err := s.Select(context.Background(), store.Query{
		Table:   "profiles",
		Filters: []store.Filter{store.Eq("id", "900101-123456")},
	})
	if code := store.CodeOf(err); code != store.CodeInvalidTextRepresentation {
		t.Fatalf("expected code %s, got %q", store.CodeInvalidTextRepresentation, code)
	}
}

func TestInsert_DuplicateID(t *testing.T) {
	ctx := context.Background()
	s := newAccountsStore(t)

	if err := s.Insert(ctx, "accounts", store.Row{"id": "a1"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	err := s.Insert(ctx, "accounts", store.Row{"id": "a1"})
	if code := store.CodeOf(err); code != store.CodeUniqueViolation {
		t.Fatalf("expected code %s, got %q", store.CodeUniqueViolation, code)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s := newAccountsStore(t)
	_ = s.Insert(ctx, "accounts", store.Row{"id": "a1", "balance": decimal.NewFromInt(10)})
	_ = s.Insert(ctx, "accounts", store.Row{"id": "a2", "balance": decimal.NewFromInt(20)})

	n, err := s.Update(ctx, "accounts", []store.Filter{store.Eq("id", "a2")}, store.Row{"balance": decimal.NewFromInt(5)})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row updated, got %d", n)
	}

	rows := s.Rows("accounts")
	if !rows[1]["balance"].(decimal.Decimal).Equal(decimal.NewFromInt(5)) {
		t.Errorf("balance not updated: %v", rows[1]["balance"])
	}
}

func TestFailWith(t *testing.T) {
	s := newAccountsStore(t)
	boom := errors.New("permission denied")
	s.FailWith("accounts", boom)

	if _, err := s.Select(context.Background(), store.Query{Table: "accounts"}); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}

	s.FailWith("accounts", nil)
	if _, err := s.Select(context.Background(), store.Query{Table: "accounts"}); err != nil {
		t.Fatalf("expected no error after clearing, got %v", err)
	}
}
