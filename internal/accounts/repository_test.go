package accounts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/multibank/internal/domain"
	"github.com/dvloznov/multibank/internal/store"
	"github.com/dvloznov/multibank/internal/store/memory"
	"github.com/shopspring/decimal"
)

const owner = domain.ProfileID("900105-123456")

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func columns(names ...string) []memory.Column {
	out := make([]memory.Column, 0, len(names))
	for _, n := range names {
		out = append(out, memory.Column{Name: n})
	}
	return out
}

// newStore declares the current accounts and transactions tables.
func newStore() *memory.Store {
	s := memory.New()
	s.CreateTable(accountsTable, columns("id", "user_id", "bank", "balance", "created_at")...)
	s.CreateTable(transactionsTable, columns(
		"id", "user_id", "amount", "type", "commission", "bank", "sender_bank",
		"recipient_bank", "balance_after", "created_at", "description")...)
	return s
}

func insert(t *testing.T, s *memory.Store, table string, row store.Row) {
	t.Helper()
	if err := s.Insert(context.Background(), table, row); err != nil {
		t.Fatalf("seeding %s: %v", table, err)
	}
}

func TestListAccounts_CurrentSchema(t *testing.T) {
	s := newStore()
	insert(t, s, accountsTable, store.Row{"id": "900105-123456-halyk", "user_id": string(owner), "bank": "Halyk Bank", "balance": "500"})
	insert(t, s, accountsTable, store.Row{"id": "900105-123456-kaspi", "user_id": string(owner), "bank": "Kaspi Bank", "balance": "100000"})
	insert(t, s, accountsTable, store.Row{"id": "other-kaspi", "user_id": "someone", "bank": "Kaspi Bank", "balance": "1"})

	accounts, err := NewRepository(s).ListAccounts(context.Background(), owner)
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(accounts))
	}
	if accounts[0].Bank != domain.BankKaspi || accounts[1].Bank != domain.BankHalyk {
		t.Errorf("expected display order Kaspi, Halyk; got %s, %s", accounts[0].Bank, accounts[1].Bank)
	}
	if !accounts[0].Balance.Equal(dec("100000")) {
		t.Errorf("unexpected balance %s", accounts[0].Balance)
	}
}

func TestListAccounts_LegacySchemas(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		row     store.Row
	}{
		{
			name:    "profile_id",
			columns: []string{"id", "profile_id", "bank", "balance", "created_at"},
			row:     store.Row{"id": "a1", "profile_id": string(owner), "bank": "kaspi", "balance": 250},
		},
		{
			name:    "owner_id",
			columns: []string{"id", "owner_id", "bank_name", "amount", "created_at"},
			row:     store.Row{"id": "a1", "owner_id": string(owner), "bank_name": "Kaspi Bank", "amount": "250"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memory.New()
			s.CreateTable(accountsTable, columns(tt.columns...)...)
			insert(t, s, accountsTable, tt.row)

			accounts, err := NewRepository(s).ListAccounts(context.Background(), owner)
			if err != nil {
				t.Fatalf("ListAccounts failed: %v", err)
			}
			if len(accounts) != 1 || accounts[0].Bank != domain.BankKaspi || !accounts[0].Balance.Equal(dec("250")) {
				t.Errorf("unexpected accounts %+v", accounts)
			}
		})
	}
}

func TestListAccounts_OnePerBank(t *testing.T) {
	s := newStore()
	insert(t, s, accountsTable, store.Row{"id": "legacy-1", "user_id": string(owner), "bank": "Kaspi Bank", "balance": "10"})
	insert(t, s, accountsTable, store.Row{"id": "900105-123456-kaspi", "user_id": string(owner), "bank": "kaspi", "balance": "20"})
	insert(t, s, accountsTable, store.Row{"id": "legacy-2", "user_id": string(owner), "bank": "KASPI", "balance": "30"})
	insert(t, s, accountsTable, store.Row{"id": "legacy-3", "user_id": string(owner), "bank": "Monzo", "balance": "40"})

	accounts, err := NewRepository(s).ListAccounts(context.Background(), owner)
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %+v", accounts)
	}
	if accounts[0].ID != "900105-123456-kaspi" {
		t.Errorf("expected deterministic account to win, got %s", accounts[0].ID)
	}
}

func TestListAccounts_NoKnownSchema(t *testing.T) {
	s := memory.New()
	s.CreateTable(accountsTable, columns("id", "holder", "bank", "balance")...)

	_, err := NewRepository(s).ListAccounts(context.Background(), owner)
	if !errors.Is(err, domain.ErrSchemaExhausted) {
		t.Fatalf("expected ErrSchemaExhausted, got %v", err)
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	_, err := NewRepository(newStore()).GetAccount(context.Background(), owner, domain.BankKaspi)
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestInsertAccount_Duplicate(t *testing.T) {
	repo := NewRepository(newStore())
	a := domain.Account{ID: domain.AccountID(owner, domain.BankKaspi), OwnerID: owner, Bank: domain.BankKaspi, Balance: dec("1")}

	if err := repo.InsertAccount(context.Background(), a); err != nil {
		t.Fatalf("InsertAccount failed: %v", err)
	}
	if err := repo.InsertAccount(context.Background(), a); !errors.Is(err, domain.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestUpdateBalance(t *testing.T) {
	s := memory.New()
	s.CreateTable(accountsTable, columns("id", "owner_id", "bank_name", "amount")...)
	insert(t, s, accountsTable, store.Row{"id": "a1", "owner_id": string(owner), "bank_name": "Kaspi Bank", "amount": "10"})
	repo := NewRepository(s)

	if err := repo.UpdateBalance(context.Background(), "a1", dec("42")); err != nil {
		t.Fatalf("UpdateBalance failed: %v", err)
	}
	a, err := repo.GetAccount(context.Background(), owner, domain.BankKaspi)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if !a.Balance.Equal(dec("42")) {
		t.Errorf("expected 42, got %s", a.Balance)
	}

	if err := repo.UpdateBalance(context.Background(), "missing", dec("1")); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestListTransactions_WindowAndOrder(t *testing.T) {
	s := newStore()
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	for i, age := range []int{40, 1, 10, 3} {
		insert(t, s, transactionsTable, store.Row{
			"id":         []string{"old", "newest", "older", "newer"}[i],
			"user_id":    string(owner),
			"amount":     "-100",
			"bank":       "Kaspi Bank",
			"created_at": now.AddDate(0, 0, -age),
		})
	}

	txs, err := NewRepository(s).ListTransactions(context.Background(), owner, now.AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	var ids []string
	for _, tx := range txs {
		ids = append(ids, tx.ID)
	}
	want := []string{"newest", "newer", "older"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}

func TestListTransactions_DateColumnVariant(t *testing.T) {
	s := memory.New()
	s.CreateTable(transactionsTable, columns("id", "user_id", "sum", "bank_name", "date")...)
	when := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	insert(t, s, transactionsTable, store.Row{"id": "t1", "user_id": string(owner), "sum": 5, "bank_name": "Halyk", "date": when})

	txs, err := NewRepository(s).ListTransactions(context.Background(), owner, when.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txs) != 1 || txs[0].OwnerID != owner || !txs[0].OccurredAt.Equal(when) {
		t.Errorf("unexpected transactions %+v", txs)
	}
}

func TestListTransactions_FatalErrorNotMasked(t *testing.T) {
	s := newStore()
	denied := &store.Error{Code: "42501", Message: "permission denied for table transactions"}
	s.FailWith(transactionsTable, denied)

	_, err := NewRepository(s).ListTransactions(context.Background(), owner, time.Time{})
	if store.CodeOf(err) != "42501" {
		t.Fatalf("expected permission error, got %v", err)
	}
	if errors.Is(err, domain.ErrSchemaExhausted) {
		t.Error("fatal error must not be reported as exhaustion")
	}
}
