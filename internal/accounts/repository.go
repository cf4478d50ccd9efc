// Package accounts reads and writes accounts and their transactions across
// every historical naming of the accounts and transactions tables, and
// implements the money-moving operations built on them.
package accounts

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dvloznov/multibank/internal/domain"
	"github.com/dvloznov/multibank/internal/ledger"
	"github.com/dvloznov/multibank/internal/logger"
	"github.com/dvloznov/multibank/internal/queryexec"
	"github.com/dvloznov/multibank/internal/store"
	"github.com/shopspring/decimal"
)

const (
	accountsTable     = "accounts"
	transactionsTable = "transactions"
)

// accountLayout is one historical naming of the accounts table.
type accountLayout struct {
	name    string
	owner   string
	bank    string
	balance string
}

// accountLayouts is ordered current first.
var accountLayouts = []accountLayout{
	{name: "user_id", owner: "user_id", bank: "bank", balance: "balance"},
	{name: "profile_id", owner: "profile_id", bank: "bank", balance: "balance"},
	{name: "owner_id", owner: "owner_id", bank: "bank_name", balance: "amount"},
}

// transactionLayout is one historical naming of the transactions table.
type transactionLayout struct {
	name  string
	owner string
	time  string
}

// transactionLayouts is ordered current first.
var transactionLayouts = []transactionLayout{
	{name: "user_id/created_at", owner: "user_id", time: "created_at"},
	{name: "user_id/date", owner: "user_id", time: "date"},
	{name: "profile_id/created_at", owner: "profile_id", time: "created_at"},
}

// Repository is the account and transaction store.
type Repository struct {
	store store.Store
}

// NewRepository creates a Repository over s.
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// ListAccounts returns owner's accounts, one per bank, in bank display order.
// When the store holds several rows for one bank, the row with the
// deterministic ID wins, else the first one returned.
func (r *Repository) ListAccounts(ctx context.Context, owner domain.ProfileID) ([]domain.Account, error) {
	log := logger.FromContext(ctx)

	queries := make([]queryexec.NamedQuery, 0, len(accountLayouts))
	for _, l := range accountLayouts {
		queries = append(queries, queryexec.NamedQuery{
			Name: l.name,
			Query: store.Query{
				Table:   accountsTable,
				Filters: []store.Filter{store.Eq(l.owner, string(owner))},
			},
		})
	}

	res, err := queryexec.Select(ctx, r.store, queryexec.IsSchemaError, queries...)
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: owner %s: %w", owner, err)
	}

	byBank := make(map[domain.Bank]domain.Account)
	for _, row := range res.Value {
		a, err := accountFromRow(owner, row)
		if err != nil {
			log.Warn().Err(err).Str("account_id", row.String("id")).Msg("Skipping unreadable account row")
			continue
		}
		existing, seen := byBank[a.Bank]
		if seen && existing.ID == domain.AccountID(owner, a.Bank) {
			continue
		}
		if seen && a.ID != domain.AccountID(owner, a.Bank) {
			continue
		}
		byBank[a.Bank] = a
	}

	accounts := make([]domain.Account, 0, len(byBank))
	for _, b := range domain.Banks {
		if a, ok := byBank[b]; ok {
			accounts = append(accounts, a)
		}
	}
	return accounts, nil
}

// GetAccount returns owner's account at bank.
func (r *Repository) GetAccount(ctx context.Context, owner domain.ProfileID, bank domain.Bank) (domain.Account, error) {
	accounts, err := r.ListAccounts(ctx, owner)
	if err != nil {
		return domain.Account{}, err
	}
	for _, a := range accounts {
		if a.Bank == bank {
			return a, nil
		}
	}
	return domain.Account{}, fmt.Errorf("GetAccount: %s at %s: %w", owner, bank, domain.ErrAccountNotFound)
}

// InsertAccount stores a new account row.
func (r *Repository) InsertAccount(ctx context.Context, a domain.Account) error {
	variants := make([]queryexec.Variant[struct{}], 0, len(accountLayouts))
	for _, l := range accountLayouts {
		row := store.Row{
			"id":         a.ID,
			l.owner:      string(a.OwnerID),
			l.bank:       a.Bank.String(),
			l.balance:    a.Balance,
			"created_at": a.CreatedAt,
		}
		variants = append(variants, queryexec.Variant[struct{}]{
			Name: l.name,
			Run: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, r.store.Insert(ctx, accountsTable, row)
			},
		})
	}

	if _, err := queryexec.Execute(ctx, queryexec.IsSchemaError, variants); err != nil {
		if store.CodeOf(err) == store.CodeUniqueViolation {
			return fmt.Errorf("InsertAccount: %s: %w", a.ID, domain.ErrAccountExists)
		}
		return fmt.Errorf("InsertAccount: %s: %w", a.ID, err)
	}
	return nil
}

// UpdateBalance sets the balance of the account with id.
func (r *Repository) UpdateBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	columns := []string{"balance", "amount"}
	variants := make([]queryexec.Variant[int64], 0, len(columns))
	for _, c := range columns {
		variants = append(variants, queryexec.Variant[int64]{
			Name: c,
			Run: func(ctx context.Context) (int64, error) {
				return r.store.Update(ctx, accountsTable,
					[]store.Filter{store.Eq("id", id)},
					store.Row{c: balance})
			},
		})
	}

	res, err := queryexec.Execute(ctx, queryexec.IsSchemaError, variants)
	if err != nil {
		return fmt.Errorf("UpdateBalance: %s: %w", id, err)
	}
	if res.Value == 0 {
		return fmt.Errorf("UpdateBalance: %s: %w", id, domain.ErrAccountNotFound)
	}
	return nil
}

// ListTransactions returns owner's transactions at or after since, newest
// first. A zero since returns the full history.
func (r *Repository) ListTransactions(ctx context.Context, owner domain.ProfileID, since time.Time) ([]domain.Transaction, error) {
	queries := make([]queryexec.NamedQuery, 0, len(transactionLayouts))
	for _, l := range transactionLayouts {
		filters := []store.Filter{store.Eq(l.owner, string(owner))}
		if !since.IsZero() {
			filters = append(filters, store.Gte(l.time, since))
		}
		queries = append(queries, queryexec.NamedQuery{
			Name: l.name,
			Query: store.Query{
				Table:      transactionsTable,
				Filters:    filters,
				OrderBy:    l.time,
				Descending: true,
			},
		})
	}

	res, err := queryexec.Select(ctx, r.store, queryexec.IsSchemaError, queries...)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: owner %s: %w", owner, err)
	}

	txs := ledger.NormalizeRows(ctx, res.Value)
	for i := range txs {
		if txs[i].OwnerID == "" {
			txs[i].OwnerID = owner
		}
	}
	// Reconciliation needs newest first regardless of driver ordering.
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].OccurredAt.After(txs[j].OccurredAt)
	})
	return txs, nil
}

// InsertTransaction stores tx.
func (r *Repository) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	variants := make([]queryexec.Variant[struct{}], 0, len(transactionLayouts))
	for _, l := range transactionLayouts {
		row := store.Row{
			"id":             tx.ID,
			l.owner:          string(tx.OwnerID),
			"amount":         tx.Amount,
			"type":           string(tx.StoredKind),
			"bank":           tx.Bank,
			"sender_bank":    tx.SenderBank,
			"recipient_bank": tx.RecipientBank,
			"description":    tx.Description,
			l.time:           tx.OccurredAt,
		}
		if tx.Commission.Valid {
			row["commission"] = tx.Commission.Decimal
		}
		if tx.BalanceAfter.Valid {
			row["balance_after"] = tx.BalanceAfter.Decimal
		}
		variants = append(variants, queryexec.Variant[struct{}]{
			Name: l.name,
			Run: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, r.store.Insert(ctx, transactionsTable, row)
			},
		})
	}

	if _, err := queryexec.Execute(ctx, queryexec.IsSchemaError, variants); err != nil {
		return fmt.Errorf("InsertTransaction: %s: %w", tx.ID, err)
	}
	return nil
}

func accountFromRow(owner domain.ProfileID, row store.Row) (domain.Account, error) {
	bank, err := domain.ParseBank(row.String("bank", "bank_name"))
	if err != nil {
		return domain.Account{}, err
	}
	balance, err := row.Decimal("balance", "amount")
	if err != nil {
		return domain.Account{}, err
	}
	created, err := row.Time("created_at")
	if err != nil {
		return domain.Account{}, err
	}

	id := row.String("id")
	if id == "" {
		id = domain.AccountID(owner, bank)
	}
	return domain.Account{
		ID:        id,
		OwnerID:   owner,
		Bank:      bank,
		Balance:   balance.Decimal,
		CreatedAt: created,
	}, nil
}
