// Package ledger turns stored transactions into canonical ledger entries and
// reconstructs the running balance after each one where the store did not
// keep it.
package ledger

import (
	"time"

	"github.com/dvloznov/multibank/internal/domain"
	"github.com/shopspring/decimal"
)

type balanceKey struct {
	owner domain.ProfileID
	bank  string
}

// Balances holds the current balance per (owner, normalized bank key).
type Balances map[balanceKey]decimal.Decimal

// BalancesFromAccounts seeds Balances from current account balances.
func BalancesFromAccounts(accounts []domain.Account) Balances {
	b := make(Balances, len(accounts))
	for _, a := range accounts {
		b.Set(a.OwnerID, a.Bank.String(), a.Balance)
	}
	return b
}

// Set records the current balance for owner at the bank with label.
func (b Balances) Set(owner domain.ProfileID, label string, balance decimal.Decimal) {
	b[balanceKey{owner: owner, bank: domain.NormalizeBankKey(label)}] = balance
}

// Get returns the balance recorded for owner at the bank with label.
func (b Balances) Get(owner domain.ProfileID, label string) (decimal.Decimal, bool) {
	v, ok := b[balanceKey{owner: owner, bank: domain.NormalizeBankKey(label)}]
	return v, ok
}

// Reconcile derives a ledger entry for every transaction at or after since
// (zero since keeps everything). txs must be ordered newest first, which is
// the order the repository returns them in. current is not modified, so
// reconciling the same input twice gives the same output.
func Reconcile(current Balances, txs []domain.Transaction, since time.Time) []domain.LedgerEntry {
	running := make(map[balanceKey]decimal.Decimal, len(current))
	for k, v := range current {
		running[k] = v
	}

	entries := make([]domain.LedgerEntry, 0, len(txs))
	for _, tx := range txs {
		if !since.IsZero() && tx.OccurredAt.Before(since) {
			continue
		}

		e := Derive(tx)
		effect := SignedAmount(e.Kind, tx.Amount)

		label := replayBank(e)
		if label == "" || domain.NormalizeBankKey(label) == "" {
			if tx.BalanceAfter.Valid {
				e.BalanceAfter = tx.BalanceAfter
				e.BalanceSource = domain.BalanceStored
			}
			entries = append(entries, e)
			continue
		}
		key := balanceKey{owner: tx.OwnerID, bank: domain.NormalizeBankKey(label)}

		switch {
		case tx.BalanceAfter.Valid:
			e.BalanceAfter = tx.BalanceAfter
			e.BalanceSource = domain.BalanceStored
			running[key] = tx.BalanceAfter.Decimal.Sub(effect)
		default:
			if after, ok := running[key]; ok {
				e.BalanceAfter = decimal.NullDecimal{Decimal: after, Valid: true}
				e.BalanceSource = domain.BalanceReplayed
				running[key] = after.Sub(effect)
			}
		}
		entries = append(entries, e)
	}
	return entries
}

// Derive computes the per-transaction fields that do not depend on other
// transactions: kind, counterparty banks and clean amount. BalanceAfter is
// left unknown.
func Derive(tx domain.Transaction) domain.LedgerEntry {
	kind := tx.StoredKind
	if kind == "" {
		switch tx.Amount.Sign() {
		case -1:
			kind = domain.KindExpense
		case 1:
			kind = domain.KindIncome
		default:
			kind = domain.KindOther
		}
	}

	e := domain.LedgerEntry{
		ID:            tx.ID,
		OwnerID:       tx.OwnerID,
		Kind:          kind,
		Amount:        tx.Amount,
		Commission:    tx.Commission.Decimal.Abs(),
		Bank:          tx.Bank,
		SenderBank:    tx.SenderBank,
		RecipientBank: tx.RecipientBank,
		Description:   tx.Description,
		OccurredAt:    tx.OccurredAt,
		BalanceSource: domain.BalanceUnknown,
	}

	if e.SenderBank == "" && kind == domain.KindExpense {
		e.SenderBank = tx.Bank
	}
	if e.RecipientBank == "" && kind == domain.KindIncome {
		e.RecipientBank = tx.Bank
	}

	abs := tx.Amount.Abs()
	switch {
	case tx.StoredNet.Valid:
		e.CleanAmount = tx.StoredNet.Decimal.Abs()
	case kind == domain.KindExpense:
		e.CleanAmount = decimal.Max(abs.Sub(e.Commission), decimal.Zero)
	default:
		e.CleanAmount = abs
	}
	return e
}

// SignedAmount is the effect of a transaction on its account's balance.
// Stored amounts are usually signed already; an explicit kind wins when the
// sign disagrees with it.
func SignedAmount(kind domain.TransactionKind, amount decimal.Decimal) decimal.Decimal {
	switch kind {
	case domain.KindExpense:
		return amount.Abs().Neg()
	case domain.KindIncome:
		return amount.Abs()
	}
	return amount
}

// replayBank picks the bank whose balance the transaction moved: its own
// bank, else the side of the transfer the owner was on.
func replayBank(e domain.LedgerEntry) string {
	if e.Bank != "" {
		return e.Bank
	}
	switch e.Kind {
	case domain.KindExpense:
		return e.SenderBank
	case domain.KindIncome:
		return e.RecipientBank
	}
	return ""
}

// Totals sums the clean amounts of a ledger by kind.
type Totals struct {
	Income     decimal.Decimal `json:"income"`
	Expense    decimal.Decimal `json:"expense"`
	Commission decimal.Decimal `json:"commission"`
}

// Summarize totals entries.
func Summarize(entries []domain.LedgerEntry) Totals {
	var t Totals
	for _, e := range entries {
		switch e.Kind {
		case domain.KindIncome:
			t.Income = t.Income.Add(e.CleanAmount)
		case domain.KindExpense:
			t.Expense = t.Expense.Add(e.CleanAmount)
		}
		t.Commission = t.Commission.Add(e.Commission)
	}
	return t
}
