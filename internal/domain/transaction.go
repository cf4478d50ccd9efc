package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind classifies a transaction from the owner's point of view.
type TransactionKind string

const (
	KindIncome  TransactionKind = "income"
	KindExpense TransactionKind = "expense"
	KindOther   TransactionKind = "other"
)

// ParseKind maps a stored type value to a kind. Only income and expense are
// recognized as explicit stored types; anything else reports ok=false.
func ParseKind(s string) (TransactionKind, bool) {
	switch TransactionKind(s) {
	case KindIncome, KindExpense:
		return TransactionKind(s), true
	}
	return "", false
}

// Transaction is a recorded transaction as read from the store, after column
// variants have been mapped onto one shape. Transactions are immutable: this
// layer only derives fields from them.
type Transaction struct {
	ID            string
	OwnerID       ProfileID
	Amount        decimal.Decimal // signed; negative is money leaving the account
	StoredKind    TransactionKind // empty when no explicit type was stored
	Commission    decimal.NullDecimal
	StoredNet     decimal.NullDecimal
	Bank          string // raw stored label, may be empty
	SenderBank    string
	RecipientBank string
	Description   string
	OccurredAt    time.Time
	BalanceAfter  decimal.NullDecimal
}

// BalanceSource tells where an entry's BalanceAfter came from.
type BalanceSource string

const (
	BalanceStored   BalanceSource = "stored"
	BalanceReplayed BalanceSource = "replayed"
	BalanceUnknown  BalanceSource = "unknown"
)

// LedgerEntry is the canonical, derived view of a transaction. Derived fields
// are recomputed on every read and never persisted.
type LedgerEntry struct {
	ID            string              `json:"id"`
	OwnerID       ProfileID           `json:"owner_id"`
	Kind          TransactionKind     `json:"kind"`
	Amount        decimal.Decimal     `json:"amount"`
	Commission    decimal.Decimal     `json:"commission"`
	CleanAmount   decimal.Decimal     `json:"clean_amount"`
	Bank          string              `json:"bank,omitempty"`
	SenderBank    string              `json:"sender_bank,omitempty"`
	RecipientBank string              `json:"recipient_bank,omitempty"`
	Description   string              `json:"description,omitempty"`
	OccurredAt    time.Time           `json:"occurred_at"`
	BalanceAfter  decimal.NullDecimal `json:"balance_after"`
	BalanceSource BalanceSource       `json:"balance_source"`
}
