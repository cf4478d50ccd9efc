package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a bank account owned by exactly one profile. There is at most
// one account per (owner, bank) pair.
type Account struct {
	ID        string          `json:"id"`
	OwnerID   ProfileID       `json:"owner_id"`
	Bank      Bank            `json:"bank"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
}

// AccountID derives the deterministic account identifier for (owner, bank).
func AccountID(owner ProfileID, bank Bank) string {
	return string(owner) + "-" + bank.Code()
}
