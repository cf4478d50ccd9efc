package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/multibank/internal/domain"
	"github.com/dvloznov/multibank/internal/logger"
	"github.com/dvloznov/multibank/internal/store"
)

// Historical names of each logical transaction column, current name first.
var (
	colID            = []string{"id", "transaction_id"}
	colOwner         = []string{"user_id", "profile_id", "owner_id"}
	colAmount        = []string{"amount", "sum"}
	colKind          = []string{"type", "transaction_type"}
	colCommission    = []string{"commission", "fee"}
	colNet           = []string{"clean_amount", "net_amount"}
	colBank          = []string{"bank", "bank_name"}
	colSenderBank    = []string{"sender_bank", "from_bank"}
	colRecipientBank = []string{"recipient_bank", "to_bank"}
	colBalanceAfter  = []string{"balance_after", "balance"}
	colOccurredAt    = []string{"created_at", "date", "occurred_at"}
	colDescription   = []string{"description", "title", "comment"}
)

// Normalize maps a raw transaction row, in any of the known column
// namings, onto a domain.Transaction. The amount is the only required field.
func Normalize(r store.Row) (domain.Transaction, error) {
	amount, err := r.Decimal(colAmount...)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("Normalize: %w", err)
	}
	if !amount.Valid {
		return domain.Transaction{}, fmt.Errorf("Normalize: missing required field %q", colAmount[0])
	}

	commission, err := r.Decimal(colCommission...)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("Normalize: %w", err)
	}
	net, err := r.Decimal(colNet...)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("Normalize: %w", err)
	}
	balanceAfter, err := r.Decimal(colBalanceAfter...)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("Normalize: %w", err)
	}
	occurredAt, err := r.Time(colOccurredAt...)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("Normalize: %w", err)
	}

	tx := domain.Transaction{
		ID:            r.String(colID...),
		OwnerID:       domain.ProfileID(r.String(colOwner...)),
		Amount:        amount.Decimal,
		Commission:    commission,
		StoredNet:     net,
		Bank:          r.String(colBank...),
		SenderBank:    r.String(colSenderBank...),
		RecipientBank: r.String(colRecipientBank...),
		Description:   r.String(colDescription...),
		OccurredAt:    occurredAt,
		BalanceAfter:  balanceAfter,
	}
	if kind, ok := domain.ParseKind(strings.ToLower(r.String(colKind...))); ok {
		tx.StoredKind = kind
	}
	return tx, nil
}

// NormalizeRows normalizes rows in order. Rows that cannot be read are
// skipped with a warning so one bad record does not hide the rest.
func NormalizeRows(ctx context.Context, rows []store.Row) []domain.Transaction {
	log := logger.FromContext(ctx)

	out := make([]domain.Transaction, 0, len(rows))
	for i, r := range rows {
		tx, err := Normalize(r)
		if err != nil {
			log.Warn().Err(err).Int("row", i).Str("transaction_id", r.String(colID...)).Msg("Skipping unreadable transaction row")
			continue
		}
		out = append(out, tx)
	}
	return out
}
