package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/multibank/internal/domain"
	"github.com/dvloznov/multibank/internal/events"
	"github.com/dvloznov/multibank/internal/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service moves money between accounts and opens new ones. It does not make
// multi-row writes atomic: a failure part-way through a transfer is returned
// as is and nothing is rolled back.
type Service struct {
	repo      *Repository
	publisher events.Publisher
	now       func() time.Time
	newID     func() string
}

// NewService creates a Service. publisher may be nil.
func NewService(repo *Repository, publisher events.Publisher) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Accounts returns owner's accounts.
func (s *Service) Accounts(ctx context.Context, owner domain.ProfileID) ([]domain.Account, error) {
	return s.repo.ListAccounts(ctx, owner)
}

// OpenAccount opens owner's account at bank with an opening balance.
func (s *Service) OpenAccount(ctx context.Context, owner domain.ProfileID, bank domain.Bank, opening decimal.Decimal) (domain.Account, error) {
	log := logger.FromContext(ctx)

	if !bank.Valid() {
		return domain.Account{}, fmt.Errorf("OpenAccount: %w: %q", domain.ErrUnknownBank, bank)
	}
	if opening.IsNegative() {
		return domain.Account{}, fmt.Errorf("OpenAccount: %w: negative opening balance", domain.ErrInvalidAmount)
	}

	_, err := s.repo.GetAccount(ctx, owner, bank)
	if err == nil {
		return domain.Account{}, fmt.Errorf("OpenAccount: %s at %s: %w", owner, bank, domain.ErrAccountExists)
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return domain.Account{}, fmt.Errorf("OpenAccount: %w", err)
	}

	a := domain.Account{
		ID:        domain.AccountID(owner, bank),
		OwnerID:   owner,
		Bank:      bank,
		Balance:   opening,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.InsertAccount(ctx, a); err != nil {
		return domain.Account{}, fmt.Errorf("OpenAccount: %w", err)
	}

	log.Info().
		Str("profile_id", string(owner)).
		Str("account_id", a.ID).
		Str("balance", opening.String()).
		Msg("Opened account")

	events.Notify(ctx, s.publisher, events.AccountsChanged{
		ProfileIDs: []domain.ProfileID{owner},
		Reason:     "account_opened",
		At:         a.CreatedAt,
	})
	return a, nil
}

// TransferRequest describes a transfer from one of the caller's accounts.
type TransferRequest struct {
	FromBank    domain.Bank      `json:"from_bank"`
	To          domain.ProfileID `json:"to,omitempty"` // empty means the caller
	ToBank      domain.Bank      `json:"to_bank"`
	Amount      decimal.Decimal  `json:"amount"`
	Commission  decimal.Decimal  `json:"commission"`
	Description string           `json:"description,omitempty"`
}

// TransferResult carries the updated accounts and the recorded transactions.
type TransferResult struct {
	From   domain.Account     `json:"from"`
	To     domain.Account     `json:"to"`
	Debit  domain.Transaction `json:"-"`
	Credit domain.Transaction `json:"-"`
}

// Transfer debits amount plus commission from owner's account at
// req.FromBank and credits amount to the destination account. Both sides get
// a transaction with its stored balance after.
func (s *Service) Transfer(ctx context.Context, owner domain.ProfileID, req TransferRequest) (TransferResult, error) {
	log := logger.FromContext(ctx)

	if !req.Amount.IsPositive() {
		return TransferResult{}, fmt.Errorf("Transfer: %w: amount must be positive", domain.ErrInvalidAmount)
	}
	if req.Commission.IsNegative() {
		return TransferResult{}, fmt.Errorf("Transfer: %w: negative commission", domain.ErrInvalidAmount)
	}
	to := req.To
	if to == "" {
		to = owner
	}
	if to == owner && req.FromBank == req.ToBank {
		return TransferResult{}, fmt.Errorf("Transfer: %w: source and destination are the same account", domain.ErrInvalidAmount)
	}

	from, err := s.repo.GetAccount(ctx, owner, req.FromBank)
	if err != nil {
		return TransferResult{}, fmt.Errorf("Transfer: source: %w", err)
	}
	dest, err := s.repo.GetAccount(ctx, to, req.ToBank)
	if err != nil {
		return TransferResult{}, fmt.Errorf("Transfer: destination: %w", err)
	}

	total := req.Amount.Add(req.Commission)
	if from.Balance.LessThan(total) {
		return TransferResult{}, fmt.Errorf("Transfer: %s has %s, needs %s: %w", from.ID, from.Balance, total, domain.ErrInsufficientFunds)
	}

	from.Balance = from.Balance.Sub(total)
	dest.Balance = dest.Balance.Add(req.Amount)
	if err := s.repo.UpdateBalance(ctx, from.ID, from.Balance); err != nil {
		return TransferResult{}, fmt.Errorf("Transfer: debit: %w", err)
	}
	if err := s.repo.UpdateBalance(ctx, dest.ID, dest.Balance); err != nil {
		return TransferResult{}, fmt.Errorf("Transfer: credit: %w", err)
	}

	now := s.now().UTC()
	description := strings.TrimSpace(req.Description)
	debit := domain.Transaction{
		ID:            s.newID(),
		OwnerID:       owner,
		Amount:        total.Neg(),
		StoredKind:    domain.KindExpense,
		Commission:    decimal.NewNullDecimal(req.Commission),
		Bank:          from.Bank.String(),
		SenderBank:    from.Bank.String(),
		RecipientBank: dest.Bank.String(),
		Description:   description,
		OccurredAt:    now,
		BalanceAfter:  decimal.NewNullDecimal(from.Balance),
	}
	credit := domain.Transaction{
		ID:            s.newID(),
		OwnerID:       to,
		Amount:        req.Amount,
		StoredKind:    domain.KindIncome,
		Bank:          dest.Bank.String(),
		SenderBank:    from.Bank.String(),
		RecipientBank: dest.Bank.String(),
		Description:   description,
		OccurredAt:    now,
		BalanceAfter:  decimal.NewNullDecimal(dest.Balance),
	}
	if err := s.repo.InsertTransaction(ctx, debit); err != nil {
		return TransferResult{}, fmt.Errorf("Transfer: recording debit: %w", err)
	}
	if err := s.repo.InsertTransaction(ctx, credit); err != nil {
		return TransferResult{}, fmt.Errorf("Transfer: recording credit: %w", err)
	}

	log.Info().
		Str("from", from.ID).
		Str("to", dest.ID).
		Str("amount", req.Amount.String()).
		Str("commission", req.Commission.String()).
		Msg("Transfer completed")

	changed := []domain.ProfileID{owner}
	if to != owner {
		changed = append(changed, to)
	}
	events.Notify(ctx, s.publisher, events.AccountsChanged{
		ProfileIDs: changed,
		Reason:     "transfer",
		At:         now,
	})

	return TransferResult{From: from, To: dest, Debit: debit, Credit: credit}, nil
}
