// Package aggregator composes the read path: authenticated actor, profile,
// accounts, transactions and the reconciled ledger.
package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/multibank/internal/domain"
	"github.com/dvloznov/multibank/internal/ledger"
	"github.com/dvloznov/multibank/internal/logger"
	"github.com/shopspring/decimal"
)

// IdentityResolver returns the authenticated actor.
type IdentityResolver interface {
	Resolve(ctx context.Context) (domain.AuthIdentity, error)
}

// ProfileResolver maps an actor to its profile.
type ProfileResolver interface {
	Resolve(ctx context.Context, id domain.AuthIdentity) (domain.Profile, error)
}

// AccountReader reads accounts and transactions for a profile.
type AccountReader interface {
	ListAccounts(ctx context.Context, owner domain.ProfileID) ([]domain.Account, error)
	ListTransactions(ctx context.Context, owner domain.ProfileID, since time.Time) ([]domain.Transaction, error)
}

// Overview is everything the dashboard shows for one profile.
type Overview struct {
	Profile     domain.Profile       `json:"profile"`
	Accounts    []domain.Account     `json:"accounts"`
	Total       decimal.Decimal      `json:"total"`
	Ledger      []domain.LedgerEntry `json:"ledger"`
	Totals      ledger.Totals        `json:"totals"`
	Since       time.Time            `json:"since"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// Service builds the aggregated read views for the authenticated actor.
type Service struct {
	identity IdentityResolver
	profiles ProfileResolver
	accounts AccountReader
	lookback time.Duration
	now      func() time.Time
}

// NewService creates a Service. lookback bounds the ledger window.
func NewService(identity IdentityResolver, profiles ProfileResolver, accounts AccountReader, lookback time.Duration) *Service {
	return &Service{
		identity: identity,
		profiles: profiles,
		accounts: accounts,
		lookback: lookback,
		now:      time.Now,
	}
}

// Lookback returns the default ledger window.
func (s *Service) Lookback() time.Duration {
	return s.lookback
}

// Identity returns the authenticated actor.
func (s *Service) Identity(ctx context.Context) (domain.AuthIdentity, error) {
	id, err := s.identity.Resolve(ctx)
	if err != nil {
		return domain.AuthIdentity{}, fmt.Errorf("Identity: %w", err)
	}
	return id, nil
}

// CurrentProfile resolves the authenticated actor and its profile.
func (s *Service) CurrentProfile(ctx context.Context) (domain.AuthIdentity, domain.Profile, error) {
	id, err := s.Identity(ctx)
	if err != nil {
		return domain.AuthIdentity{}, domain.Profile{}, err
	}
	p, err := s.profiles.Resolve(ctx, id)
	if err != nil {
		return id, domain.Profile{}, fmt.Errorf("CurrentProfile: %w", err)
	}
	return id, p, nil
}

// Ledger returns the reconciled ledger of owner over lookback, newest first.
// A non-positive lookback uses the default window.
func (s *Service) Ledger(ctx context.Context, owner domain.ProfileID, lookback time.Duration) ([]domain.LedgerEntry, error) {
	accounts, err := s.accounts.ListAccounts(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("Ledger: %w", err)
	}
	entries, _, err := s.ledger(ctx, owner, accounts, s.since(lookback))
	return entries, err
}

// Overview builds the overview of the authenticated actor.
func (s *Service) Overview(ctx context.Context, lookback time.Duration) (Overview, error) {
	_, p, err := s.CurrentProfile(ctx)
	if err != nil {
		return Overview{}, err
	}
	return s.OverviewFor(ctx, p, lookback)
}

// OverviewFor builds the overview of p.
func (s *Service) OverviewFor(ctx context.Context, p domain.Profile, lookback time.Duration) (Overview, error) {
	log := logger.FromContext(ctx)

	accounts, err := s.accounts.ListAccounts(ctx, p.ID)
	if err != nil {
		return Overview{}, fmt.Errorf("OverviewFor: %w", err)
	}

	since := s.since(lookback)
	entries, totals, err := s.ledger(ctx, p.ID, accounts, since)
	if err != nil {
		return Overview{}, err
	}

	total := decimal.Zero
	for _, a := range accounts {
		total = total.Add(a.Balance)
	}

	log.Debug().
		Str("profile_id", string(p.ID)).
		Int("accounts", len(accounts)).
		Int("entries", len(entries)).
		Msg("Built overview")

	return Overview{
		Profile:     p,
		Accounts:    accounts,
		Total:       total,
		Ledger:      entries,
		Totals:      totals,
		Since:       since,
		GeneratedAt: s.now().UTC(),
	}, nil
}

func (s *Service) ledger(ctx context.Context, owner domain.ProfileID, accounts []domain.Account, since time.Time) ([]domain.LedgerEntry, ledger.Totals, error) {
	txs, err := s.accounts.ListTransactions(ctx, owner, since)
	if err != nil {
		return nil, ledger.Totals{}, fmt.Errorf("ledger: %w", err)
	}
	entries := ledger.Reconcile(ledger.BalancesFromAccounts(accounts), txs, since)
	return entries, ledger.Summarize(entries), nil
}

func (s *Service) since(lookback time.Duration) time.Time {
	if lookback <= 0 {
		lookback = s.lookback
	}
	if lookback <= 0 {
		return time.Time{}
	}
	return s.now().UTC().Add(-lookback)
}
