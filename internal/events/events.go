// Package events carries the "accounts changed" signal from code that moves
// money to whatever presents balances, so it can re-fetch.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/multibank/internal/domain"
	"github.com/dvloznov/multibank/internal/logger"
)

// AccountsChanged says the balances of the listed profiles changed.
type AccountsChanged struct {
	ProfileIDs []domain.ProfileID `json:"profile_ids"`
	Reason     string             `json:"reason"`
	At         time.Time          `json:"at"`
}

// Concerns reports whether the event touches profile.
func (e AccountsChanged) Concerns(profile domain.ProfileID) bool {
	for _, id := range e.ProfileIDs {
		if id == profile {
			return true
		}
	}
	return false
}

// Publisher delivers AccountsChanged notifications. Delivery is best effort:
// callers log a failed publish and carry on.
type Publisher interface {
	Publish(ctx context.Context, e AccountsChanged) error
}

// Multi fans an event out to several publishers.
type Multi []Publisher

// Publish implements Publisher. Every publisher is tried; errors are joined.
func (m Multi) Publish(ctx context.Context, e AccountsChanged) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, AccountsChanged) error { return nil }

// Notify publishes e and logs, rather than returns, a failure.
func Notify(ctx context.Context, p Publisher, e AccountsChanged) {
	if p == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := p.Publish(ctx, e); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("reason", e.Reason).Msg("Failed to publish accounts changed")
	}
}
