package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/multibank/internal/domain"
	"github.com/dvloznov/multibank/internal/logger"
	"github.com/dvloznov/multibank/internal/retry"
)

const (
	// DefaultRetries is the number of retries after the first attempt.
	DefaultRetries = 2
	// DefaultBaseDelay is the wait before the first retry; later retries
	// wait linearly longer.
	DefaultBaseDelay = 200 * time.Millisecond
)

// Session is a locally held session as reported by the auth subsystem.
type Session struct {
	AccessToken string
	User        domain.AuthIdentity
	ExpiresAt   time.Time
}

// Client reads the authenticated actor from the auth subsystem.
type Client interface {
	// CurrentUser asks the auth subsystem for the user behind the session.
	CurrentUser(ctx context.Context) (*domain.AuthIdentity, error)

	// CurrentSession returns the locally known session. It can be populated
	// before CurrentUser stabilizes.
	CurrentSession(ctx context.Context) (*Session, error)
}

var errNotVisible = errors.New("auth identity not visible yet")

// Resolver obtains the authenticated actor, tolerating the delay between
// sign-in and the identity becoming visible. It keeps no state between calls.
type Resolver struct {
	client Client
	policy retry.Policy
}

// Options configures a Resolver. Nil Retries and zero BaseDelay take the
// defaults; a Retries of 0 makes a single attempt.
type Options struct {
	Retries   *int
	BaseDelay time.Duration
	Sleep     func(ctx context.Context, d time.Duration) error
}

// NewResolver creates a Resolver over client.
func NewResolver(client Client, opts Options) *Resolver {
	retries := DefaultRetries
	if opts.Retries != nil && *opts.Retries >= 0 {
		retries = *opts.Retries
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	return &Resolver{
		client: client,
		policy: retry.Policy{
			MaxRetries: retries,
			Backoff:    retry.Linear(opts.BaseDelay),
			Retryable:  retryable,
			Sleep:      opts.Sleep,
		},
	}
}

// retryable stops at a token the auth service refused.
func retryable(err error) bool {
	return retry.Always(err) && !errors.Is(err, ErrRejected)
}

// Resolve returns the authenticated actor. Each attempt tries the direct user
// read, then the session. When every attempt comes back empty, or the token is
// rejected, it fails with a *domain.IdentityUnavailableError carrying the last
// underlying error.
func (r *Resolver) Resolve(ctx context.Context) (domain.AuthIdentity, error) {
	log := logger.FromContext(ctx)

	var (
		found    domain.AuthIdentity
		lastErr  error
		attempts int
	)
	err := r.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		id, ok, err := r.attempt(ctx)
		if ok {
			found = id
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			lastErr = err
		}
		if errors.Is(err, ErrRejected) {
			return err
		}
		log.Debug().Err(err).Int("attempt", attempt).Msg("Auth identity not visible yet")
		return errNotVisible
	})
	if err == nil {
		return found, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.AuthIdentity{}, err
	}

	return domain.AuthIdentity{}, &domain.IdentityUnavailableError{Attempts: attempts, Err: lastErr}
}

// attempt performs one user read and, failing that, one session read. The
// returned error is the most relevant underlying failure, if any.
func (r *Resolver) attempt(ctx context.Context) (domain.AuthIdentity, bool, error) {
	user, userErr := r.client.CurrentUser(ctx)
	if userErr == nil && user != nil && user.ID != "" {
		return *user, true, nil
	}
	if errors.Is(userErr, ErrRejected) {
		return domain.AuthIdentity{}, false, fmt.Errorf("current user: %w", userErr)
	}
	if ctx.Err() != nil {
		return domain.AuthIdentity{}, false, userErr
	}

	sess, sessErr := r.client.CurrentSession(ctx)
	if sessErr == nil && sess != nil && sess.User.ID != "" {
		log := logger.FromContext(ctx)
		log.Debug().Msg("Auth identity resolved from session")
		return sess.User, true, nil
	}

	if userErr != nil {
		return domain.AuthIdentity{}, false, fmt.Errorf("current user: %w", userErr)
	}
	if sessErr != nil {
		return domain.AuthIdentity{}, false, fmt.Errorf("current session: %w", sessErr)
	}
	return domain.AuthIdentity{}, false, nil
}
