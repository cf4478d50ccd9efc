package auth

import (
	"context"

	"github.com/dvloznov/multibank/internal/domain"
)

// Static is a Client that always reports the same actor. The CLI uses it to
// act on behalf of a known auth identity against a development store.
type Static struct {
	Identity domain.AuthIdentity
}

// CurrentUser implements Client.
func (s Static) CurrentUser(ctx context.Context) (*domain.AuthIdentity, error) {
	if s.Identity.ID == "" {
		return nil, nil
	}
	id := s.Identity
	return &id, nil
}

// CurrentSession implements Client.
func (s Static) CurrentSession(ctx context.Context) (*Session, error) {
	if s.Identity.ID == "" {
		return nil, nil
	}
	return &Session{User: s.Identity}, nil
}

var _ Client = Static{}

// BearerIdentity is a development Client that takes the bearer token in the
// context as the auth user ID. It is used when no auth service is configured.
type BearerIdentity struct{}

// CurrentUser implements Client.
func (BearerIdentity) CurrentUser(ctx context.Context) (*domain.AuthIdentity, error) {
	token, ok := TokenFromContext(ctx)
	if !ok {
		return nil, ErrNoToken
	}
	return &domain.AuthIdentity{ID: token}, nil
}

// CurrentSession implements Client.
func (b BearerIdentity) CurrentSession(ctx context.Context) (*Session, error) {
	id, err := b.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	token, _ := TokenFromContext(ctx)
	return &Session{AccessToken: token, User: *id}, nil
}

var _ Client = BearerIdentity{}
