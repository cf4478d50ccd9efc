package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/multibank/internal/domain"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()

	id, err := Static{Identity: domain.AuthIdentity{ID: "u1"}}.CurrentUser(ctx)
	if err != nil || id == nil || id.ID != "u1" {
		t.Errorf("CurrentUser = %v, %v", id, err)
	}
	id, err = Static{}.CurrentUser(ctx)
	if err != nil || id != nil {
		t.Errorf("empty Static should report no user, got %v, %v", id, err)
	}
}

func TestBearerIdentity(t *testing.T) {
	var c BearerIdentity

	if _, err := c.CurrentUser(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken, got %v", err)
	}

	ctx := WithToken(context.Background(), "dev-user")
	id, err := c.CurrentUser(ctx)
	if err != nil || id.ID != "dev-user" {
		t.Errorf("CurrentUser = %v, %v", id, err)
	}
	sess, err := c.CurrentSession(ctx)
	if err != nil || sess.User.ID != "dev-user" || sess.AccessToken != "dev-user" {
		t.Errorf("CurrentSession = %+v, %v", sess, err)
	}
}
