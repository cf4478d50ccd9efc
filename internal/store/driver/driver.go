// Package driver picks a store implementation from a store URL.
package driver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/dvloznov/multibank/internal/store"
	"github.com/dvloznov/multibank/internal/store/bigquery"
	"github.com/dvloznov/multibank/internal/store/memory"
	"github.com/dvloznov/multibank/internal/store/postgres"
)

// Opener returns the store.Opener for rawURL. key is the driver credential.
func Opener(rawURL, key string) (store.Opener, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("Opener: parsing store url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return postgres.Opener(rawURL, key), nil
	case "bigquery":
		return bigquery.Opener(rawURL, key), nil
	case "memory":
		// One instance for the life of the process so a Handle reset keeps
		// the data.
		s := NewMemory()
		return func(context.Context) (store.Store, error) { return s, nil }, nil
	}
	return nil, fmt.Errorf("Opener: unsupported store scheme %q", u.Scheme)
}

// Open returns a lazily connecting Handle for rawURL.
func Open(rawURL, key string) (*store.Handle, error) {
	open, err := Opener(rawURL, key)
	if err != nil {
		return nil, err
	}
	return store.NewHandle(open), nil
}

// NewMemory returns an in-memory store with the current schema.
func NewMemory() *memory.Store {
	s := memory.New()
	s.CreateTable("profiles",
		memory.Column{Name: "id"},
		memory.Column{Name: "auth_user_id"},
		memory.Column{Name: "first_name"},
		memory.Column{Name: "last_name"},
		memory.Column{Name: "phone"},
		memory.Column{Name: "birth_date"},
		memory.Column{Name: "created_at", Type: memory.Timestamp},
	)
	s.CreateTable("accounts",
		memory.Column{Name: "id"},
		memory.Column{Name: "user_id"},
		memory.Column{Name: "bank"},
		memory.Column{Name: "balance", Type: memory.Numeric},
		memory.Column{Name: "created_at", Type: memory.Timestamp},
	)
	s.CreateTable("transactions",
		memory.Column{Name: "id"},
		memory.Column{Name: "user_id"},
		memory.Column{Name: "amount", Type: memory.Numeric},
		memory.Column{Name: "type"},
		memory.Column{Name: "commission", Type: memory.Numeric},
		memory.Column{Name: "bank"},
		memory.Column{Name: "sender_bank"},
		memory.Column{Name: "recipient_bank"},
		memory.Column{Name: "balance_after", Type: memory.Numeric},
		memory.Column{Name: "description"},
		memory.Column{Name: "created_at", Type: memory.Timestamp},
	)
	return s
}
