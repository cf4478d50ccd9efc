package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/multibank/internal/domain"
	"github.com/dvloznov/multibank/internal/logger"
	"github.com/dvloznov/multibank/internal/queryexec"
	"github.com/dvloznov/multibank/internal/store"
)

// errNoMatch lets an empty lookup fall through to the next identity scheme.
var errNoMatch = errors.New("no matching profile")

// Resolver maps an auth identity to the durable profile it belongs to. It
// supports the column-linked scheme and the legacy scheme in which the
// profile ID is the auth ID itself.
type Resolver struct {
	store store.Store
}

// NewResolver creates a Resolver over s.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// linkMissing reports whether err says the link column itself is missing.
// Schema errors about any other column are not a reason to fall back.
func linkMissing(err error) bool {
	if !queryexec.IsSchemaError(err) {
		return false
	}
	var se *store.Error
	if errors.As(err, &se) && se.Column == LinkColumn {
		return true
	}
	return strings.Contains(err.Error(), LinkColumn)
}

// Resolve returns the profile for id. The link lookup runs first; if the link
// column does not exist, or nothing is linked yet, the auth ID is tried as a
// legacy profile ID. Any other failure is returned as is.
func (r *Resolver) Resolve(ctx context.Context, id domain.AuthIdentity) (domain.Profile, error) {
	if id.ID == "" {
		return domain.Profile{}, fmt.Errorf("Resolve: %w: empty auth identity", domain.ErrProfileNotFound)
	}
	log := logger.FromContext(ctx)

	lookup := func(column string) func(ctx context.Context) (domain.Profile, error) {
		return func(ctx context.Context) (domain.Profile, error) {
			rows, err := r.store.Select(ctx, store.Query{
				Table:   profilesTable,
				Filters: []store.Filter{store.Eq(column, id.ID)},
				Limit:   1,
			})
			if err != nil {
				return domain.Profile{}, err
			}
			if len(rows) == 0 {
				return domain.Profile{}, errNoMatch
			}
			return profileFromRow(rows[0])
		}
	}

	variants := []queryexec.Variant[domain.Profile]{
		{Name: "linked", Run: lookup(LinkColumn)},
		{Name: "legacy", Run: lookup("id")},
	}
	classify := func(err error) bool {
		return errors.Is(err, errNoMatch) || linkMissing(err)
	}

	res, err := queryexec.Execute(ctx, classify, variants)
	if err != nil {
		var exhausted *domain.SchemaExhaustedError
		if errors.As(err, &exhausted) && errors.Is(exhausted.Err, errNoMatch) {
			return domain.Profile{}, fmt.Errorf("Resolve: auth %s: %w", id.ID, domain.ErrProfileNotFound)
		}
		return domain.Profile{}, fmt.Errorf("Resolve: auth %s: %w", id.ID, err)
	}

	log.Debug().
		Str("auth_id", id.ID).
		Str("profile_id", string(res.Value.ID)).
		Str("scheme", res.Variant).
		Msg("Resolved profile")
	return res.Value, nil
}
