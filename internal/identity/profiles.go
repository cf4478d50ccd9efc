package identity

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/multibank/internal/domain"
	"github.com/dvloznov/multibank/internal/store"
)

const (
	profilesTable = "profiles"

	// LinkColumn associates a profile with its auth identity. Deployments
	// from before the migration lack it.
	LinkColumn = "auth_user_id"
)

// Directory reads and writes profile rows.
type Directory struct {
	store store.Store
}

// NewDirectory creates a Directory over s.
func NewDirectory(s store.Store) *Directory {
	return &Directory{store: s}
}

// ProfileExists implements ExistenceChecker.
func (d *Directory) ProfileExists(ctx context.Context, id domain.ProfileID) (bool, error) {
	rows, err := d.store.Select(ctx, store.Query{
		Table:   profilesTable,
		Columns: []string{"id"},
		Filters: []store.Filter{store.Eq("id", string(id))},
		Limit:   1,
	})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// Insert stores a new profile row.
func (d *Directory) Insert(ctx context.Context, p domain.Profile) error {
	row := store.Row{
		"id":         string(p.ID),
		"first_name": p.FirstName,
		"last_name":  p.LastName,
		"phone":      p.Phone,
		"birth_date": p.BirthDate.String(),
		"created_at": p.CreatedAt,
	}
	if p.AuthUserID != "" {
		row[LinkColumn] = p.AuthUserID
	}
	if err := d.store.Insert(ctx, profilesTable, row); err != nil {
		return fmt.Errorf("Insert: profile %s: %w", p.ID, err)
	}
	return nil
}

func profileFromRow(r store.Row) (domain.Profile, error) {
	p := domain.Profile{
		ID:         domain.ProfileID(r.String("id")),
		AuthUserID: r.String(LinkColumn),
		FirstName:  r.String("first_name", "name"),
		LastName:   r.String("last_name", "surname"),
		Phone:      r.String("phone", "phone_number"),
	}
	if p.ID == "" {
		return domain.Profile{}, fmt.Errorf("profileFromRow: row without id")
	}

	if v, ok := r.Lookup("birth_date", "date_of_birth"); ok {
		switch b := v.(type) {
		case civil.Date:
			p.BirthDate = b
		default:
			t, err := r.Time("birth_date", "date_of_birth")
			if err != nil {
				return domain.Profile{}, fmt.Errorf("profileFromRow: %w", err)
			}
			p.BirthDate = civil.DateOf(t)
		}
	}

	created, err := r.Time("created_at")
	if err != nil {
		return domain.Profile{}, fmt.Errorf("profileFromRow: %w", err)
	}
	p.CreatedAt = created
	return p, nil
}
