package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/multibank/internal/domain"
	"github.com/dvloznov/multibank/internal/store"
	"github.com/dvloznov/multibank/internal/store/memory"
)

func newProfilesStore(t *testing.T, withLink bool, idType memory.ColumnType) *memory.Store {
	t.Helper()
	columns := []memory.Column{
		{Name: "id", Type: idType},
		{Name: "first_name"},
		{Name: "last_name"},
		{Name: "phone"},
		{Name: "birth_date"},
		{Name: "created_at", Type: memory.Timestamp},
	}
	if withLink {
		columns = append(columns, memory.Column{Name: LinkColumn})
	}
	s := memory.New()
	s.CreateTable(profilesTable, columns...)
	return s
}

func seedProfile(t *testing.T, s *memory.Store, row store.Row) {
	t.Helper()
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	}
	if err := s.Insert(context.Background(), profilesTable, row); err != nil {
		t.Fatalf("seeding profile: %v", err)
	}
}

func TestResolve_LinkedProfile(t *testing.T) {
	s := newProfilesStore(t, true, memory.Text)
	seedProfile(t, s, store.Row{
		"id":         "900105-123456",
		LinkColumn:   "auth-1",
		"first_name": "Aigerim",
		"last_name":  "Sarsenova",
		"birth_date": "1990-01-05",
	})

	p, err := NewResolver(s).Resolve(context.Background(), domain.AuthIdentity{ID: "auth-1"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p.ID != "900105-123456" {
		t.Errorf("expected 900105-123456, got %s", p.ID)
	}
	if p.FullName() != "Aigerim Sarsenova" {
		t.Errorf("unexpected name %q", p.FullName())
	}
	if p.BirthDate.String() != "1990-01-05" {
		t.Errorf("unexpected birth date %v", p.BirthDate)
	}
}

func TestResolve_LegacySchemaWithoutLinkColumn(t *testing.T) {
	s := newProfilesStore(t, false, memory.Text)
	seedProfile(t, s, store.Row{"id": "auth-legacy", "first_name": "Dias"})

	p, err := NewResolver(s).Resolve(context.Background(), domain.AuthIdentity{ID: "auth-legacy"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p.ID != "auth-legacy" {
		t.Errorf("expected legacy profile, got %s", p.ID)
	}
	if p.ID.IsDeterministic() {
		t.Error("legacy ID should not look deterministic")
	}
}

func TestResolve_UnlinkedLegacyProfile(t *testing.T) {
	s := newProfilesStore(t, true, memory.Text)
	seedProfile(t, s, store.Row{"id": "auth-2", "first_name": "Dana"})

	p, err := NewResolver(s).Resolve(context.Background(), domain.AuthIdentity{ID: "auth-2"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p.ID != "auth-2" {
		t.Errorf("expected auth-2, got %s", p.ID)
	}
}

func TestResolve_LinkWinsOverLegacy(t *testing.T) {
	s := newProfilesStore(t, true, memory.Text)
	seedProfile(t, s, store.Row{"id": "auth-3"})
	seedProfile(t, s, store.Row{"id": "850712-000042", LinkColumn: "auth-3"})

	p, err := NewResolver(s).Resolve(context.Background(), domain.AuthIdentity{ID: "auth-3"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p.ID != "850712-000042" {
		t.Errorf("expected linked profile, got %s", p.ID)
	}
}

func TestResolve_NotFound(t *testing.T) {
	tests := []struct {
		name     string
		withLink bool
		auth     string
	}{
		{"linked schema", true, "nobody"},
		{"legacy schema", false, "nobody"},
		{"empty identity", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newProfilesStore(t, tt.withLink, memory.Text)
			_, err := NewResolver(s).Resolve(context.Background(), domain.AuthIdentity{ID: tt.auth})
			if !errors.Is(err, domain.ErrProfileNotFound) {
				t.Fatalf("expected ErrProfileNotFound, got %v", err)
			}
		})
	}
}

func TestResolve_StoreFailureIsNotNotFound(t *testing.T) {
	s := newProfilesStore(t, true, memory.Text)
	denied := &store.Error{Code: "42501", Message: "permission denied for table profiles"}
	s.FailWith(profilesTable, denied)

	_, err := NewResolver(s).Resolve(context.Background(), domain.AuthIdentity{ID: "auth-1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, domain.ErrProfileNotFound) {
		t.Error("permission failure must not read as not found")
	}
	if store.CodeOf(err) != "42501" {
		t.Errorf("expected original store error, got %v", err)
	}
}

func TestLinkMissing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"link column", &store.Error{Code: store.CodeUndefinedColumn, Column: LinkColumn}, true},
		{"link column in message", errors.New("column profiles.auth_user_id does not exist"), true},
		{"other column", &store.Error{Code: store.CodeUndefinedColumn, Column: "phone", Message: "column profiles.phone does not exist"}, false},
		{"not a schema error", errors.New("auth_user_id: connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := linkMissing(tt.err); got != tt.want {
				t.Errorf("linkMissing(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
