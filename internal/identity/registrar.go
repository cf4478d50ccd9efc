package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/multibank/internal/domain"
	"github.com/dvloznov/multibank/internal/logger"
)

// Registration is the data collected when a person signs up.
type Registration struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	BirthDate string `json:"birth_date"`
}

// Registrar creates profiles for auth identities that do not have one yet.
type Registrar struct {
	resolver  *Resolver
	generator *Generator
	directory *Directory
	now       func() time.Time
}

// NewRegistrar wires a Registrar from its collaborators.
func NewRegistrar(resolver *Resolver, generator *Generator, directory *Directory) *Registrar {
	return &Registrar{
		resolver:  resolver,
		generator: generator,
		directory: directory,
		now:       time.Now,
	}
}

// Register returns the profile linked to id, creating it with a freshly
// generated deterministic ID if none exists. created reports which happened.
func (r *Registrar) Register(ctx context.Context, id domain.AuthIdentity, reg Registration) (p domain.Profile, created bool, err error) {
	log := logger.FromContext(ctx)

	existing, err := r.resolver.Resolve(ctx, id)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrProfileNotFound) {
		return domain.Profile{}, false, fmt.Errorf("Register: resolving existing profile: %w", err)
	}

	birth, err := ParseBirthDate(reg.BirthDate)
	if err != nil {
		return domain.Profile{}, false, err
	}

	profileID, err := r.generator.GenerateForDate(ctx, birth)
	if err != nil {
		return domain.Profile{}, false, fmt.Errorf("Register: %w", err)
	}

	p = domain.Profile{
		ID:         profileID,
		AuthUserID: id.ID,
		FirstName:  strings.TrimSpace(reg.FirstName),
		LastName:   strings.TrimSpace(reg.LastName),
		Phone:      strings.TrimSpace(reg.Phone),
		BirthDate:  birth,
		CreatedAt:  r.now().UTC(),
	}
	if err := r.directory.Insert(ctx, p); err != nil {
		return domain.Profile{}, false, fmt.Errorf("Register: %w", err)
	}

	log.Info().
		Str("auth_id", id.ID).
		Str("profile_id", string(p.ID)).
		Msg("Registered profile")
	return p, true, nil
}
