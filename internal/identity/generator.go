package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/multibank/internal/domain"
	"github.com/dvloznov/multibank/internal/logger"
	"github.com/dvloznov/multibank/internal/store"
)

const (
	// DefaultMaxAttempts bounds the existence checks per generation.
	DefaultMaxAttempts = 30

	suffixSpace = 1_000_000
)

// ExistenceChecker reports whether a profile ID is already taken.
type ExistenceChecker interface {
	ProfileExists(ctx context.Context, id domain.ProfileID) (bool, error)
}

// Generator derives YYMMDD-NNNNNN profile IDs from a birth date. The check
// for a free ID is not serialized against concurrent registrations; the
// store's primary key is what finally rejects a duplicate.
type Generator struct {
	checker     ExistenceChecker
	maxAttempts int
	suffix      func() (int, error)
}

// NewGenerator creates a Generator. maxAttempts <= 0 uses DefaultMaxAttempts.
func NewGenerator(checker ExistenceChecker, maxAttempts int) *Generator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{
		checker:     checker,
		maxAttempts: maxAttempts,
		suffix:      randomSuffix,
	}
}

func randomSuffix() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(suffixSpace))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

// ParseBirthDate parses an ISO (2006-01-02) or dotted (02.01.2006) date and
// rejects anything that is not a real calendar date.
func ParseBirthDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if d, err := civil.ParseDate(s); err == nil && d.IsValid() {
		return d, nil
	}
	if t, err := time.Parse("02.01.2006", s); err == nil {
		return civil.DateOf(t), nil
	}
	return civil.Date{}, fmt.Errorf("%w: %q", domain.ErrInvalidBirthDate, s)
}

// Prefix returns the YYMMDD prefix for d.
func Prefix(d civil.Date) string {
	return fmt.Sprintf("%02d%02d%02d", d.Year%100, int(d.Month), d.Day)
}

// Generate parses birthDate and returns a free profile ID for it.
func (g *Generator) Generate(ctx context.Context, birthDate string) (domain.ProfileID, error) {
	d, err := ParseBirthDate(birthDate)
	if err != nil {
		return "", err
	}
	return g.GenerateForDate(ctx, d)
}

// GenerateForDate returns a free profile ID for d.
func (g *Generator) GenerateForDate(ctx context.Context, d civil.Date) (domain.ProfileID, error) {
	if !d.IsValid() {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidBirthDate, d)
	}
	log := logger.FromContext(ctx)
	prefix := Prefix(d)

	tried := make(map[int]bool, g.maxAttempts)
	checks := 0
	// Repeated draws do not use up attempts, but draws are bounded too.
	for draws := 0; checks < g.maxAttempts && draws < 4*g.maxAttempts; draws++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := g.suffix()
		if err != nil {
			return "", fmt.Errorf("GenerateForDate: drawing suffix: %w", err)
		}
		if tried[n] {
			continue
		}
		tried[n] = true
		checks++

		candidate := domain.ProfileID(fmt.Sprintf("%s-%06d", prefix, n))
		exists, err := g.checker.ProfileExists(ctx, candidate)
		if err != nil {
			if isIncompatibleType(err) {
				return "", fmt.Errorf("%w: %w", domain.ErrIncompatibleColumnType, err)
			}
			return "", fmt.Errorf("GenerateForDate: checking %s: %w", candidate, err)
		}
		if !exists {
			log.Debug().Str("profile_id", string(candidate)).Int("attempts", checks).Msg("Generated profile id")
			return candidate, nil
		}
		log.Debug().Str("profile_id", string(candidate)).Msg("Profile id taken")
	}

	return "", fmt.Errorf("%w: prefix %s after %d attempts", domain.ErrGenerationExhausted, prefix, checks)
}

// isIncompatibleType reports whether the store rejected the candidate's text
// shape for the id column, e.g. a uuid-typed column left over from an
// unfinished migration.
func isIncompatibleType(err error) bool {
	if store.CodeOf(err) == store.CodeInvalidTextRepresentation {
		return true
	}
	var se *store.Error
	if errors.As(err, &se) {
		return strings.Contains(strings.ToLower(se.Message), "invalid input syntax for type")
	}
	return false
}
