package domain

import (
	"regexp"
	"time"

	"cloud.google.com/go/civil"
)

// AuthIdentity is the transient actor reference issued by the auth subsystem.
// It is only valid for the session it came from and is never persisted here.
type AuthIdentity struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"` // zero when the source did not report an expiry
}

// ProfileID is the durable per-person identifier and the join key for every
// owned record. It is either a legacy opaque token or a deterministic
// YYMMDD-NNNNNN value.
type ProfileID string

var deterministicProfileID = regexp.MustCompile(`^\d{6}-\d{6}$`)

// IsDeterministic reports whether the ID has the YYMMDD-NNNNNN shape.
func (id ProfileID) IsDeterministic() bool {
	return deterministicProfileID.MatchString(string(id))
}

func (id ProfileID) String() string {
	return string(id)
}

// Profile is a person record as stored in the profiles table.
type Profile struct {
	ID         ProfileID  `json:"id"`
	AuthUserID string     `json:"auth_user_id,omitempty"` // empty for legacy profiles that predate the link column
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Phone      string     `json:"phone,omitempty"`
	BirthDate  civil.Date `json:"birth_date,omitzero"`
	CreatedAt  time.Time  `json:"created_at"`
}

// FullName joins first and last name, skipping empty parts.
func (p Profile) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}
