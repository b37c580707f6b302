// Package credential implements the credential rotation core: loading
// credential records from configuration (C1), persisting rotation state
// across process restarts (C2), and owning the ordered credential list with
// validation and rotation policy (C3).
package credential

import "time"

// Status is a closed set of credential validation outcomes. It is encoded
// as an enum rather than a free-form string everywhere except the wire
// format in the rotation state file, per the "Enumerations vs magic
// strings" design note.
type Status int

const (
	// StatusUnknown is the initial status of a freshly loaded credential,
	// and the status a network/transport error during validation leaves it
	// in (eligible for retry).
	StatusUnknown Status = iota
	StatusValid
	StatusInvalid
	StatusExhausted
)

// String returns the lowercase wire form used in the rotation state file.
func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusInvalid:
		return "invalid"
	case StatusExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// ParseStatus parses the lowercase wire form back into a Status. Unrecognized
// strings decode to StatusUnknown rather than failing, so that state-file
// round trips never abort on a value this version doesn't recognize.
func ParseStatus(s string) Status {
	switch s {
	case "valid":
		return StatusValid
	case "invalid":
		return StatusInvalid
	case "exhausted":
		return StatusExhausted
	default:
		return StatusUnknown
	}
}

// Credential is one authenticated identity in the rotation pool. Exactly one
// of the two authentication shapes is populated: {Email,Password} or
// {UserID,UserKey}.
type Credential struct {
	// Name is a display-only label; it never appears in logs or state
	// files as an identity.
	Name string

	Email    string
	Password string

	UserID  string
	UserKey string

	Enabled bool

	Status        Status
	DownloadsLeft int // -1 means unknown

	LastUsed      time.Time
	LastValidated time.Time
}

// IdentityKey returns the stable string identifying this credential across
// runs: the email for password credentials, the numeric user id for token
// credentials.
func (c Credential) IdentityKey() string {
	if c.Email != "" {
		return c.Email
	}
	return c.UserID
}

// IsTokenAuth reports whether this credential uses the {UserID,UserKey}
// authentication shape rather than {Email,Password}.
func (c Credential) IsTokenAuth() bool {
	return c.Email == ""
}

// IsAvailable reports whether this credential is currently eligible for
// rotation: enabled, status is VALID or UNKNOWN, and quota is non-zero
// (unknown quota, encoded as -1, counts as available).
func (c Credential) IsAvailable() bool {
	if !c.Enabled {
		return false
	}
	if c.Status != StatusValid && c.Status != StatusUnknown {
		return false
	}
	return c.DownloadsLeft != 0
}
