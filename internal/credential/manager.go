package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banux/zlibrary/internal/apperr"
	"github.com/banux/zlibrary/internal/upstream"
	"github.com/rs/zerolog"
)

// maxValidationAttempts bounds the retries a single credential gets when a
// probe comes back as a network/transport error (spec §4.3).
const maxValidationAttempts = 2

// Manager owns the ordered credential list and the rotation cursor (C3). All
// mutable state (the credential slice's per-entry status/quota, and
// currentIndex) is protected by a single mutex, per spec §5's concurrency
// model.
type Manager struct {
	mu         sync.Mutex
	creds      []Credential
	current    int
	statePath  string
	client     upstream.Client
	log        zerolog.Logger
}

// NewManager constructs a Manager over creds, restoring any persisted
// rotation state from statePath. Entries for identities present in creds
// are merged in; entries for identities no longer present are ignored and
// dropped from the file at the next flush. A credential that reappears after
// such a flush has no entry left and keeps the status it was loaded with
// (UNKNOWN from Load).
func NewManager(creds []Credential, statePath string, client upstream.Client, log zerolog.Logger) (*Manager, error) {
	m := &Manager{creds: append([]Credential(nil), creds...), statePath: statePath, client: client, log: log}

	st, err := LoadState(statePath)
	if err != nil {
		log.Warn().Err(err).Str("path", statePath).Msg("rotation state file corrupted; starting empty")
	}

	for i := range m.creds {
		key := m.creds[i].IdentityKey()
		if cs, ok := st.CredentialsStatus[key]; ok {
			m.creds[i].Status = cs.Status
			m.creds[i].DownloadsLeft = cs.DownloadsLeft
			m.creds[i].LastUsed = cs.LastUsed
		}
	}
	if st.CurrentIndex >= 0 && len(m.creds) > 0 {
		m.current = st.CurrentIndex % len(m.creds)
	}

	return m, nil
}

// Credentials returns a snapshot copy of the current credential list.
func (m *Manager) Credentials() []Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Credential(nil), m.creds...)
}

// Current returns a copy of the credential currently at the rotation
// cursor. Returns false if the pool is empty.
func (m *Manager) Current() (Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.creds) == 0 {
		return Credential{}, false
	}
	return m.creds[m.current%len(m.creds)], true
}

// ValidateAll probes every credential and updates its status, eagerly. It
// returns apperr.NoValidCredentials if none come back VALID.
func (m *Manager) ValidateAll(ctx context.Context) error {
	m.mu.Lock()
	n := len(m.creds)
	m.mu.Unlock()

	anyValid := false
	for i := 0; i < n; i++ {
		if err := m.validateAt(ctx, i); err != nil {
			return err
		}
		m.mu.Lock()
		if m.creds[i].Status == StatusValid {
			anyValid = true
		}
		m.mu.Unlock()
	}

	if n > 0 && !anyValid {
		return apperr.NoValidCredentials("no credential passed validation")
	}
	return m.flush()
}

// validateAt runs the probe/retry policy for credential i and stores the
// resulting status, per spec §4.3's outcome table.
func (m *Manager) validateAt(ctx context.Context, i int) error {
	m.mu.Lock()
	cred := m.creds[i]
	m.mu.Unlock()

	auth := toAuth(cred)

	var result upstream.ProbeResult
	var err error
	for attempt := 0; attempt < maxValidationAttempts; attempt++ {
		result, err = m.client.Probe(ctx, auth)
		if result.Outcome != upstream.ProbeTransportError {
			break
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.creds[i].LastValidated = time.Now()
	switch result.Outcome {
	case upstream.ProbeSuccess:
		m.creds[i].Status = StatusValid
		if result.DownloadsLeft >= 0 {
			m.creds[i].DownloadsLeft = result.DownloadsLeft
		}
	case upstream.ProbeAuthRejected:
		m.creds[i].Status = StatusInvalid
	case upstream.ProbeQuotaExhausted:
		m.creds[i].Status = StatusExhausted
		m.creds[i].DownloadsLeft = 0
	case upstream.ProbeTransportError:
		m.creds[i].Status = StatusUnknown
	}
	return nil
}

// ValidateLazy validates only the credential currently at the rotation
// cursor if it hasn't yet been validated (Status == UNKNOWN and
// LastValidated is zero). It never blocks on credentials other than the
// current one, so it is safe to call before every operation without
// delaying startup.
func (m *Manager) ValidateLazy(ctx context.Context) error {
	m.mu.Lock()
	if len(m.creds) == 0 {
		m.mu.Unlock()
		return apperr.NoValidCredentials("no credentials configured")
	}
	idx := m.current % len(m.creds)
	needsValidation := m.creds[idx].Status == StatusUnknown && m.creds[idx].LastValidated.IsZero()
	m.mu.Unlock()

	if !needsValidation {
		return nil
	}
	if err := m.validateAt(ctx, idx); err != nil {
		return err
	}
	return m.flush()
}

// Rotate advances currentIndex to the next available credential, wrapping
// modulo the credential count. It fails with apperr.AllCredentialsExhausted
// (leaving currentIndex unchanged) if no credential is available after a
// full wrap.
func (m *Manager) Rotate() error {
	m.mu.Lock()
	n := len(m.creds)
	if n == 0 {
		m.mu.Unlock()
		return apperr.AllCredentialsExhausted("no credentials configured")
	}

	start := m.current
	for step := 1; step <= n; step++ {
		idx := (start + step) % n
		if m.creds[idx].IsAvailable() {
			m.current = idx
			m.creds[idx].LastUsed = time.Now()
			m.mu.Unlock()
			return m.flush()
		}
	}
	m.mu.Unlock()
	return apperr.AllCredentialsExhausted("every credential is exhausted, invalid, or disabled")
}

// MarkInvalid sets the named credential's status to INVALID (e.g. after
// an upstream auth rejection survives a session refresh) and flushes state.
// It does not rotate; the caller is expected to call Rotate afterward.
func (m *Manager) MarkInvalid(key string) error {
	return m.mutateByKey(key, func(c *Credential) { c.Status = StatusInvalid })
}

// MarkExhausted sets the named credential's status to EXHAUSTED and its
// quota to zero.
func (m *Manager) MarkExhausted(key string) error {
	return m.mutateByKey(key, func(c *Credential) {
		c.Status = StatusExhausted
		c.DownloadsLeft = 0
	})
}

// RecordDownloadSuccess decrements the named credential's quota by one,
// marking it EXHAUSTED if it reaches zero. Unknown quota (-1) is left
// unknown: the spec only requires decrementing when the quota is known.
func (m *Manager) RecordDownloadSuccess(key string) error {
	return m.mutateByKey(key, func(c *Credential) {
		if c.DownloadsLeft > 0 {
			c.DownloadsLeft--
			if c.DownloadsLeft == 0 {
				c.Status = StatusExhausted
			}
		}
		c.LastUsed = time.Now()
	})
}

func (m *Manager) mutateByKey(key string, f func(*Credential)) error {
	m.mu.Lock()
	found := false
	for i := range m.creds {
		if m.creds[i].IdentityKey() == key {
			f(&m.creds[i])
			found = true
			break
		}
	}
	m.mu.Unlock()
	if !found {
		return fmt.Errorf("credential %q not found", key)
	}
	return m.flush()
}

// flush persists the current rotation state to disk. Called after every
// rotation and status transition per spec §4.3 "State synchronization".
func (m *Manager) flush() error {
	m.mu.Lock()
	st := RotationState{
		CurrentIndex:      m.current,
		LastRotation:      time.Now(),
		CredentialsStatus: make(map[string]CredentialState, len(m.creds)),
	}
	for _, c := range m.creds {
		st.CredentialsStatus[c.IdentityKey()] = CredentialState{
			LastUsed:      c.LastUsed,
			DownloadsLeft: c.DownloadsLeft,
			Status:        c.Status,
		}
	}
	path := m.statePath
	m.mu.Unlock()

	return SaveState(path, st)
}

func toAuth(c Credential) upstream.CredentialAuth {
	return upstream.CredentialAuth{
		IdentityKey: c.IdentityKey(),
		Email:       c.Email,
		Password:    c.Password,
		UserID:      c.UserID,
		UserKey:     c.UserKey,
	}
}
