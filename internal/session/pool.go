// Package session implements the Session Pool (C4): one authenticated
// upstream session cached per credential identity, refreshed on failure.
//
// Structurally this mirrors the teacher's HTTP session-cookie store (a
// map guarded by a single mutex with create/valid/delete-shaped methods),
// generalized from wall-clock-TTL'd login cookies to sessions invalidated
// by the credential manager's rotation and refresh decisions instead.
package session

import (
	"context"
	"sync"

	"github.com/banux/zlibrary/internal/apperr"
	"github.com/banux/zlibrary/internal/credential"
	"github.com/banux/zlibrary/internal/upstream"
)

// Pool caches one upstream.Session per credential identity key.
type Pool struct {
	mu       sync.RWMutex
	sessions map[string]upstream.Session
	client   upstream.Client
	manager  *credential.Manager
}

// New constructs a Pool backed by client and driven by manager's current-
// credential cursor.
func New(client upstream.Client, manager *credential.Manager) *Pool {
	return &Pool{
		sessions: make(map[string]upstream.Session),
		client:   client,
		manager:  manager,
	}
}

// GetCurrent returns the session for the manager's current credential,
// creating it lazily via Client.Authenticate if absent.
func (p *Pool) GetCurrent(ctx context.Context) (upstream.Session, credential.Credential, error) {
	cred, ok := p.manager.Current()
	if !ok {
		return upstream.Session{}, credential.Credential{}, apperr.NoValidCredentials("no credentials configured")
	}

	key := cred.IdentityKey()
	p.mu.RLock()
	sess, ok := p.sessions[key]
	p.mu.RUnlock()
	if ok {
		return sess, cred, nil
	}

	return p.authenticate(ctx, cred)
}

func (p *Pool) authenticate(ctx context.Context, cred credential.Credential) (upstream.Session, credential.Credential, error) {
	auth := upstream.CredentialAuth{
		IdentityKey: cred.IdentityKey(),
		Email:       cred.Email,
		Password:    cred.Password,
		UserID:      cred.UserID,
		UserKey:     cred.UserKey,
	}
	sess, err := p.client.Authenticate(ctx, auth)
	if err != nil {
		return upstream.Session{}, cred, apperr.Session("create session for "+cred.IdentityKey(), err)
	}

	p.mu.Lock()
	p.sessions[cred.IdentityKey()] = sess
	p.mu.Unlock()
	return sess, cred, nil
}

// Rotate advances the credential manager's cursor and returns the resulting
// current session.
func (p *Pool) Rotate(ctx context.Context) (upstream.Session, credential.Credential, error) {
	if err := p.manager.Rotate(); err != nil {
		return upstream.Session{}, credential.Credential{}, err
	}
	return p.GetCurrent(ctx)
}

// Refresh discards any cached session for key and re-authenticates,
// used when the upstream service returns an auth error mid-operation.
func (p *Pool) Refresh(ctx context.Context, key string) (upstream.Session, error) {
	p.mu.Lock()
	delete(p.sessions, key)
	p.mu.Unlock()

	for _, cred := range p.manager.Credentials() {
		if cred.IdentityKey() == key {
			sess, _, err := p.authenticate(ctx, cred)
			return sess, err
		}
	}
	return upstream.Session{}, apperr.Session("refresh unknown credential "+key, nil)
}

// ValidateAll probes every credential in the manager and updates their
// status (delegates to the manager; exposed here so callers have one
// entry point for pool-adjacent startup validation).
func (p *Pool) ValidateAll(ctx context.Context) error {
	return p.manager.ValidateAll(ctx)
}

// Client returns the upstream client the pool authenticates sessions
// against, so C5 can issue Search/Resolve calls against the same client.
func (p *Pool) Client() upstream.Client { return p.client }

// MarkInvalid delegates to the manager (spec §4.8 mid-operation auth
// failure handling).
func (p *Pool) MarkInvalid(identity string) error { return p.manager.MarkInvalid(identity) }

// MarkExhausted delegates to the manager (spec §4.8 mid-operation quota
// failure handling).
func (p *Pool) MarkExhausted(identity string) error { return p.manager.MarkExhausted(identity) }

// RecordDownloadSuccess delegates to the manager's quota accounting
// (spec §4.5 step v).
func (p *Pool) RecordDownloadSuccess(identity string) error {
	return p.manager.RecordDownloadSuccess(identity)
}

// CredentialByIdentity returns the credential matching identity, if still
// configured.
func (p *Pool) CredentialByIdentity(identity string) (credential.Credential, bool) {
	for _, c := range p.manager.Credentials() {
		if c.IdentityKey() == identity {
			return c, true
		}
	}
	return credential.Credential{}, false
}
