package credential

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/banux/zlibrary/internal/apperr"
	"github.com/banux/zlibrary/internal/upstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is a scriptable upstream.Client for manager tests. probeFunc,
// when set, overrides the default per-identity outcome lookup.
type fakeClient struct {
	probeOutcome map[string]upstream.ProbeOutcome
	probeQuota   map[string]int
	probeErr     map[string]error
	probeCalls   map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		probeOutcome: map[string]upstream.ProbeOutcome{},
		probeQuota:   map[string]int{},
		probeErr:     map[string]error{},
		probeCalls:   map[string]int{},
	}
}

func (f *fakeClient) Authenticate(ctx context.Context, cred upstream.CredentialAuth) (upstream.Session, error) {
	return upstream.Session{IdentityKey: cred.IdentityKey}, nil
}

func (f *fakeClient) Probe(ctx context.Context, cred upstream.CredentialAuth) (upstream.ProbeResult, error) {
	f.probeCalls[cred.IdentityKey]++
	outcome := f.probeOutcome[cred.IdentityKey]
	quota := f.probeQuota[cred.IdentityKey]
	if quota == 0 {
		quota = -1
	}
	return upstream.ProbeResult{Outcome: outcome, DownloadsLeft: quota}, f.probeErr[cred.IdentityKey]
}

func (f *fakeClient) Search(ctx context.Context, sess upstream.Session, query string, filter upstream.SearchFilter) ([]upstream.BookResult, error) {
	return nil, nil
}

func (f *fakeClient) Resolve(ctx context.Context, sess upstream.Session, book upstream.BookResult) (upstream.DownloadPayload, error) {
	return upstream.DownloadPayload{}, nil
}

func testLogger() zerolog.Logger { return zerolog.Nop() }

func TestManager_ValidateAll_MixedOutcomes(t *testing.T) {
	creds := []Credential{
		{Email: "good@example.com", Enabled: true, Status: StatusUnknown, DownloadsLeft: -1},
		{Email: "bad@example.com", Enabled: true, Status: StatusUnknown, DownloadsLeft: -1},
	}
	client := newFakeClient()
	client.probeOutcome["good@example.com"] = upstream.ProbeSuccess
	client.probeQuota["good@example.com"] = 10
	client.probeOutcome["bad@example.com"] = upstream.ProbeAuthRejected

	path := filepath.Join(t.TempDir(), "state.json")
	m, err := NewManager(creds, path, client, testLogger())
	require.NoError(t, err)

	require.NoError(t, m.ValidateAll(context.Background()))

	all := m.Credentials()
	assert.Equal(t, StatusValid, all[0].Status)
	assert.Equal(t, 10, all[0].DownloadsLeft)
	assert.Equal(t, StatusInvalid, all[1].Status)
}

func TestManager_ValidateAll_AllFail_ReturnsNoValidCredentials(t *testing.T) {
	creds := []Credential{{Email: "bad@example.com", Enabled: true, Status: StatusUnknown, DownloadsLeft: -1}}
	client := newFakeClient()
	client.probeOutcome["bad@example.com"] = upstream.ProbeAuthRejected

	m, err := NewManager(creds, filepath.Join(t.TempDir(), "state.json"), client, testLogger())
	require.NoError(t, err)

	err = m.ValidateAll(context.Background())
	require.Error(t, err)
	ae, ok := err.(*apperr.Error)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeNoValidCredentials, ae.Code)
}

func TestManager_ValidateAt_RetriesTransportErrorTwice(t *testing.T) {
	creds := []Credential{{Email: "flaky@example.com", Enabled: true, Status: StatusUnknown, DownloadsLeft: -1}}
	client := newFakeClient()
	client.probeOutcome["flaky@example.com"] = upstream.ProbeTransportError

	m, err := NewManager(creds, filepath.Join(t.TempDir(), "state.json"), client, testLogger())
	require.NoError(t, err)

	_ = m.validateAt(context.Background(), 0)
	assert.Equal(t, maxValidationAttempts, client.probeCalls["flaky@example.com"])
	assert.Equal(t, StatusUnknown, m.Credentials()[0].Status)
}

func TestManager_Rotate_SkipsUnavailableAndWrapsModulo(t *testing.T) {
	creds := []Credential{
		{Email: "a@example.com", Enabled: true, Status: StatusValid, DownloadsLeft: 5},
		{Email: "b@example.com", Enabled: false, Status: StatusValid, DownloadsLeft: 5},
		{Email: "c@example.com", Enabled: true, Status: StatusValid, DownloadsLeft: 5},
	}
	m, err := NewManager(creds, filepath.Join(t.TempDir(), "state.json"), newFakeClient(), testLogger())
	require.NoError(t, err)

	require.NoError(t, m.Rotate())
	cur, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, "c@example.com", cur.IdentityKey())

	require.NoError(t, m.Rotate())
	cur, ok = m.Current()
	require.True(t, ok)
	assert.Equal(t, "a@example.com", cur.IdentityKey())
}

func TestManager_Rotate_AllExhausted_Errors(t *testing.T) {
	creds := []Credential{
		{Email: "a@example.com", Enabled: true, Status: StatusExhausted, DownloadsLeft: 0},
	}
	m, err := NewManager(creds, filepath.Join(t.TempDir(), "state.json"), newFakeClient(), testLogger())
	require.NoError(t, err)

	err = m.Rotate()
	require.Error(t, err)
	ae, ok := err.(*apperr.Error)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeAllCredsExhausted, ae.Code)
}

func TestManager_RecordDownloadSuccess_DecrementsAndExhausts(t *testing.T) {
	creds := []Credential{{Email: "a@example.com", Enabled: true, Status: StatusValid, DownloadsLeft: 1}}
	m, err := NewManager(creds, filepath.Join(t.TempDir(), "state.json"), newFakeClient(), testLogger())
	require.NoError(t, err)

	require.NoError(t, m.RecordDownloadSuccess("a@example.com"))
	cur, _ := m.Current()
	assert.Equal(t, 0, cur.DownloadsLeft)
	assert.Equal(t, StatusExhausted, cur.Status)
}

func TestManager_RecordDownloadSuccess_UnknownQuotaStaysUnknown(t *testing.T) {
	creds := []Credential{{Email: "a@example.com", Enabled: true, Status: StatusValid, DownloadsLeft: -1}}
	m, err := NewManager(creds, filepath.Join(t.TempDir(), "state.json"), newFakeClient(), testLogger())
	require.NoError(t, err)

	require.NoError(t, m.RecordDownloadSuccess("a@example.com"))
	cur, _ := m.Current()
	assert.Equal(t, -1, cur.DownloadsLeft)
	assert.Equal(t, StatusValid, cur.Status)
}

func TestNewManager_PersistsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	creds := []Credential{
		{Email: "a@example.com", Enabled: true, Status: StatusUnknown, DownloadsLeft: -1},
		{Email: "b@example.com", Enabled: true, Status: StatusUnknown, DownloadsLeft: -1},
	}

	m1, err := NewManager(creds, path, newFakeClient(), testLogger())
	require.NoError(t, err)
	require.NoError(t, m1.Rotate())
	cur1, _ := m1.Current()

	m2, err := NewManager(creds, path, newFakeClient(), testLogger())
	require.NoError(t, err)
	cur2, _ := m2.Current()
	assert.Equal(t, cur1.IdentityKey(), cur2.IdentityKey())
}

func TestNewManager_DiscardsStateForRemovedCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	original := []Credential{
		{Email: "a@example.com", Enabled: true, Status: StatusUnknown, DownloadsLeft: -1},
		{Email: "gone@example.com", Enabled: true, Status: StatusUnknown, DownloadsLeft: -1},
	}
	m1, err := NewManager(original, path, newFakeClient(), testLogger())
	require.NoError(t, err)
	require.NoError(t, m1.MarkExhausted("gone@example.com"))

	reduced := []Credential{{Email: "a@example.com", Enabled: true, Status: StatusUnknown, DownloadsLeft: -1}}
	m2, err := NewManager(reduced, path, newFakeClient(), testLogger())
	require.NoError(t, err)
	assert.Len(t, m2.Credentials(), 1)
}

func TestNewManager_RevivesReappearingCredentialAsUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	full := []Credential{
		{Email: "a@example.com", Enabled: true, Status: StatusUnknown, DownloadsLeft: -1},
		{Email: "b@example.com", Enabled: true, Status: StatusUnknown, DownloadsLeft: -1},
	}
	m1, err := NewManager(full, path, newFakeClient(), testLogger())
	require.NoError(t, err)
	require.NoError(t, m1.MarkInvalid("b@example.com"))

	// b is absent from this run's configuration entirely; a rotation in
	// this run flushes a state file with only "a" in it.
	onlyA := []Credential{{Email: "a@example.com", Enabled: true, Status: StatusUnknown, DownloadsLeft: -1}}
	m2, err := NewManager(onlyA, path, newFakeClient(), testLogger())
	require.NoError(t, err)
	require.NoError(t, m2.Rotate())

	// b reappears in a later run; since the most recent flush didn't know
	// about it, it should come back as UNKNOWN rather than INVALID.
	again := []Credential{
		{Email: "a@example.com", Enabled: true, Status: StatusUnknown, DownloadsLeft: -1},
		{Email: "b@example.com", Enabled: true, Status: StatusUnknown, DownloadsLeft: -1},
	}
	m3, err := NewManager(again, path, newFakeClient(), testLogger())
	require.NoError(t, err)
	creds := m3.Credentials()
	var bStatus Status
	for _, c := range creds {
		if c.IdentityKey() == "b@example.com" {
			bStatus = c.Status
		}
	}
	assert.Equal(t, StatusUnknown, bStatus)
}
