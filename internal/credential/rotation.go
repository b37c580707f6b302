package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// CredentialState is the persisted per-credential record inside a
// RotationState (spec §3.1/§6.2).
type CredentialState struct {
	LastUsed      time.Time `json:"last_used"`
	DownloadsLeft int       `json:"downloads_left"`
	Status        Status    `json:"status"`
}

// MarshalJSON encodes Status using its lowercase wire form.
func (c CredentialState) MarshalJSON() ([]byte, error) {
	type wire struct {
		LastUsed      time.Time `json:"last_used"`
		DownloadsLeft int       `json:"downloads_left"`
		Status        string    `json:"status"`
	}
	return json.Marshal(wire{c.LastUsed, c.DownloadsLeft, c.Status.String()})
}

// UnmarshalJSON decodes Status from its lowercase wire form.
func (c *CredentialState) UnmarshalJSON(data []byte) error {
	var wire struct {
		LastUsed      time.Time `json:"last_used"`
		DownloadsLeft int       `json:"downloads_left"`
		Status        string    `json:"status"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	c.LastUsed = wire.LastUsed
	c.DownloadsLeft = wire.DownloadsLeft
	c.Status = ParseStatus(wire.Status)
	return nil
}

// RotationState is the small, human-readable document persisted between
// process runs (spec §4.2/§6.2).
type RotationState struct {
	CurrentIndex      int                        `json:"current_index"`
	LastRotation      time.Time                  `json:"last_rotation"`
	CredentialsStatus map[string]CredentialState `json:"credentials_status"`

	// extra holds any fields this version doesn't recognize, so they round
	// trip unchanged (spec §4.2 "Migration").
	extra map[string]json.RawMessage
}

// MarshalJSON merges the known fields with any preserved unknown fields.
func (s RotationState) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.extra)+3)
	for k, v := range s.extra {
		out[k] = v
	}

	idx, err := json.Marshal(s.CurrentIndex)
	if err != nil {
		return nil, err
	}
	out["current_index"] = idx

	rot, err := json.Marshal(s.LastRotation)
	if err != nil {
		return nil, err
	}
	out["last_rotation"] = rot

	status, err := json.Marshal(s.CredentialsStatus)
	if err != nil {
		return nil, err
	}
	out["credentials_status"] = status

	return json.Marshal(out)
}

// UnmarshalJSON decodes the known fields and preserves everything else in
// extra.
func (s *RotationState) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	known := map[string]bool{
		"current_index": true, "last_rotation": true, "credentials_status": true,
	}
	s.extra = make(map[string]json.RawMessage)
	for k, v := range raw {
		if !known[k] {
			s.extra[k] = v
		}
	}

	if v, ok := raw["current_index"]; ok {
		if err := json.Unmarshal(v, &s.CurrentIndex); err != nil {
			return fmt.Errorf("current_index: %w", err)
		}
	}
	if v, ok := raw["last_rotation"]; ok {
		if err := json.Unmarshal(v, &s.LastRotation); err != nil {
			return fmt.Errorf("last_rotation: %w", err)
		}
	}
	if v, ok := raw["credentials_status"]; ok {
		if err := json.Unmarshal(v, &s.CredentialsStatus); err != nil {
			return fmt.Errorf("credentials_status: %w", err)
		}
	}
	if s.CredentialsStatus == nil {
		s.CredentialsStatus = make(map[string]CredentialState)
	}
	return nil
}

// emptyState returns the zero-value state returned when no state file
// exists yet.
func emptyState() RotationState {
	return RotationState{CredentialsStatus: make(map[string]CredentialState)}
}

// LoadState returns the stored state, or an empty state if path is absent.
// If the file exists but fails to parse, it returns an empty state and a
// non-nil warning error; the caller is expected to log the warning and
// continue rather than fail (spec §4.2 "Load").
func LoadState(path string) (RotationState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return emptyState(), nil
	}
	if err != nil {
		return emptyState(), fmt.Errorf("read rotation state %q: %w", path, err)
	}

	var st RotationState
	if err := json.Unmarshal(data, &st); err != nil {
		return emptyState(), fmt.Errorf("parse rotation state %q: %w", path, err)
	}
	return st, nil
}

// SaveState atomically persists st to path: it writes to a sibling temp
// file, fsyncs it, then renames it over path. File mode is restricted to
// owner-only on POSIX platforms; best-effort elsewhere.
func SaveState(path string, st RotationState) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state directory %q: %w", dir, err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rotation state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".rotation-state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			return fmt.Errorf("chmod temp state file: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp state file to %q: %w", path, err)
	}
	return nil
}
