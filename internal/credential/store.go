package credential

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/banux/zlibrary/internal/apperr"
)

// SourceKind is the closed set of places a credential set can be loaded
// from (spec §4.1). It exists so dispatch is an explicit switch on a typed
// value rather than a try/except on file existence, per the "Configuration
// dispatch" design note.
type SourceKind int

const (
	SourceStructured SourceKind = iota
	SourceEnvironment
)

// Source names where Load should read credentials from.
type Source struct {
	Kind SourceKind
	Path string // meaningful only when Kind == SourceStructured
}

// DetectSource chooses a Source deterministically from its argument alone: a
// non-empty path selects the structured file, an empty path selects the
// environment variable shape. It does not check whether the file exists; a
// missing structured file is reported by Load as a config error.
func DetectSource(explicitPath string) Source {
	if explicitPath != "" {
		return Source{Kind: SourceStructured, Path: explicitPath}
	}
	return Source{Kind: SourceEnvironment}
}

// structuredFile is the decoding target for the TOML credential file
// (spec §6.1).
type structuredFile struct {
	StateFile   string             `toml:"state_file"`
	Credentials []structuredEntry  `toml:"credentials"`
}

type structuredEntry struct {
	Name     string `toml:"name"`
	Email    string `toml:"email"`
	Password string `toml:"password"`
	UserID   string `toml:"user_id"`
	UserKey  string `toml:"user_key"`
	Enabled  *bool  `toml:"enabled"`
}

// LoadResult carries the credential set plus loader diagnostics: total
// entries seen (including disabled ones) for reporting purposes.
type LoadResult struct {
	Credentials []Credential
	TotalSeen   int
}

// Load reads credentials from the given Source. A malformed structured file
// fails with apperr.Config carrying the offending field; no partial set is
// ever returned. Disabled entries are omitted from Credentials but counted
// in TotalSeen. Empty sets are returned without error.
func Load(src Source) (LoadResult, error) {
	switch src.Kind {
	case SourceStructured:
		return loadStructured(src.Path)
	case SourceEnvironment:
		return loadEnvironment()
	default:
		return LoadResult{}, apperr.Config("unknown credential source", nil)
	}
}

func loadStructured(path string) (LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadResult{}, apperr.Config(fmt.Sprintf("read credentials file %q", path), err)
	}

	var file structuredFile
	if _, err := toml.Decode(string(data), &file); err != nil {
		return LoadResult{}, apperr.Config(fmt.Sprintf("parse credentials file %q", path), err)
	}

	result := LoadResult{TotalSeen: len(file.Credentials)}
	seen := make(map[string]bool, len(file.Credentials))

	for i, e := range file.Credentials {
		hasEmailAuth := e.Email != "" || e.Password != ""
		hasTokenAuth := e.UserID != "" || e.UserKey != ""
		switch {
		case hasEmailAuth && hasTokenAuth:
			return LoadResult{}, apperr.Config(
				fmt.Sprintf("credentials[%d]: both email/password and user_id/user_key set", i), nil)
		case e.Email != "" && e.Password == "":
			return LoadResult{}, apperr.Config(
				fmt.Sprintf("credentials[%d]: email set without password", i), nil)
		case e.UserID != "" && e.UserKey == "":
			return LoadResult{}, apperr.Config(
				fmt.Sprintf("credentials[%d]: user_id set without user_key", i), nil)
		case !hasEmailAuth && !hasTokenAuth:
			return LoadResult{}, apperr.Config(
				fmt.Sprintf("credentials[%d]: neither email/password nor user_id/user_key set", i), nil)
		}

		enabled := true
		if e.Enabled != nil {
			enabled = *e.Enabled
		}

		c := Credential{
			Name:          e.Name,
			Email:         e.Email,
			Password:      e.Password,
			UserID:        e.UserID,
			UserKey:       e.UserKey,
			Enabled:       enabled,
			Status:        StatusUnknown,
			DownloadsLeft: -1,
		}

		key := c.IdentityKey()
		if seen[key] {
			return LoadResult{}, apperr.Config(
				fmt.Sprintf("credentials[%d]: duplicate identity key %q", i, key), nil)
		}
		seen[key] = true

		if !enabled {
			continue
		}
		result.Credentials = append(result.Credentials, c)
	}

	return result, nil
}

func loadEnvironment() (LoadResult, error) {
	email := os.Getenv("EMAIL")
	password := os.Getenv("PASSWORD")
	userID := os.Getenv("USERID")
	userKey := os.Getenv("USERKEY")

	hasEmailAuth := email != "" && password != ""
	hasTokenAuth := userID != "" && userKey != ""

	if !hasEmailAuth && !hasTokenAuth {
		return LoadResult{}, nil
	}
	if hasEmailAuth && hasTokenAuth {
		return LoadResult{}, apperr.Config(
			"environment defines both EMAIL/PASSWORD and USERID/USERKEY; set only one", nil)
	}

	c := Credential{
		Email:         email,
		Password:      password,
		UserID:        userID,
		UserKey:       userKey,
		Enabled:       true,
		Status:        StatusUnknown,
		DownloadsLeft: -1,
	}
	return LoadResult{Credentials: []Credential{c}, TotalSeen: 1}, nil
}
