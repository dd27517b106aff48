package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Resolver resolves credential specs of the form "env:VAR",
// "oauth:<provider>", or "keychain:<service>". It is the only component
// that reads credential material; adapters receive resolved strings.
type Resolver struct {
	oauth *OAuthStore
}

// NewResolver creates a resolver. A .env file in the working directory is
// loaded once, without overriding variables already set in the environment.
// oauthPath may be empty when no on-disk token store is configured.
func NewResolver(oauthPath string) *Resolver {
	_ = godotenv.Load()

	r := &Resolver{}
	if oauthPath != "" {
		r.oauth = NewOAuthStore(oauthPath)
	}
	return r
}

// Resolve returns the credential for spec. An unprefixed spec is treated as
// an environment variable name.
func (r *Resolver) Resolve(spec string) (string, error) {
	scheme, rest, found := strings.Cut(spec, ":")
	if !found {
		scheme, rest = "env", spec
	}

	switch scheme {
	case "env":
		value := os.Getenv(rest)
		if value == "" {
			return "", fmt.Errorf("environment variable %s is not set", rest)
		}
		return value, nil

	case "oauth":
		if r.oauth == nil {
			return "", fmt.Errorf("no oauth store configured for %q", spec)
		}
		token, err := r.oauth.Get(rest)
		if err != nil {
			return "", err
		}
		return token.AccessToken, nil

	case "keychain":
		return keychainLookup(rest)

	default:
		return "", fmt.Errorf("unknown credential scheme %q", scheme)
	}
}

// keychainLookup shells out to the macOS security tool. On other platforms
// the command is absent and the lookup fails with a clear error.
func keychainLookup(service string) (string, error) {
	out, err := exec.Command("security", "find-generic-password", "-s", service, "-w").Output()
	if err != nil {
		return "", fmt.Errorf("keychain lookup for %s: %w", service, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// OAuthToken is one stored token with its refresh metadata.
type OAuthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
	Version      int       `json:"version"`
}

// OAuthStore is an on-disk token store shared across processes. Updates use
// compare-and-swap on the token version so a concurrent refresh loses
// cleanly instead of clobbering a newer token.
type OAuthStore struct {
	path string
	mu   sync.Mutex
}

// NewOAuthStore creates a store backed by the given file.
func NewOAuthStore(path string) *OAuthStore {
	return &OAuthStore{path: path}
}

// Get returns the stored token for a provider.
func (s *OAuthStore) Get(provider string) (OAuthToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.load()
	if err != nil {
		return OAuthToken{}, err
	}
	token, ok := tokens[provider]
	if !ok {
		return OAuthToken{}, fmt.Errorf("no oauth token stored for %s", provider)
	}
	return token, nil
}

// Swap replaces the token for a provider iff the stored version still equals
// expectVersion. A zero expectVersion inserts a new token.
func (s *OAuthStore) Swap(provider string, expectVersion int, token OAuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.load()
	if err != nil {
		return err
	}

	current := tokens[provider].Version
	if current != expectVersion {
		return fmt.Errorf("oauth token for %s changed concurrently (have version %d, expected %d)",
			provider, current, expectVersion)
	}

	token.Version = expectVersion + 1
	tokens[provider] = token
	return s.save(tokens)
}

func (s *OAuthStore) load() (map[string]OAuthToken, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]OAuthToken{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read oauth store: %w", err)
	}
	tokens := make(map[string]OAuthToken)
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("parse oauth store: %w", err)
	}
	return tokens, nil
}

func (s *OAuthStore) save(tokens map[string]OAuthToken) error {
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create oauth store dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".oauth-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, s.path)
}
