// Package config loads the project configuration and deliberation
// profiles. Values are plain YAML with ${VAR} environment substitution;
// the effective profile is a layered merge of built-in defaults, the
// profile file, the project config, and CLI overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"dev.quorum.engine/internal/models"
)

// Paths locates every file-backed store. All paths are explicit; nothing
// reads ambient globals.
type Paths struct {
	Sessions string `yaml:"sessions" json:"sessions"`
	Ledger   string `yaml:"ledger" json:"ledger"`
	Memory   string `yaml:"memory" json:"memory"`
	Arena    string `yaml:"arena" json:"arena"`
	Policies string `yaml:"policies" json:"policies"`
	Tokens   string `yaml:"tokens" json:"tokens"`
}

// Config is the project-level configuration file.
type Config struct {
	Providers      []models.ProviderConfig `yaml:"providers" json:"providers"`
	DefaultProfile string                  `yaml:"default_profile,omitempty" json:"default_profile,omitempty"`
	ProfilesDir    string                  `yaml:"profiles_dir,omitempty" json:"profiles_dir,omitempty"`
	// Profile carries inline profile overrides that sit above the
	// profile file in the merge order.
	Profile *models.AgentProfile `yaml:"profile,omitempty" json:"profile,omitempty"`
	Paths   Paths                `yaml:"paths,omitempty" json:"paths,omitempty"`
}

// DefaultBaseDir is the state directory under the user's home.
const DefaultBaseDir = ".quorum"

// DefaultPaths derives every store location from baseDir.
func DefaultPaths(baseDir string) Paths {
	return Paths{
		Sessions: filepath.Join(baseDir, "sessions"),
		Ledger:   filepath.Join(baseDir, "ledger.jsonl"),
		Memory:   filepath.Join(baseDir, "memory.json"),
		Arena:    filepath.Join(baseDir, "arena.json"),
		Policies: filepath.Join(baseDir, "policies"),
		Tokens:   filepath.Join(baseDir, "tokens.json"),
	}
}

func (p *Paths) applyDefaults(baseDir string) {
	d := DefaultPaths(baseDir)
	if p.Sessions == "" {
		p.Sessions = d.Sessions
	}
	if p.Ledger == "" {
		p.Ledger = d.Ledger
	}
	if p.Memory == "" {
		p.Memory = d.Memory
	}
	if p.Arena == "" {
		p.Arena = d.Arena
	}
	if p.Policies == "" {
		p.Policies = d.Policies
	}
	if p.Tokens == "" {
		p.Tokens = d.Tokens
	}
}

// Load reads and validates the config file at path. A missing file yields
// an empty config with default paths so commands that only read stores
// still work.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, models.WrapError(models.KindConfig, "read config", err)
	}
	if err == nil {
		if uerr := yaml.Unmarshal([]byte(substituteEnv(string(data))), cfg); uerr != nil {
			return nil, models.WrapError(models.KindConfig, fmt.Sprintf("parse %s", path), uerr)
		}
	}

	baseDir := DefaultBaseDir
	if home, herr := os.UserHomeDir(); herr == nil {
		baseDir = filepath.Join(home, DefaultBaseDir)
	}
	cfg.Paths.applyDefaults(baseDir)

	if cfg.ProfilesDir == "" && path != "" {
		cfg.ProfilesDir = filepath.Join(filepath.Dir(path), "profiles")
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnv replaces ${VAR} placeholders with environment values.
// Bare $VAR is left alone so shell-looking prompt text survives; unset
// variables substitute to the empty string.
func substituteEnv(s string) string {
	return envRe.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envRe.FindStringSubmatch(m)[1])
	})
}

// Validate checks the config's internal consistency. Roster-size rules
// run later against the effective roster, after exclusions.
func Validate(cfg *Config) error {
	seen := map[string]bool{}
	for i, p := range cfg.Providers {
		if p.Name == "" {
			return models.NewError(models.KindConfig, fmt.Sprintf("provider %d has no name", i))
		}
		if p.Kind == "" {
			return models.NewError(models.KindConfig, fmt.Sprintf("provider %q has no kind", p.Name))
		}
		if seen[p.Name] {
			return models.NewError(models.KindConfig, fmt.Sprintf("duplicate provider name %q", p.Name))
		}
		seen[p.Name] = true
	}
	return nil
}

// ValidateRoster enforces the minimum deliberation size on the effective
// roster.
func ValidateRoster(providers []models.ProviderConfig) error {
	if len(providers) < 2 {
		return models.NewError(models.KindConfig, fmt.Sprintf(
			"deliberation needs at least 2 providers, have %d", len(providers)))
	}
	return nil
}

// EffectiveProviders applies the profile's exclusion list to the
// configured providers, preserving order.
func EffectiveProviders(cfg *Config, profile *models.AgentProfile) []models.ProviderConfig {
	excluded := map[string]bool{}
	for _, name := range profile.ExcludeProviders {
		excluded[strings.ToLower(name)] = true
	}
	var out []models.ProviderConfig
	for _, p := range cfg.Providers {
		if !excluded[strings.ToLower(p.Name)] {
			out = append(out, p)
		}
	}
	return out
}
