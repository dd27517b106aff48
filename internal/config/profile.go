package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"dev.quorum.engine/internal/models"
)

// builtinProfiles are always available even without a profiles directory.
var builtinProfiles = map[string]models.AgentProfile{
	"balanced": {
		Name:                 "balanced",
		ChallengeStyle:       models.StyleCollaborative,
		Rounds:               1,
		ConvergenceThreshold: 0.9,
		VotingMethod:         "borda",
		Evidence:             models.EvidenceOff,
		Topology:             "mesh",
		AdaptivePreset:       "balanced",
	},
	"fast": {
		Name:                 "fast",
		ChallengeStyle:       models.StyleCollaborative,
		Rounds:               1,
		ConvergenceThreshold: 0.75,
		VotingMethod:         "borda",
		Evidence:             models.EvidenceOff,
		Topology:             "mesh",
		AdaptivePreset:       "fast",
		Phases:               []string{"GATHER", "FORMULATE", "DEBATE", "VOTE", "SYNTHESIZE"},
	},
	"critical": {
		Name:                 "critical",
		ChallengeStyle:       models.StyleAdversarial,
		Rounds:               2,
		ConvergenceThreshold: 0.95,
		VotingMethod:         "borda",
		Evidence:             models.EvidenceAdvisory,
		Topology:             "mesh",
		AdaptivePreset:       "critical",
	},
}

// BuiltinProfile returns a copy of the named built-in, ok=false when it
// does not exist.
func BuiltinProfile(name string) (models.AgentProfile, bool) {
	p, ok := builtinProfiles[name]
	if !ok {
		return models.AgentProfile{}, false
	}
	return p.Clone(), true
}

// LoadProfile resolves a profile name through the layer stack: built-in
// defaults, then the profile file in profilesDir (<name>.yaml), then the
// config's inline profile overrides. CLI overrides are merged afterwards
// by the caller.
func LoadProfile(cfg *Config, name string) (*models.AgentProfile, error) {
	if name == "" {
		name = cfg.DefaultProfile
	}
	if name == "" {
		name = "balanced"
	}

	base, _ := BuiltinProfile(name)
	if base.Name == "" {
		// Unknown names still start from the balanced defaults so a file
		// profile only has to state what differs.
		base, _ = BuiltinProfile("balanced")
		base.Name = name
	}
	effective := base

	filed, err := loadProfileFile(cfg.ProfilesDir, name)
	if err != nil {
		return nil, err
	}
	if filed != nil {
		effective = Merge(effective, *filed)
	} else if _, builtin := builtinProfiles[name]; !builtin {
		return nil, models.NewError(models.KindConfig, fmt.Sprintf(
			"profile %q is neither built-in nor present in %s", name, cfg.ProfilesDir))
	}

	if cfg.Profile != nil {
		effective = Merge(effective, *cfg.Profile)
	}
	effective.Name = name
	return &effective, nil
}

func loadProfileFile(dir, name string) (*models.AgentProfile, error) {
	if dir == "" {
		return nil, nil
	}
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(dir, name+ext)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, models.WrapError(models.KindConfig, "read profile", err)
		}
		var p models.AgentProfile
		if err := yaml.Unmarshal([]byte(substituteEnv(string(data))), &p); err != nil {
			return nil, models.WrapError(models.KindConfig, fmt.Sprintf("parse profile %s", path), err)
		}
		return &p, nil
	}
	return nil, nil
}

// Merge layers overrides onto base: zero values in the override leave the
// base value in place, maps merge key-wise, and slices replace wholesale.
func Merge(base, overrides models.AgentProfile) models.AgentProfile {
	out := base.Clone()

	if overrides.Name != "" {
		out.Name = overrides.Name
	}
	if len(overrides.Focus) > 0 {
		out.Focus = append([]string(nil), overrides.Focus...)
	}
	if overrides.ChallengeStyle != "" {
		out.ChallengeStyle = overrides.ChallengeStyle
	}
	if overrides.Rounds > 0 {
		out.Rounds = overrides.Rounds
	}
	if overrides.ConvergenceThreshold > 0 {
		out.ConvergenceThreshold = overrides.ConvergenceThreshold
	}
	if len(overrides.Phases) > 0 {
		out.Phases = append([]string(nil), overrides.Phases...)
	}
	if overrides.Evidence != "" {
		out.Evidence = overrides.Evidence
	}
	if overrides.VotingMethod != "" {
		out.VotingMethod = overrides.VotingMethod
	}
	if len(overrides.ExcludeProviders) > 0 {
		out.ExcludeProviders = append([]string(nil), overrides.ExcludeProviders...)
	}
	if overrides.Topology != "" {
		out.Topology = overrides.Topology
	}
	if overrides.AdaptivePreset != "" {
		out.AdaptivePreset = overrides.AdaptivePreset
	}
	if overrides.ReputationWeighting {
		out.ReputationWeighting = true
	}
	if len(overrides.Checkpoints) > 0 {
		out.Checkpoints = append([]string(nil), overrides.Checkpoints...)
	}
	if overrides.ControversyThreshold > 0 {
		out.ControversyThreshold = overrides.ControversyThreshold
	}
	if overrides.RedTeam {
		out.RedTeam = true
	}

	out.Roles = mergeStringMap(out.Roles, overrides.Roles)
	out.Prompts = mergeStringMap(out.Prompts, overrides.Prompts)
	out.Hooks = mergeStringMap(out.Hooks, overrides.Hooks)
	if len(overrides.Weights) > 0 {
		if out.Weights == nil {
			out.Weights = make(map[string]float64, len(overrides.Weights))
		}
		for k, v := range overrides.Weights {
			out.Weights[k] = v
		}
	}
	return out
}

func mergeStringMap(base, overrides map[string]string) map[string]string {
	if len(overrides) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]string, len(overrides))
	}
	for k, v := range overrides {
		base[k] = v
	}
	return base
}
