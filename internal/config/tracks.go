// Package config loads and validates anvil's declarative inputs: the tracks
// file, the verify contract, and the session configuration assembled from
// CLI flags (spec.md §6).
package config

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anvil-run/anvil/internal/core"
	"github.com/anvil-run/anvil/internal/errors"
)

// Role is a track's role in a session.
type Role string

const (
	RoleFixer        Role = "fixer"
	RoleBreaker      Role = "breaker"
	RoleDebugger     Role = "debugger"
	RoleExperimental Role = "experimental"
)

func (r Role) valid() bool {
	switch r {
	case RoleFixer, RoleBreaker, RoleDebugger, RoleExperimental:
		return true
	}
	return false
}

// Provider is a registered agent adapter kind (spec.md §4.5). The tracks
// file loader only accepts the providers anvil ships an adapter for; the
// "error" adapter is synthesized internally for configurations assembled
// outside this loader and is never itself a valid tracks-file value.
type Provider string

const (
	ProviderManual Provider = "manual"
	ProviderCLI    Provider = "cli"
)

func (p Provider) valid() bool {
	switch p {
	case ProviderManual, ProviderCLI:
		return true
	}
	return false
}

// Budget bounds a track's iteration loop.
type Budget struct {
	MaxIters        int `yaml:"max_iters"`
	PerIterTimeoutS int `yaml:"per_iter_timeout_s"`
}

// TrackConfig is one entry of the tracks file.
type TrackConfig struct {
	Name            string         `yaml:"name"`
	Role            Role           `yaml:"role"`
	Provider        Provider       `yaml:"provider"`
	Model           string         `yaml:"model,omitempty"`
	ProviderOptions map[string]any `yaml:"provider_options,omitempty"`
	Directives      string         `yaml:"directives,omitempty"`
	Budget          Budget         `yaml:"budgets"`
}

// PerIterTimeout returns the track's per-iteration timeout as a duration.
func (t TrackConfig) PerIterTimeout() time.Duration {
	return time.Duration(t.Budget.PerIterTimeoutS) * time.Second
}

// TracksFile is the parsed, validated tracks configuration file.
type TracksFile struct {
	Tracks []TrackConfig `yaml:"tracks"`
}

// ParseTracksFile parses and validates tracks-file YAML bytes.
func ParseTracksFile(data []byte) (TracksFile, error) {
	var raw TracksFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return TracksFile{}, errors.Wrap(errors.EInvalidConfig, "invalid tracks file yaml", err)
	}
	if err := ValidateTracksFile(raw); err != nil {
		return TracksFile{}, err
	}
	return raw, nil
}

// ValidateTracksFile enforces spec.md §6: names restricted and unique,
// roles and providers drawn from a fixed enum, budgets well-formed.
func ValidateTracksFile(tf TracksFile) error {
	if len(tf.Tracks) == 0 {
		return errors.New(errors.EInvalidConfig, "tracks file must declare at least one track")
	}

	names := make([]string, len(tf.Tracks))
	for i, tr := range tf.Tracks {
		names[i] = tr.Name
	}
	if err := core.ValidateTrackNames(names); err != nil {
		return err
	}

	for _, tr := range tf.Tracks {
		if !tr.Role.valid() {
			return errors.NewWithDetails(errors.EInvalidConfig,
				"unknown role for track "+tr.Name,
				map[string]string{"track": tr.Name, "role": string(tr.Role)})
		}
		if !tr.Provider.valid() {
			return errors.NewWithDetails(errors.EUnknownProvider,
				"unknown provider for track "+tr.Name,
				map[string]string{"track": tr.Name, "provider": string(tr.Provider)})
		}
		if tr.Budget.MaxIters < 1 {
			return errors.NewWithDetails(errors.EInvalidConfig,
				"max_iters must be >= 1 for track "+tr.Name,
				map[string]string{"track": tr.Name})
		}
		if tr.Budget.PerIterTimeoutS < 1 {
			return errors.NewWithDetails(errors.EInvalidConfig,
				"per_iter_timeout_s must be >= 1 for track "+tr.Name,
				map[string]string{"track": tr.Name})
		}
	}

	return nil
}
