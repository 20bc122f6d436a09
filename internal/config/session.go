package config

import (
	"github.com/anvil-run/anvil/internal/core"
	"github.com/anvil-run/anvil/internal/errors"
)

// Mode is the session mode (spec.md §3).
type Mode string

const (
	ModeDebug  Mode = "debug"
	ModeHarden Mode = "harden"
)

// SessionConfig is the session configuration, immutable for a run
// (spec.md §3).
type SessionConfig struct {
	RunID              string
	RunRoot            string
	RepoPath           string
	Mode               Mode
	IssueText          string
	Resume             bool
	AutoApply          bool
	ContainerIsolation bool
	VerifyPatches      bool // harden mode only
	ParentBranch       string // branch worktrees fork from; empty means HEAD
	Tracks             []TrackConfig
}

// EnvToggles holds the environment-level defaults spec.md §6 calls out:
// auto-apply, default container-isolation, default per-iteration timeout,
// and a verify-contract path override.
type EnvToggles struct {
	AutoApplyDefault          bool
	ContainerIsolationDefault bool
	PerIterTimeoutDefault     int // seconds
	VerifyContractPath        string
}

// DefaultEnvToggles returns anvil's built-in defaults.
func DefaultEnvToggles() EnvToggles {
	return EnvToggles{
		AutoApplyDefault:          false,
		ContainerIsolationDefault: false,
		PerIterTimeoutDefault:     600,
		VerifyContractPath:        "",
	}
}

// Validate checks a SessionConfig against spec.md §3's invariants: a valid
// run id, a nonempty repo path and run root, a known mode, and a
// track list that independently validates.
func Validate(cfg SessionConfig) error {
	if err := core.ValidateName(cfg.RunID); err != nil {
		return err
	}
	if cfg.RepoPath == "" {
		return errors.New(errors.EUsage, "repo path is required")
	}
	if cfg.RunRoot == "" {
		return errors.New(errors.EUsage, "run root is required")
	}
	if cfg.Mode != ModeDebug && cfg.Mode != ModeHarden {
		return errors.NewWithDetails(errors.EUsage, "mode must be debug or harden",
			map[string]string{"mode": string(cfg.Mode)})
	}
	if len(cfg.Tracks) == 0 {
		return errors.New(errors.EInvalidConfig, "session must declare at least one track")
	}
	return ValidateTracksFile(TracksFile{Tracks: cfg.Tracks})
}
