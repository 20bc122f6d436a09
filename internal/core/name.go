// Package core provides identifier validation and naming conventions shared
// across anvil: run ids, track names, and the branch names derived from them.
package core

import (
	"regexp"

	"github.com/anvil-run/anvil/internal/errors"
)

// Name validation constants, shared by run ids and track names (spec.md §3:
// "a restricted character set").
const (
	NameMinLen = 2
	NameMaxLen = 40
)

// namePattern: starts with a lowercase letter, then letters/digits/hyphens,
// no consecutive or trailing hyphens.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// ValidateName checks that name is a valid run id or track name.
//
// Rules:
//   - length 2-40
//   - starts with a lowercase letter
//   - lowercase letters, digits, and hyphens only
//   - no consecutive or trailing hyphens
func ValidateName(name string) error {
	if len(name) < NameMinLen {
		return errors.NewWithDetails(
			errors.EInvalidName,
			"name must be at least 2 characters",
			map[string]string{"name": name, "min_length": "2"},
		)
	}
	if len(name) > NameMaxLen {
		return errors.NewWithDetails(
			errors.EInvalidName,
			"name must be at most 40 characters",
			map[string]string{"name": name, "max_length": "40"},
		)
	}
	if !namePattern.MatchString(name) {
		return errors.NewWithDetails(
			errors.EInvalidName,
			"name must contain only lowercase letters, digits, and hyphens; must start with a letter; no consecutive or trailing hyphens",
			map[string]string{"name": name},
		)
	}
	return nil
}

// ValidateTrackNames checks a full list of track names for individual
// validity and mutual uniqueness (spec.md §6: "must be unique").
func ValidateTrackNames(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if err := ValidateName(n); err != nil {
			return err
		}
		if seen[n] {
			return errors.NewWithDetails(
				errors.EInvalidName,
				"duplicate track name: "+n,
				map[string]string{"name": n},
			)
		}
		seen[n] = true
	}
	return nil
}
