package courses

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/princinho/racebackend/apperr"
	"github.com/princinho/racebackend/utils"
)

const (
	maxNameLength  = 100
	minCheckpoints = 2
	maxCheckpoints = 500
)

type CheckpointInput struct {
	Number int
	Lat    float64
	Lng    float64
}

// NormalizeName returns the canonical course name or a validation error.
func NormalizeName(raw string) (string, error) {
	name := utils.NormalizeName(raw)
	switch {
	case name == "":
		return "", apperr.Validation("invalid_name", "course name is required")
	case strings.Contains(name, "&"):
		return "", apperr.Validation("invalid_name", "course name can't contain '&'")
	case utf8.RuneCountInString(name) > maxNameLength:
		return "", apperr.Validation("invalid_name", fmt.Sprintf("course name is limited to %d characters", maxNameLength))
	}
	return name, nil
}

// validateCheckpoints requires numbers 0..N-1, each exactly once, and valid coordinates.
func validateCheckpoints(cps []CheckpointInput) error {
	if len(cps) < minCheckpoints {
		return apperr.Validation("invalid_checkpoints", "a course needs at least a start and a finish checkpoint")
	}
	if len(cps) > maxCheckpoints {
		return apperr.Validation("invalid_checkpoints", fmt.Sprintf("a course is limited to %d checkpoints", maxCheckpoints))
	}
	seen := make([]bool, len(cps))
	for _, cp := range cps {
		if cp.Number < 0 || cp.Number >= len(cps) {
			return apperr.Validation("invalid_checkpoints", fmt.Sprintf("checkpoint numbers must run from 0 to %d", len(cps)-1))
		}
		if seen[cp.Number] {
			return apperr.Validation("invalid_checkpoints", fmt.Sprintf("checkpoint number %d is duplicated", cp.Number))
		}
		seen[cp.Number] = true
		if cp.Lat < -90 || cp.Lat > 90 {
			return apperr.Validation("invalid_checkpoints", fmt.Sprintf("checkpoint %d: latitude must be between -90 and 90", cp.Number))
		}
		if cp.Lng < -180 || cp.Lng > 180 {
			return apperr.Validation("invalid_checkpoints", fmt.Sprintf("checkpoint %d: longitude must be between -180 and 180", cp.Number))
		}
	}
	return nil
}
