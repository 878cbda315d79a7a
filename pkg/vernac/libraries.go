package vernac

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/proviso-lang/proviso/pkg/config"
)

var ErrLibraryMissing = errors.New("required support library not loaded")

// CheckProgramLibraries verifies the required supporting libraries are
// loaded before program mode is used: each named library must exist in
// the environment and its recorded version must satisfy its semver
// constraint.
func (s *Session) CheckProgramLibraries(reqs []config.LibraryRequirement) error {
	for _, req := range reqs {
		decl, err := s.env.Lookup(req.Name)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrLibraryMissing, req.Name)
		}
		if req.Constraint == "" {
			continue
		}
		constraint, err := semver.NewConstraint(req.Constraint)
		if err != nil {
			return fmt.Errorf("invalid version constraint for %s: %w", req.Name, err)
		}
		if decl.Version == "" {
			return fmt.Errorf("%w: %s carries no version but %q is required", ErrLibraryMissing, req.Name, req.Constraint)
		}
		v, err := semver.NewVersion(decl.Version)
		if err != nil {
			return fmt.Errorf("invalid version %q recorded for %s: %w", decl.Version, req.Name, err)
		}
		if !constraint.Check(v) {
			return fmt.Errorf("library %s requires %s, but %s is loaded", req.Name, req.Constraint, decl.Version)
		}
	}
	return nil
}
