package signals

import (
	"strings"

	"golang.org/x/tools/cover"
)

// CoverageProfile is a parsed `go test -coverprofile` output indexed by
// repository-relative path. A nil profile reports no gap.
type CoverageProfile struct {
	files map[string]fileCoverage
}

type fileCoverage struct {
	statements int
	covered    int
}

// LoadCoverageProfile parses a coverage profile. Profile file names are
// import paths; modulePath is stripped to map them onto the repository.
func LoadCoverageProfile(profilePath, modulePath string) (*CoverageProfile, error) {
	profiles, err := cover.ParseProfiles(profilePath)
	if err != nil {
		return nil, err
	}
	return newCoverageProfile(profiles, modulePath), nil
}

func newCoverageProfile(profiles []*cover.Profile, modulePath string) *CoverageProfile {
	cp := &CoverageProfile{files: make(map[string]fileCoverage, len(profiles))}
	prefix := strings.TrimSuffix(modulePath, "/") + "/"
	for _, p := range profiles {
		name := p.FileName
		if modulePath != "" {
			name = strings.TrimPrefix(name, prefix)
		}
		fc := cp.files[name]
		for _, b := range p.Blocks {
			fc.statements += b.NumStmt
			if b.Count > 0 {
				fc.covered += b.NumStmt
			}
		}
		cp.files[name] = fc
	}
	return cp
}

// Gap returns the uncovered statement fraction of path. A path absent from
// the profile was never instrumented and reports 1; a listed path with no
// statements reports 0.
func (cp *CoverageProfile) Gap(path string) float64 {
	if cp == nil {
		return 0
	}
	fc, ok := cp.files[path]
	if !ok {
		return 1
	}
	if fc.statements == 0 {
		return 0
	}
	return float64(fc.statements-fc.covered) / float64(fc.statements)
}

// Files returns how many files the profile covers.
func (cp *CoverageProfile) Files() int {
	if cp == nil {
		return 0
	}
	return len(cp.files)
}
