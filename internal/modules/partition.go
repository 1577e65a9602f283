package modules

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"qgate/internal/policy"
	"qgate/internal/quality"
)

const (
	// RootModule holds files at the repository root
	RootModule = policy.RootModuleName
	// UnassignedModule holds files no declaration matched
	UnassignedModule = policy.UnassignedModuleName
)

// ManifestFiles are the file names that mark a module root for manifest partitions.
var ManifestFiles = []string{
	"go.mod",
	"package.json",
	"pubspec.yaml",
	"Cargo.toml",
	"pyproject.toml",
	"setup.py",
	"pom.xml",
	"build.gradle",
	"build.gradle.kts",
}

// Partitioner assigns every file to exactly one module.
type Partitioner struct {
	rule  policy.Partition
	decls []policy.ModuleDecl

	roots   []string
	located bool
}

// NewPartitioner builds a partitioner for rule. For declared partitions the
// policy's modules come first, followed by those in rule.File (read relative
// to repoRoot).
func NewPartitioner(rule policy.Partition, repoRoot string) (*Partitioner, error) {
	p := &Partitioner{rule: rule, decls: append([]policy.ModuleDecl(nil), rule.Modules...)}
	if rule.Kind == policy.PartitionDeclared && rule.File != "" {
		fromFile, err := LoadDeclarations(repoRoot, rule.File)
		if err != nil {
			return nil, err
		}
		p.decls = append(p.decls, fromFile...)
	}
	if err := checkDeclNames(p.decls); err != nil {
		return nil, err
	}
	return p, nil
}

// checkDeclNames rejects reserved names and names declared twice, including
// once in the policy and once in the declarations file.
func checkDeclNames(decls []policy.ModuleDecl) error {
	seen := make(map[string]bool, len(decls))
	for _, d := range decls {
		switch {
		case d.Name == RootModule || d.Name == UnassignedModule:
			return fmt.Errorf("module name %q is reserved", d.Name)
		case seen[d.Name]:
			return fmt.Errorf("module %q is declared more than once", d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

// LocateManifests fixes the manifest roots from a full file listing. The
// scored paths usually exclude manifests themselves, so without this call
// roots are searched for among the partitioned paths only.
func (p *Partitioner) LocateManifests(files []string) {
	p.roots = manifestRoots(files)
	p.located = true
}

// Partition groups paths into disjoint modules sorted by name. Paths inside
// each module are sorted.
func (p *Partitioner) Partition(paths []string) []quality.Module {
	var roots []string
	if p.rule.Kind == policy.PartitionManifest {
		roots = p.roots
		if !p.located {
			roots = manifestRoots(paths)
		}
	}

	byName := make(map[string][]string)
	for _, fp := range paths {
		name := p.moduleOf(fp, roots)
		byName[name] = append(byName[name], fp)
	}

	mods := make([]quality.Module, 0, len(byName))
	for name, members := range byName {
		sort.Strings(members)
		mods = append(mods, quality.Module{Name: name, Paths: members})
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].Name < mods[j].Name })
	return mods
}

// ModuleOf returns the module a single path belongs to. Manifest partitions
// need the full path list and resolve every path to RootModule here.
func (p *Partitioner) ModuleOf(fp string) string {
	return p.moduleOf(fp, nil)
}

func (p *Partitioner) moduleOf(fp string, roots []string) string {
	switch p.rule.Kind {
	case policy.PartitionDeclared:
		for _, d := range p.decls {
			for _, pattern := range d.Paths {
				if policy.MatchPattern(pattern, fp) {
					return d.Name
				}
			}
		}
		return UnassignedModule
	case policy.PartitionManifest:
		// roots are sorted longest first so the deepest root wins
		for _, r := range roots {
			if strings.HasPrefix(fp, r+"/") {
				return r
			}
		}
		return RootModule
	default:
		return directoryModule(fp, p.rule.Depth)
	}
}

// directoryModule returns the first depth directory segments of fp.
func directoryModule(fp string, depth int) string {
	dir := path.Dir(fp)
	if dir == "." || dir == "/" {
		return RootModule
	}
	parts := strings.Split(dir, "/")
	if depth > 0 && len(parts) > depth {
		parts = parts[:depth]
	}
	return strings.Join(parts, "/")
}

// manifestRoots returns the directories holding a manifest file, deepest first.
// A manifest at the repository root is not a separate root; those files fall
// through to RootModule.
func manifestRoots(paths []string) []string {
	isManifest := make(map[string]bool, len(ManifestFiles))
	for _, m := range ManifestFiles {
		isManifest[m] = true
	}

	seen := make(map[string]bool)
	var roots []string
	for _, fp := range paths {
		if !isManifest[path.Base(fp)] {
			continue
		}
		dir := path.Dir(fp)
		if dir == "." || seen[dir] {
			continue
		}
		seen[dir] = true
		roots = append(roots, dir)
	}
	sort.Slice(roots, func(i, j int) bool {
		if len(roots[i]) != len(roots[j]) {
			return len(roots[i]) > len(roots[j])
		}
		return roots[i] < roots[j]
	})
	return roots
}
