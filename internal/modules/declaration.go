package modules

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"qgate/internal/policy"
)

// DeclarationFile is read when a declared partition names no file.
const DeclarationFile = "MODULES.toml"

// Manifest is the MODULES.toml document:
//
//	version = 1
//
//	[[module]]
//	name = "engine"
//	path = "internal/engine"
//
//	[[module]]
//	name = "generated"
//	paths = ["*.pb.go", "internal/gen/**"]
type Manifest struct {
	Version int        `toml:"version"`
	Modules []Declared `toml:"module"`
}

// Declared is one [[module]] table. Path claims a whole directory; Paths
// adds glob patterns. Name defaults to the last element of Path.
type Declared struct {
	Name        string   `toml:"name,omitempty"`
	Path        string   `toml:"path,omitempty"`
	Paths       []string `toml:"paths,omitempty"`
	Description string   `toml:"description,omitempty"`
	Owner       string   `toml:"owner,omitempty"`
}

// ReadManifest decodes file. Unknown keys are rejected so a typo such as
// "pathes" fails loudly instead of silently claiming nothing.
func ReadManifest(file string) (*Manifest, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("module declarations: %w", err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("module declarations %s: unknown keys:\n%s", filepath.Base(file), strict.String())
		}
		return nil, fmt.Errorf("module declarations %s: %w", filepath.Base(file), err)
	}
	if m.Version == 0 {
		m.Version = 1
	}
	if m.Version != 1 {
		return nil, fmt.Errorf("module declarations %s: unsupported version %d", filepath.Base(file), m.Version)
	}
	return &m, nil
}

// Rules turns the manifest into ordered pattern rules; the first rule that
// matches a file owns it.
func (m *Manifest) Rules() ([]policy.ModuleDecl, error) {
	rules := make([]policy.ModuleDecl, 0, len(m.Modules))
	names := make(map[string]int, len(m.Modules))
	for i, d := range m.Modules {
		var patterns []string
		dir := strings.Trim(filepath.ToSlash(d.Path), "/")
		if dir != "" {
			patterns = append(patterns, dir+"/**")
		}
		patterns = append(patterns, d.Paths...)
		if len(patterns) == 0 {
			return nil, fmt.Errorf("module #%d: needs path or paths", i+1)
		}

		name := d.Name
		if name == "" && dir != "" {
			name = path.Base(dir)
		}
		if name == "" {
			return nil, fmt.Errorf("module #%d: needs a name", i+1)
		}
		if name == RootModule || name == UnassignedModule {
			return nil, fmt.Errorf("module #%d: name %q is reserved", i+1, name)
		}
		if prev, dup := names[name]; dup {
			return nil, fmt.Errorf("module #%d: name %q already used by module #%d", i+1, name, prev)
		}
		names[name] = i + 1
		rules = append(rules, policy.ModuleDecl{Name: name, Paths: patterns})
	}
	return rules, nil
}

// LoadDeclarations reads the rules of file, resolved against repoRoot;
// an empty file means DeclarationFile.
func LoadDeclarations(repoRoot, file string) ([]policy.ModuleDecl, error) {
	if file == "" {
		file = DeclarationFile
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(repoRoot, file)
	}
	m, err := ReadManifest(file)
	if err != nil {
		return nil, err
	}
	return m.Rules()
}

// ExampleManifest is what `qgate modules init` writes.
func ExampleManifest() *Manifest {
	return &Manifest{
		Version: 1,
		Modules: []Declared{
			{Name: "engine", Path: "internal/engine", Description: "evaluation pipeline"},
			{Name: "generated", Paths: []string{"*.pb.go", "internal/gen/**"}, Description: "generated code"},
		},
	}
}

// WriteManifest encodes m to file, refusing to replace an existing file
// unless force is set.
func WriteManifest(file string, m *Manifest, force bool) error {
	data, err := toml.Marshal(m)
	if err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(file, flags, 0o644)
	if os.IsExist(err) {
		return fmt.Errorf("%s already exists (use --force to overwrite)", file)
	}
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
