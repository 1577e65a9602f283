package stratify

import (
	"os"
	"path/filepath"

	"golang.org/x/mod/modfile"

	"qgate/internal/version"
)

// IsSelfTarget reports whether the tree at root is one of the given Go
// modules, judged by the module directive of root/go.mod. With no
// modulePaths the engine's own module path is used. A missing go.mod is
// not an error.
func IsSelfTarget(root string, modulePaths ...string) (bool, error) {
	if len(modulePaths) == 0 {
		modulePaths = []string{version.ModulePath}
	}

	mod, err := ModulePath(root)
	if err != nil || mod == "" {
		return false, err
	}
	for _, p := range modulePaths {
		if mod == p {
			return true, nil
		}
	}
	return false, nil
}

// ModulePath returns the module path declared by root/go.mod, or "" when
// there is no go.mod or it declares no module. Quoted and escaped paths are
// unquoted the way the go command does.
func ModulePath(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return modfile.ModulePath(data), nil
}
