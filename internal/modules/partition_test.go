package modules

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"qgate/internal/policy"
	"qgate/internal/quality"
)

func names(mods []quality.Module) []string {
	out := make([]string, len(mods))
	for i, m := range mods {
		out[i] = m.Name
	}
	return out
}

func TestDirectoryPartition(t *testing.T) {
	p, err := NewPartitioner(policy.Partition{Kind: policy.PartitionDirectory, Depth: 2}, "")
	if err != nil {
		t.Fatalf("NewPartitioner() error = %v", err)
	}

	paths := []string{
		"main.go",
		"internal/quality/pcq.go",
		"internal/quality/sub/deep.go",
		"internal/policy/policy.go",
		"cmd/qgate/main.go",
		"README.md",
	}
	mods := p.Partition(paths)

	want := []string{".", "cmd/qgate", "internal/policy", "internal/quality"}
	if got := names(mods); !reflect.DeepEqual(got, want) {
		t.Fatalf("modules = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(mods[0].Paths, []string{"README.md", "main.go"}) {
		t.Errorf("root module paths = %v", mods[0].Paths)
	}
	if !reflect.DeepEqual(mods[3].Paths, []string{"internal/quality/pcq.go", "internal/quality/sub/deep.go"}) {
		t.Errorf("quality module paths = %v", mods[3].Paths)
	}
}

func TestDirectoryModule(t *testing.T) {
	tests := []struct {
		path  string
		depth int
		want  string
	}{
		{"a.go", 1, "."},
		{"a/b.go", 1, "a"},
		{"a/b/c.go", 1, "a"},
		{"a/b/c.go", 2, "a/b"},
		{"a/b.go", 3, "a"},
	}

	for _, tt := range tests {
		if got := directoryModule(tt.path, tt.depth); got != tt.want {
			t.Errorf("directoryModule(%q, %d) = %q, want %q", tt.path, tt.depth, got, tt.want)
		}
	}
}

func TestDeclaredPartition(t *testing.T) {
	rule := policy.Partition{
		Kind: policy.PartitionDeclared,
		Modules: []policy.ModuleDecl{
			{Name: "generated", Paths: []string{"*.pb.go"}},
			{Name: "api", Paths: []string{"api/**"}},
		},
	}
	p, err := NewPartitioner(rule, "")
	if err != nil {
		t.Fatalf("NewPartitioner() error = %v", err)
	}

	tests := []struct {
		path string
		want string
	}{
		{"api/service.pb.go", "generated"}, // first declaration wins
		{"api/handler.go", "api"},
		{"tools/gen.go", UnassignedModule},
	}
	for _, tt := range tests {
		if got := p.ModuleOf(tt.path); got != tt.want {
			t.Errorf("ModuleOf(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestDeclaredPartitionFromFile(t *testing.T) {
	root := t.TempDir()
	content := "[[module]]\nname = \"core\"\npath = \"core\"\n"
	if err := os.WriteFile(filepath.Join(root, DeclarationFile), []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rule := policy.Partition{
		Kind:    policy.PartitionDeclared,
		File:    DeclarationFile,
		Modules: []policy.ModuleDecl{{Name: "hot", Paths: []string{"core/hot.go"}}},
	}
	p, err := NewPartitioner(rule, root)
	if err != nil {
		t.Fatalf("NewPartitioner() error = %v", err)
	}

	mods := p.Partition([]string{"core/hot.go", "core/cold.go", "x.go"})
	want := []string{UnassignedModule, "core", "hot"}
	if got := names(mods); !reflect.DeepEqual(got, want) {
		t.Errorf("modules = %v, want %v", got, want)
	}
}

func TestDeclaredPartitionRejectsNameClashes(t *testing.T) {
	root := t.TempDir()
	content := "[[module]]\nname = \"core\"\npath = \"core\"\n"
	if err := os.WriteFile(filepath.Join(root, DeclarationFile), []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	tests := []struct {
		name string
		rule policy.Partition
	}{
		{"unassigned", policy.Partition{Kind: policy.PartitionDeclared,
			Modules: []policy.ModuleDecl{{Name: UnassignedModule, Paths: []string{"x/**"}}}}},
		{"root", policy.Partition{Kind: policy.PartitionDeclared,
			Modules: []policy.ModuleDecl{{Name: RootModule, Paths: []string{"*.go"}}}}},
		{"policy and file", policy.Partition{Kind: policy.PartitionDeclared, File: DeclarationFile,
			Modules: []policy.ModuleDecl{{Name: "core", Paths: []string{"lib/**"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if p, err := NewPartitioner(tt.rule, root); err == nil {
				t.Errorf("NewPartitioner() = %+v, want error", p)
			}
		})
	}
}

func TestDeclaredPartitionMissingFile(t *testing.T) {
	rule := policy.Partition{Kind: policy.PartitionDeclared, File: "nope.toml"}
	if _, err := NewPartitioner(rule, t.TempDir()); err == nil {
		t.Error("NewPartitioner() should fail when the modules file is missing")
	}
}

func TestManifestPartition(t *testing.T) {
	p, err := NewPartitioner(policy.Partition{Kind: policy.PartitionManifest}, "")
	if err != nil {
		t.Fatalf("NewPartitioner() error = %v", err)
	}

	paths := []string{
		"go.mod",
		"main.go",
		"services/api/go.mod",
		"services/api/server.go",
		"services/api/plugins/x/go.mod",
		"services/api/plugins/x/x.go",
		"web/package.json",
		"web/src/index.ts",
	}
	mods := p.Partition(paths)

	want := []string{".", "services/api", "services/api/plugins/x", "web"}
	if got := names(mods); !reflect.DeepEqual(got, want) {
		t.Fatalf("modules = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(mods[1].Paths, []string{"services/api/go.mod", "services/api/server.go"}) {
		t.Errorf("services/api paths = %v", mods[1].Paths)
	}
}

func TestManifestPartition_LocatedFromListing(t *testing.T) {
	p, err := NewPartitioner(policy.Partition{Kind: policy.PartitionManifest}, "")
	if err != nil {
		t.Fatalf("NewPartitioner() error = %v", err)
	}
	p.LocateManifests([]string{"go.mod", "main.go", "tools/go.mod", "tools/gen.go", "README.md"})

	mods := p.Partition([]string{"main.go", "tools/gen.go", "tools/sub/x.go"})
	want := []string{".", "tools"}
	if got := names(mods); !reflect.DeepEqual(got, want) {
		t.Fatalf("modules = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(mods[1].Paths, []string{"tools/gen.go", "tools/sub/x.go"}) {
		t.Errorf("tools paths = %v", mods[1].Paths)
	}
}

func TestPartitionIsDisjointAndComplete(t *testing.T) {
	paths := []string{"a/1.go", "a/b/2.go", "c/3.go", "4.go", "a/b/c/5.go"}
	rules := []policy.Partition{
		{Kind: policy.PartitionDirectory, Depth: 1},
		{Kind: policy.PartitionDirectory, Depth: 3},
		{Kind: policy.PartitionDeclared, Modules: []policy.ModuleDecl{{Name: "a", Paths: []string{"a/**"}}}},
		{Kind: policy.PartitionManifest},
	}

	for _, rule := range rules {
		p, err := NewPartitioner(rule, "")
		if err != nil {
			t.Fatalf("NewPartitioner(%+v) error = %v", rule, err)
		}
		seen := make(map[string]int)
		for _, m := range p.Partition(paths) {
			for _, fp := range m.Paths {
				seen[fp]++
			}
		}
		for _, fp := range paths {
			if seen[fp] != 1 {
				t.Errorf("rule %s: %s assigned %d times, want 1", rule.Kind, fp, seen[fp])
			}
		}
	}
}
