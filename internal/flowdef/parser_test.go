package flowdef

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const basicFlow = `
name: basic_flow
nodes:
  - name: extract
    type: command
    config:
      command: echo extract
  - name: transform
    type: command
    dependsOn: [extract]
  - name: load
    type: command
    dependsOn: [transform]
`

func TestParse_Basic(t *testing.T) {
	def, err := Parse([]byte(basicFlow))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if def.Name != "basic_flow" {
		t.Errorf("expected name basic_flow, got %s", def.Name)
	}
	if len(def.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(def.Nodes))
	}
	if def.Nodes[1].DependsOn[0] != "extract" {
		t.Errorf("transform should depend on extract, got %v", def.Nodes[1].DependsOn)
	}
	if def.Nodes[0].Config["command"] != "echo extract" {
		t.Errorf("config should be preserved, got %v", def.Nodes[0].Config)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("nodes: [:::"))
	if err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		expected error
	}{
		{
			name:     "empty nodes",
			yaml:     "name: empty\nnodes: []",
			expected: ErrEmptyNodes,
		},
		{
			name: "empty node name",
			yaml: `
nodes:
  - type: command
`,
			expected: ErrEmptyNodeName,
		},
		{
			name: "duplicate node name",
			yaml: `
nodes:
  - name: a
    type: command
  - name: a
    type: command
`,
			expected: ErrDuplicateNodeName,
		},
		{
			name: "unknown dependency",
			yaml: `
nodes:
  - name: a
    type: command
    dependsOn: [ghost]
`,
			expected: ErrUnknownDependency,
		},
		{
			name: "self dependency",
			yaml: `
nodes:
  - name: a
    type: command
    dependsOn: [a]
`,
			expected: ErrSelfDependency,
		},
		{
			name: "cyclic dependency",
			yaml: `
nodes:
  - name: a
    type: command
    dependsOn: [b]
  - name: b
    type: command
    dependsOn: [a]
`,
			expected: ErrCyclicDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "basic_flow.flow"), []byte(basicFlow), 0o644); err != nil {
		t.Fatal(err)
	}

	def, err := Load(dir, "basic_flow")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(def.Nodes) != 3 {
		t.Errorf("expected 3 nodes, got %d", len(def.Nodes))
	}
}

func TestLoad_DefaultsName(t *testing.T) {
	dir := t.TempDir()
	unnamed := `
nodes:
  - name: only
    type: noop
`
	if err := os.WriteFile(filepath.Join(dir, "daily.flow"), []byte(unnamed), 0o644); err != nil {
		t.Fatal(err)
	}

	def, err := Load(dir, "daily")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Name != "daily" {
		t.Errorf("name should default to file name, got %s", def.Name)
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(t.TempDir(), "missing")
	if !errors.Is(err, ErrDefinitionNotFound) {
		t.Errorf("expected ErrDefinitionNotFound, got %v", err)
	}
}
