package flowdef

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/automata-container/internal/domain"
)

// Parse разбирает YAML-содержимое .flow файла и валидирует его.
func Parse(data []byte) (*domain.FlowDef, error) {
	var def domain.FlowDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("unmarshal flow definition: %w", err)
	}

	if err := Validate(&def); err != nil {
		return nil, err
	}

	return &def, nil
}

// Load читает определение flow по имени из распакованной директории
// проекта: <dir>/<name>.flow.
func Load(dir, name string) (*domain.FlowDef, error) {
	path := filepath.Join(dir, name+".flow")

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrDefinitionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read flow definition %s: %w", path, err)
	}

	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if def.Name == "" {
		def.Name = name
	}
	return def, nil
}

// Validate выполняет полную валидацию определения flow.
//
// Проверяет:
//   - Наличие jobs
//   - Уникальность имён jobs
//   - Валидность зависимостей (dependsOn)
//   - Отсутствие self-dependency и циклов
func Validate(def *domain.FlowDef) error {
	if def == nil || len(def.Nodes) == 0 {
		return ErrEmptyNodes
	}

	names := make(map[string]bool, len(def.Nodes))
	for i := range def.Nodes {
		node := &def.Nodes[i]

		if node.Name == "" {
			return NewValidationError("", "node has empty name", ErrEmptyNodeName)
		}
		if names[node.Name] {
			return NewValidationError(node.Name,
				fmt.Sprintf("duplicate node name: %s", node.Name), ErrDuplicateNodeName)
		}
		names[node.Name] = true

		for _, dep := range node.DependsOn {
			if dep == node.Name {
				return NewValidationError(node.Name,
					"node depends on itself", ErrSelfDependency)
			}
		}
	}

	for i := range def.Nodes {
		node := &def.Nodes[i]
		for _, dep := range node.DependsOn {
			if !names[dep] {
				return NewValidationError(node.Name,
					fmt.Sprintf("depends on unknown node: %s", dep), ErrUnknownDependency)
			}
		}
	}

	return detectCycles(def)
}

// detectCycles проверяет граф зависимостей на циклы (DFS с раскраской).
func detectCycles(def *domain.FlowDef) error {
	deps := make(map[string][]string, len(def.Nodes))
	for i := range def.Nodes {
		deps[def.Nodes[i].Name] = def.Nodes[i].DependsOn
	}

	const (
		white = 0 // не посещён
		gray  = 1 // в текущем пути
		black = 2 // обработан
	)
	color := make(map[string]int, len(deps))

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = gray
		for _, dep := range deps[name] {
			switch color[dep] {
			case gray:
				return NewValidationError(name,
					fmt.Sprintf("cycle through %s", dep), ErrCyclicDependency)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}

	for name := range deps {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}
