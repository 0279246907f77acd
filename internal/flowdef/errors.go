package flowdef

import "errors"

// Ошибки валидации определения flow.
var (
	// ErrEmptyNodes — flow не содержит jobs.
	ErrEmptyNodes = errors.New("flow definition has no nodes")

	// ErrEmptyNodeName — job не имеет имени.
	ErrEmptyNodeName = errors.New("node has empty name")

	// ErrDuplicateNodeName — несколько jobs с одинаковым именем.
	ErrDuplicateNodeName = errors.New("duplicate node name")

	// ErrUnknownDependency — job зависит от несуществующего job.
	ErrUnknownDependency = errors.New("node depends on unknown node")

	// ErrSelfDependency — job зависит от самого себя.
	ErrSelfDependency = errors.New("node depends on itself")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrDefinitionNotFound — .flow файл не найден в директории проекта.
	ErrDefinitionNotFound = errors.New("flow definition not found")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	Node    string // имя job, где произошла ошибка
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Node != "" {
		return "node " + e.Node + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(node, message string, err error) *ValidationError {
	return &ValidationError{
		Node:    node,
		Message: message,
		Err:     err,
	}
}
