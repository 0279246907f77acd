package engine

import "errors"

var (
	// ErrNoDefinition — runner создан без загруженного определения flow.
	ErrNoDefinition = errors.New("flow definition is not loaded")

	// ErrUnknownNodeType — тип узла не поддерживается движком.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrNoCommand — у command-узла нет параметра command.
	ErrNoCommand = errors.New("command node has no command")

	// ErrCyclicDefinition — определение содержит цикл.
	ErrCyclicDefinition = errors.New("flow definition contains a cycle")
)
