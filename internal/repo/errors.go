package repo

import "errors"

// Общие ошибки loader'ов.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState — операция невозможна в текущем статусе выполнения.
	ErrInvalidState = errors.New("invalid state")
)
