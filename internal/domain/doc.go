// Package domain содержит основные типы предметной области контейнера:
// ExecutableFlow, определение flow (FlowDef), метаданные проекта
// и статусы выполнения.
//
// Типы не содержат бизнес-логики — только данные и простые методы.
package domain
