// Package repo — доступ контейнера к БД платформы:
// метаданные проектов (project_versions) и состояние выполнения
// (executions).
//
// Контейнер потребляет эти репозитории через узкие интерфейсы на
// стороне пакета container, чтобы тесты подставляли fakes.
package repo
