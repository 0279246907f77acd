// Package flowdef загружает и валидирует YAML-определения flow
// (.flow файлы) из распакованной директории проекта.
//
// Пакет только материализует определение; построение плана
// выполнения — зона ответственности движка.
package flowdef
