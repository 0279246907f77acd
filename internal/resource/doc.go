// Package resource переводит orchestrator-строки ресурсных квот
// (CPU_REQUEST, MEMORY_REQUEST) в числовые значения для движка:
// доли ядер и байты.
//
// Парсинг чистый и детерминированный; источник окружения (Environ)
// подставляется снаружи.
package resource
