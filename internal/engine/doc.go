// Package engine содержит минимальный in-process движок выполнения flow.
//
// Движок выполняет узлы определения последовательно в порядке
// зависимостей: command-узлы через shell, noop-узлы мгновенно.
// Уведомления о статусах узлов уходят в callback-подсистему, если
// она инициализирована.
package engine
