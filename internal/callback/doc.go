// Package callback публикует job-события для внешних подписчиков
// платформы.
//
// Подсистема опциональна: контейнер инициализирует её не более одного
// раза за жизнь процесса, и только если jobcallback включён в
// конфигурации. Доступ до инициализации — ошибка программирования,
// а не состояние гонки.
package callback
