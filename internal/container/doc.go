// Package container реализует lifecycle manager одного выполнения flow.
//
// Один процесс — одно выполнение: контейнер загружает назначенный flow,
// материализует артефакты проекта, запускает движок и сопровождает
// выполнение до конца.
//
//	Created → Starting → Running → (Completed | Failed) → Closed
//
// Сопровождение включает:
//   - трансляцию ресурсного бюджета (CPU_REQUEST, MEMORY_REQUEST) в
//     движок по расписанию и по resize-уведомлениям брокера;
//   - опциональную callback-подсистему job-событий (одноразовая
//     инициализация, включается конфигурацией);
//   - admin-поверхность /healthz, /metrics, /status;
//   - symlink-safe освобождение рабочей директории при завершении.
//
// Teardown (Close) безопасен после частичного старта и при повторном
// вызове; его ошибки логируются и не пробрасываются.
package container
