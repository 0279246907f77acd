// Package fsutil реализует symlink-safe удаление артефактов рабочей
// директории: путь плюс вся цепочка символических ссылок до конечной
// цели, с защитой от циклов.
//
// Очистка best-effort и forward-progressing, никогда не транзакционная.
package fsutil
