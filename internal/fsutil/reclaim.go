package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DeleteSymlinked удаляет path и, если это символическая ссылка,
// каждую ссылку в цепочке разрешения плюс конечную цель.
//
// Цепочка разрешается по одному hop за раз; цель удаляется раньше
// указывающей на неё ссылки. Конечная цель-директория удаляется
// рекурсивно (семантика очистки рабочей директории).
//
// Защита от циклов: множество уже посещённых путей в рамках одного
// вызова; повторно встреченный путь считается уже reclaimed.
//
// Идемпотентность: несуществующий path — это no-op, не ошибка.
// Частичные сбои не откатывают уже удалённое: ошибки по отдельным
// путям собираются, остаток цепочки всё равно обрабатывается.
//
// Возвращает количество удалённых путей и агрегированную ошибку.
func DeleteSymlinked(path string) (int, error) {
	r := &reclaimer{visited: make(map[string]struct{})}
	r.reclaim(path)
	return r.removed, errors.Join(r.errs...)
}

// CleanDir удаляет все записи директории dir по тем же symlink-safe
// правилам, что и DeleteSymlinked, а затем саму директорию.
// Несуществующая директория — no-op.
func CleanDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read dir %s: %w", dir, err)
	}

	r := &reclaimer{visited: make(map[string]struct{})}
	for _, entry := range entries {
		r.reclaim(filepath.Join(dir, entry.Name()))
	}

	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.errs = append(r.errs, fmt.Errorf("remove dir %s: %w", dir, err))
	} else if err == nil {
		r.removed++
	}

	return r.removed, errors.Join(r.errs...)
}

// reclaimer — состояние одного reclaim-вызова.
type reclaimer struct {
	visited map[string]struct{}
	removed int
	errs    []error
}

// reclaim обрабатывает один путь: сначала цель (если это ссылка),
// потом сам путь.
func (r *reclaimer) reclaim(path string) {
	key, err := filepath.Abs(path)
	if err != nil {
		key = filepath.Clean(path)
	}
	if _, seen := r.visited[key]; seen {
		return
	}
	r.visited[key] = struct{}{}

	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("lstat %s: %w", path, err))
		return
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("readlink %s: %w", path, err))
		} else {
			// Относительная цель разрешается против директории ссылки.
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(path), target)
			}
			r.reclaim(target)
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.errs = append(r.errs, fmt.Errorf("remove link %s: %w", path, err))
		} else if err == nil {
			r.removed++
		}
		return
	}

	if err := os.RemoveAll(path); err != nil {
		r.errs = append(r.errs, fmt.Errorf("remove %s: %w", path, err))
		return
	}
	r.removed++
}
