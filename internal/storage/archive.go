package storage

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafePath — запись архива выходит за пределы целевой директории.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// Unzip распаковывает архив src в директорию dst.
// Записи, выходящие за пределы dst (zip-slip), отклоняются.
func Unzip(src, dst string) error {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	for _, file := range reader.File {
		if err := extractEntry(file, dst); err != nil {
			return err
		}
	}
	return nil
}

// extractEntry распаковывает одну запись архива.
func extractEntry(file *zip.File, dst string) error {
	path := filepath.Join(dst, file.Name)
	if !strings.HasPrefix(path, filepath.Clean(dst)+string(os.PathSeparator)) {
		return fmt.Errorf("%s: %w", file.Name, ErrUnsafePath)
	}

	if file.FileInfo().IsDir() {
		if err := os.MkdirAll(path, file.Mode()); err != nil {
			return fmt.Errorf("create dir %s: %w", path, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", file.Name, err)
	}
	defer src.Close()

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode())
	if err != nil {
		return fmt.Errorf("create file %s: %w", path, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("extract %s: %w", file.Name, err)
	}
	return nil
}
