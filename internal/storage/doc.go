// Package storage скачивает артефакты проектов из object storage
// (MinIO/S3) и распаковывает их в рабочую директорию контейнера.
package storage
