package domain

import (
	"fmt"
	"time"
)

// ProjectMeta — метаданные загруженного проекта.
//
// Возвращается project loader'ом при старте контейнера и описывает
// архив артефактов, который нужно скачать и распаковать в рабочую
// директорию перед запуском flow.
type ProjectMeta struct {
	// ProjectID — идентификатор проекта.
	ProjectID int64 `json:"project_id"`

	// Version — версия проекта.
	Version int `json:"version"`

	// UploadID — идентификатор загрузки архива.
	UploadID int64 `json:"upload_id"`

	// Uploader — пользователь, загрузивший архив.
	Uploader string `json:"uploader,omitempty"`

	// FileType — тип архива (например, "zip").
	FileType string `json:"file_type"`

	// FileName — имя файла архива в хранилище артефактов.
	FileName string `json:"file_name"`

	// Checksum — MD5 архива для проверки целостности (hex).
	Checksum string `json:"checksum,omitempty"`

	// UploaderIP — адрес, с которого был загружен архив.
	UploaderIP string `json:"uploader_ip,omitempty"`

	// UploadedAt — время загрузки.
	UploadedAt time.Time `json:"uploaded_at"`
}

// ObjectKey возвращает ключ архива в object storage.
func (m *ProjectMeta) ObjectKey() string {
	return fmt.Sprintf("projects/%d/%d/%s", m.ProjectID, m.Version, m.FileName)
}
