package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/automata-container/internal/domain"
)

// ProjectRepo — loader метаданных проектов.
//
// Контейнеру нужна ровно одна операция: получить описание архива
// артефактов для пары (project, version), зафиксированной при submit.
type ProjectRepo struct {
	pool *pgxpool.Pool
}

// NewProjectRepo создаёт новый ProjectRepo.
func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

// FetchProjectMetadata возвращает метаданные загруженного проекта.
// Отсутствие записи — ErrNotFound (фатально для старта контейнера).
func (r *ProjectRepo) FetchProjectMetadata(ctx context.Context, projectID int64, version int) (*domain.ProjectMeta, error) {
	query := `
		SELECT project_id, version, upload_id, uploader, file_type, file_name,
		       checksum, uploader_ip, uploaded_at
		FROM project_versions
		WHERE project_id = $1 AND version = $2
	`

	var meta domain.ProjectMeta
	var uploader, checksum, uploaderIP *string

	err := r.pool.QueryRow(ctx, query, projectID, version).Scan(
		&meta.ProjectID,
		&meta.Version,
		&meta.UploadID,
		&uploader,
		&meta.FileType,
		&meta.FileName,
		&checksum,
		&uploaderIP,
		&meta.UploadedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("project %d version %d: %w", projectID, version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch project metadata: %w", err)
	}

	if uploader != nil {
		meta.Uploader = *uploader
	}
	if checksum != nil {
		meta.Checksum = *checksum
	}
	if uploaderIP != nil {
		meta.UploaderIP = *uploaderIP
	}

	return &meta, nil
}
