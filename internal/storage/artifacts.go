package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/shaiso/automata-container/internal/domain"
)

// Ошибки хранилища артефактов.
var (
	// ErrChecksumMismatch — MD5 скачанного архива не совпал с метаданными.
	ErrChecksumMismatch = errors.New("artifact checksum mismatch")

	// ErrUnsupportedFileType — контейнер умеет распаковывать только zip.
	ErrUnsupportedFileType = errors.New("unsupported artifact file type")
)

// Config — конфигурация object storage.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
	Region    string `yaml:"region"`

	// Bucket — bucket с архивами проектов.
	Bucket string `yaml:"bucket"`
}

// ConfigFromEnv читает конфигурацию хранилища из окружения.
func ConfigFromEnv() Config {
	cfg := Config{
		Endpoint:  os.Getenv("ARTIFACTS_ENDPOINT"),
		AccessKey: os.Getenv("ARTIFACTS_ACCESS_KEY"),
		SecretKey: os.Getenv("ARTIFACTS_SECRET_KEY"),
		Secure:    os.Getenv("ARTIFACTS_SECURE") == "true",
		Region:    os.Getenv("ARTIFACTS_REGION"),
		Bucket:    os.Getenv("ARTIFACTS_BUCKET"),
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:9000"
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "automata-projects"
	}
	return cfg
}

// ArtifactStore скачивает архивы проектов из object storage и
// распаковывает их в рабочую директорию контейнера.
type ArtifactStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// New создаёт ArtifactStore.
func New(cfg Config, logger *slog.Logger) (*ArtifactStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	return &ArtifactStore{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

// Download скачивает архив проекта, сверяет checksum и распаковывает
// его в dir. Временный файл архива удаляется в любом случае.
func (s *ArtifactStore) Download(ctx context.Context, meta *domain.ProjectMeta, dir string) error {
	if !strings.EqualFold(meta.FileType, "zip") {
		return fmt.Errorf("%s: %w", meta.FileType, ErrUnsupportedFileType)
	}

	key := meta.ObjectKey()

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	tmp, err := os.CreateTemp("", "project-*.zip")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	hash := md5.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hash), obj); err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}

	if meta.Checksum != "" {
		got := hex.EncodeToString(hash.Sum(nil))
		if !strings.EqualFold(got, meta.Checksum) {
			return fmt.Errorf("object %s: expected %s, got %s: %w",
				key, meta.Checksum, got, ErrChecksumMismatch)
		}
	}

	if err := Unzip(tmp.Name(), dir); err != nil {
		return fmt.Errorf("unpack %s: %w", key, err)
	}

	s.logger.Info("project artifacts downloaded",
		"bucket", s.bucket,
		"key", key,
		"dir", dir,
	)

	return nil
}
