package minio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/snapshop-tech/go-backend/internal/cfg"
	"github.com/snapshop-tech/go-backend/internal/domain"
	"github.com/snapshop-tech/go-backend/internal/infrastructure"
	"github.com/snapshop-tech/go-backend/internal/usecase"
	"github.com/snapshop-tech/go-backend/pkg/e"
	"github.com/snapshop-tech/go-backend/pkg/logger"
)

// MinioInfrastructure управляет загрузкой, чтением и очисткой изображений товаров в MinIO.
type MinioInfrastructure struct {
	minioRepo   usecase.ImageRepository
	cfg         *cfg.MinIOCfg
	logger      logger.Logger
	shutdownCtx context.Context
	wg          sync.WaitGroup
}

func NewMinioInfrastructure(minioRepo usecase.ImageRepository, cfg *cfg.MinIOCfg, logger logger.Logger, shutdownCtx context.Context) *MinioInfrastructure {
	return &MinioInfrastructure{
		minioRepo:   minioRepo,
		cfg:         cfg,
		logger:      logger,
		shutdownCtx: shutdownCtx,
		wg:          sync.WaitGroup{},
	}
}

// ObjectKey детерминированно выводит ключ объекта из имени файла.
// Повторная загрузка файла с тем же именем даёт тот же ключ, а значит
// тот же image_path в каталоге и ту же точку в векторном хранилище.
func (m *MinioInfrastructure) ObjectKey(image usecase.ProductImage) (string, error) {
	ext, err := infrastructure.GetExtensionFromMIME(image.MimeType)
	if err != nil {
		return "", fmt.Errorf("invalid mime type %s for %s: %w", image.MimeType, image.Name, err)
	}

	return fmt.Sprintf("products/%s.%s", slugFromFilename(image.Name), ext), nil
}

// UploadImage кладёт изображение в бакет под уже вычисленный ключ.
func (m *MinioInfrastructure) UploadImage(ctx context.Context, key string, image usecase.ProductImage) error {
	const op = "MinioInfrastructure.UploadImage"

	newImage := domain.NewImage(key, m.cfg.BucketName, key, image.Data, &image.Size, &image.MimeType)

	if _, err := m.minioRepo.Upload(ctx, newImage); err != nil {
		return e.Wrap(op, fmt.Errorf("%w: %w", e.ErrStorageUnavailable, err))
	}

	return nil
}

// FetchImage скачивает байты изображения по ключу для пересчёта embedding'а.
func (m *MinioInfrastructure) FetchImage(ctx context.Context, key string) ([]byte, error) {
	const op = "MinioInfrastructure.FetchImage"

	data, err := m.minioRepo.Fetch(ctx, key)
	if err != nil {
		return nil, e.Wrap(op, fmt.Errorf("%w: %w", e.ErrStorageUnavailable, err))
	}

	return data, nil
}

// ResolveImageURL возвращает отображаемый URL изображения товара.
// Никогда не завершается ошибкой: при отсутствии объекта подставляется
// заглушка, а при недоступности presign — исходный ключ.
func (m *MinioInfrastructure) ResolveImageURL(ctx context.Context, key string) string {
	resolved := key

	exists, err := m.minioRepo.Exists(ctx, key)
	if err != nil {
		m.logger.Warnf("image existence check failed, key=%s: %v", key, err)
	} else if !exists {
		resolved = m.cfg.DefaultImageKey
	}

	url, err := m.minioRepo.PresignedURL(ctx, resolved)
	if err != nil {
		m.logger.Warnf("presign failed, key=%s: %v", resolved, err)
		return resolved
	}

	return url
}

// CleanupImages запускает фоновую очистку указанных ключей MinIO
func (m *MinioInfrastructure) CleanupImages(keys []string) {
	if len(keys) == 0 {
		return
	}
	m.wg.Add(1)
	go m.cleanupUploadedKeys(keys)
}

// cleanupUploadedKeys удаляет указанные объекты из MinIO с экспоненциальной задержкой и jitter.
func (m *MinioInfrastructure) cleanupUploadedKeys(keys []string) {
	defer m.wg.Done() // сигнализируем завершение компенсации
	const op = "MinioInfrastructure.cleanupUploadedKeys"
	m.logger.Infof("%s: Cleaning up uploaded keys", op)

	// Создаём контекст с таймаутом на основе shutdownCtx
	ctx, cancel := context.WithTimeout(m.shutdownCtx, 30*time.Second)
	defer cancel()

	for _, key := range keys {
		backoff := time.Second
		for attempt := 0; attempt < 3; attempt++ {
			if err := m.minioRepo.Delete(ctx, key); err == nil {
				break // Успешно удалено
			}

			// Проверяем, не отменён ли контекст
			select {
			case <-ctx.Done():
				m.logger.Warnf("cleanup interrupted by shutdown, key=%v", key)
				return
			default:
			}

			if attempt < 2 {
				// Добавляем jitter для распределения нагрузки
				jitter := time.Duration(time.Now().UnixNano() % int64(time.Second))
				sleepTime := backoff + jitter

				select {
				case <-time.After(sleepTime):
				case <-ctx.Done():
					m.logger.Warnf("cleanup interrupted by shutdown during backoff, key=%v", key)
					return
				}
				backoff *= 2
			}
		}
	}
}

// WaitForCleanup ожидает завершения всех фоновых задач очистки с учётом таймаута завершения приложения.
func (m *MinioInfrastructure) WaitForCleanup(shutdownTimeoutCtx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-shutdownTimeoutCtx.Done():
		return fmt.Errorf("minio cleanup timeout during shutdown: %w", shutdownTimeoutCtx.Err())
	}
}

// slugFromFilename приводит имя файла (без расширения) к безопасному ключу:
// нижний регистр, последовательности недопустимых символов схлопываются в дефис.
func slugFromFilename(name string) string {
	if idx := strings.LastIndexByte(name, '.'); idx > 0 {
		name = name[:idx]
	}

	var b strings.Builder
	b.Grow(len(name))

	lastDash := true // не начинаем с дефиса
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		return "unnamed"
	}

	return slug
}
