package minio

import (
	"bytes"
	"context"
	"io"

	"github.com/jimlawless/whereami"
	"github.com/minio/minio-go/v7"
	"github.com/snapshop-tech/go-backend/internal/cfg"
	"github.com/snapshop-tech/go-backend/internal/domain"
	"github.com/snapshop-tech/go-backend/pkg/e"
)

// ImageRepo реализует репозиторий изображений поверх MinIO.
type ImageRepo struct {
	mc  *minio.Client
	cfg *cfg.MinIOCfg
}

func NewImageRepo(mc *minio.Client, cfg *cfg.MinIOCfg) *ImageRepo {
	return &ImageRepo{
		mc:  mc,
		cfg: cfg,
	}
}

// Upload загружает изображение в MinIO и возвращает ключ объекта.
// Ключ детерминирован, поэтому повторная загрузка того же изображения
// перезаписывает объект, а не создаёт новый.
func (i *ImageRepo) Upload(ctx context.Context, image *domain.Image) (string, error) {
	reader := bytes.NewReader(image.Bytes)

	info, err := i.mc.PutObject(ctx, i.cfg.BucketName, image.ObjectKey, reader, *image.Size, minio.PutObjectOptions{
		ContentType: *image.ContentType,
	})
	if err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	return info.Key, nil
}

// Delete удаляет объект из MinIO по указанному ключу.
func (i *ImageRepo) Delete(ctx context.Context, key string) error {
	if err := i.mc.RemoveObject(ctx, i.cfg.BucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// Fetch скачивает содержимое объекта по ключу. Используется при регенерации embedding'ов.
func (i *ImageRepo) Fetch(ctx context.Context, key string) ([]byte, error) {
	object, err := i.mc.GetObject(ctx, i.cfg.BucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return data, nil
}

// Exists проверяет наличие объекта в бакете.
func (i *ImageRepo) Exists(ctx context.Context, key string) (bool, error) {
	_, err := i.mc.StatObject(ctx, i.cfg.BucketName, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}

		return false, e.Wrap(whereami.WhereAmI(), err)
	}

	return true, nil
}

// PresignedURL выдаёт временную ссылку на объект со сроком жизни из конфигурации.
func (i *ImageRepo) PresignedURL(ctx context.Context, key string) (string, error) {
	u, err := i.mc.PresignedGetObject(ctx, i.cfg.BucketName, key, i.cfg.PresignTTL, nil)
	if err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	return u.String(), nil
}
