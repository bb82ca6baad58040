package usecase

import (
	"context"

	"github.com/snapshop-tech/go-backend/internal/domain"
)

type ProductRepository interface {
	Upsert(ctx context.Context, product *domain.Product) (*UpsertProductRes, error)
	GetProductsInfo(ctx context.Context, ids []int64) ([]ProductInfo, error)
	ListActive(ctx context.Context) ([]ProductInfo, error)
	TouchModelVersion(ctx context.Context, id int64, modelVersion string) error
}

type CategoryRepository interface {
	GetOrCreate(ctx context.Context, category *domain.Category) (*domain.Category, error)
}

type ImageRepository interface {
	Upload(ctx context.Context, image *domain.Image) (string, error)
	Delete(ctx context.Context, key string) error
	Fetch(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	PresignedURL(ctx context.Context, key string) (string, error)
}

type EmbeddingRepository interface {
	Upsert(ctx context.Context, vectors []domain.Embedding) error
	ScrollAll(ctx context.Context) ([]domain.Embedding, error)
}

type CacheRepository interface {
	GetProducts(ctx context.Context, ids []int64) (map[int64]ProductInfo, error)
	SetProducts(ctx context.Context, products []ProductInfo) error
	DeleteProducts(ctx context.Context, ids []int64) error
}

type OutboxRepository interface {
	Create(ctx context.Context, event *OutboxEvent) (*OutboxEvent, error)
	GetAndMarkAsProcessing(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkAsProcessed(ctx context.Context, id int64) error
}
