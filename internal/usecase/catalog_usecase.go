package usecase

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"
	"time"

	transaction "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/snapshop-tech/go-backend/internal/domain"
	"github.com/snapshop-tech/go-backend/pkg/e"
	"github.com/snapshop-tech/go-backend/pkg/logger"
	"github.com/snapshop-tech/go-backend/pkg/vector"
)

// CatalogUseCase реализует синхронизацию каталога: вычисление embedding'а
// изображения и идемпотентный upsert товара по image_path.
type CatalogUseCase struct {
	productRepo   ProductRepository
	categoryRepo  CategoryRepository
	dbPool        transaction.Transactional
	mlService     MlServiceInfra
	imagesInfra   ImagesInfra
	embeddingRepo EmbeddingRepository
	outboxRepo    OutboxRepository
	cacheRepo     CacheRepository
	logger        logger.Logger
	vectorSize    uint64
}

func NewCatalogUC(
	productRepo ProductRepository,
	categoryRepo CategoryRepository,
	dbPool transaction.Transactional,
	mlService MlServiceInfra,
	imagesInfra ImagesInfra,
	embeddingRepo EmbeddingRepository,
	outboxRepo OutboxRepository,
	cacheRepo CacheRepository,
	logger logger.Logger,
	vectorSize uint64,
) *CatalogUseCase {
	return &CatalogUseCase{
		productRepo:   productRepo,
		categoryRepo:  categoryRepo,
		dbPool:        dbPool,
		mlService:     mlService,
		imagesInfra:   imagesInfra,
		embeddingRepo: embeddingRepo,
		outboxRepo:    outboxRepo,
		cacheRepo:     cacheRepo,
		logger:        logger,
		vectorSize:    vectorSize,
	}
}

// SyncProduct вычисляет embedding загруженного изображения и сохраняет товар.
// Ошибка векторизации прерывает операцию; недоступность хранилища — нет:
// вычисленный результат возвращается с Persisted=false.
func (c *CatalogUseCase) SyncProduct(ctx context.Context, req *SyncProductReq) (*SyncProductRes, error) {
	const op = "CatalogUseCase.SyncProduct"

	if len(req.Image.Data) == 0 {
		return nil, e.Wrap(op, e.ErrMissingImage)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = nameFromFilename(req.Image.Name)
	}

	categoryName := strings.TrimSpace(req.Category)
	if categoryName == "" {
		categoryName = domain.DefaultCategoryName
	}

	normalized, modelVersion, err := c.embed(ctx, req.Image)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	imagePath, err := c.imagesInfra.ObjectKey(req.Image)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	persisted := true
	if err := c.imagesInfra.UploadImage(ctx, imagePath, req.Image); err != nil {
		c.logger.Warnf("image upload failed, returning unpersisted result: %v", e.Wrap(op, err))
		persisted = false
	}

	var product *domain.Product
	if persisted {
		product, err = c.persistCatalog(ctx, name, categoryName, imagePath, modelVersion)
		if err != nil {
			c.logger.Warnf("catalog write failed, returning unpersisted result: %v", e.Wrap(op, err))
			persisted = false
			// Запись каталога не зафиксирована — загруженный объект осиротел
			c.imagesInfra.CleanupImages([]string{imagePath})
		}
	}

	if persisted {
		if err := c.upsertEmbedding(ctx, product.ID, imagePath, modelVersion, normalized); err != nil {
			// Строка товара уже зафиксирована, изображение остаётся: товар
			// невидим для поиска до повторной загрузки или регенерации
			c.logger.Warnf("product %d committed without embedding, invisible to search until resync: %v",
				product.ID, e.Wrap(op, err))
			persisted = false
		}
	}

	if product == nil {
		product = domain.NewProduct(name, 0, imagePath, modelVersion)
	}

	// Удаление из кэша старых данных товара
	if persisted && product.ID != 0 {
		if err := c.cacheRepo.DeleteProducts(ctx, []int64{product.ID}); err != nil {
			c.logger.Warnf("failed to invalidate product cache: %v", e.Wrap(op, err))
		}
	}

	return &SyncProductRes{
		Product:   NewProductInfo(product.ID, name, categoryName, imagePath, modelVersion),
		ImagePath: imagePath,
		Persisted: persisted,
	}, nil
}

// ResyncProduct пересчитывает embedding одного товара каталога по его
// сохранённому изображению. Используется регенерацией; ошибка касается
// только этого товара.
func (c *CatalogUseCase) ResyncProduct(ctx context.Context, info ProductInfo) error {
	const op = "CatalogUseCase.ResyncProduct"

	data, err := c.imagesInfra.FetchImage(ctx, info.ImagePath)
	if err != nil {
		return e.Wrap(op, err)
	}

	image := *NewProductImage(data, detectMime(data), int64(len(data)), path.Base(info.ImagePath))

	normalized, modelVersion, err := c.embed(ctx, image)
	if err != nil {
		return e.Wrap(op, err)
	}

	if err := c.upsertEmbedding(ctx, info.ID, info.ImagePath, modelVersion, normalized); err != nil {
		return e.Wrap(op, err)
	}

	if err := c.productRepo.TouchModelVersion(ctx, info.ID, modelVersion); err != nil {
		return e.Wrap(op, err)
	}

	if err := c.cacheRepo.DeleteProducts(ctx, []int64{info.ID}); err != nil {
		c.logger.Warnf("failed to invalidate product cache: %v", e.Wrap(op, err))
	}

	return nil
}

// embed запрашивает вектор у ML-сервиса, проверяет размерность и нормализует.
func (c *CatalogUseCase) embed(ctx context.Context, image ProductImage) ([]float32, string, error) {
	if err := c.mlService.EnsureReady(ctx); err != nil {
		return nil, "", err
	}

	res, err := c.mlService.Vectorize(ctx, NewVectorizeReq(image))
	if err != nil {
		return nil, "", err
	}

	if len(res.Vector) == 0 {
		return nil, "", e.ErrEmptyVector
	}

	if uint64(len(res.Vector)) != c.vectorSize {
		return nil, "", e.ErrDimensionMismatch
	}

	return vector.Normalize(res.Vector), res.ModelVersion, nil
}

// persistCatalog в одной транзакции создаёт категорию, делает upsert товара
// по image_path и пишет outbox-событие.
func (c *CatalogUseCase) persistCatalog(ctx context.Context, name, categoryName, imagePath, modelVersion string) (*domain.Product, error) {
	const op = "CatalogUseCase.persistCatalog"

	ctx, tx, err := transaction.NewTransaction(ctx, pgx.TxOptions{}, c.dbPool)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	defer func() {
		if err != nil && tx.IsActive() {
			tx.Rollback(ctx)
		}
	}()
	ctx = context.WithValue(ctx, "tx", tx.Transaction())

	// идемпотентное создание категории
	category, err := c.categoryRepo.GetOrCreate(ctx, domain.NewCategory(categoryName))
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	// upsert товара по естественному ключу image_path; last write wins
	upsertRes, err := c.productRepo.Upsert(ctx, domain.NewProduct(name, category.ID, imagePath, modelVersion))
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	if err = c.createOutboxEvent(ctx, upsertRes.Product, imagePath, modelVersion); err != nil {
		return nil, e.Wrap(op, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, e.Wrap(op, err)
	}

	return upsertRes.Product, nil
}

// upsertEmbedding сохраняет нормализованный вектор в Qdrant.
// ID точки детерминированно выводится из image_path, поэтому на один
// image_path существует не более одного актуального вектора.
func (c *CatalogUseCase) upsertEmbedding(ctx context.Context, productID int64, imagePath, modelVersion string, vec []float32) error {
	pointID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(imagePath)).String()
	payload := domain.NewPayload(productID, imagePath, modelVersion)

	return c.embeddingRepo.Upsert(ctx, []domain.Embedding{*domain.NewEmbedding(pointID, vec, payload)})
}

func (c *CatalogUseCase) createOutboxEvent(ctx context.Context, product *domain.Product, imagePath, modelVersion string) error {
	eventID := uuid.NewString()
	payload, err := json.Marshal(ProductSyncedPayload{
		EventID:      eventID,
		EventType:    string(ProductSynced),
		ProductID:    product.ID,
		ImagePath:    imagePath,
		ModelVersion: modelVersion,
		OccurredAt:   time.Now().UTC().UnixNano(),
	})
	if err != nil {
		return err
	}

	_, err = c.outboxRepo.Create(ctx, &OutboxEvent{
		EventID:   eventID,
		EventType: ProductSynced,
		ProductID: product.ID,
		Payload:   payload,
		Status:    Pending,
		CreatedAt: time.Now().UTC(),
	})
	return err
}

// nameFromFilename выводит отображаемое имя товара из имени файла.
func nameFromFilename(filename string) string {
	base := path.Base(filename)
	return strings.TrimSuffix(base, path.Ext(base))
}

func detectMime(data []byte) string {
	return http.DetectContentType(data[:min(len(data), 512)])
}
