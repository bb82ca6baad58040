package usecase

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/snapshop-tech/go-backend/internal/domain"
	"github.com/snapshop-tech/go-backend/pkg/e"
	"github.com/snapshop-tech/go-backend/pkg/logger"
	"github.com/snapshop-tech/go-backend/pkg/vector"
)

// SearchUseCase реализует поиск похожих товаров: векторизация запроса,
// скоринг против всего каталога и детерминированное ранжирование.
type SearchUseCase struct {
	productRepo   ProductRepository
	embeddingRepo EmbeddingRepository
	cacheRepo     CacheRepository
	mlService     MlServiceInfra
	imagesInfra   ImagesInfra
	logger        logger.Logger
}

func NewSearchUC(
	productRepo ProductRepository,
	embeddingRepo EmbeddingRepository,
	cacheRepo CacheRepository,
	mlService MlServiceInfra,
	imagesInfra ImagesInfra,
	logger logger.Logger,
) *SearchUseCase {
	return &SearchUseCase{
		productRepo:   productRepo,
		embeddingRepo: embeddingRepo,
		cacheRepo:     cacheRepo,
		mlService:     mlService,
		imagesInfra:   imagesInfra,
		logger:        logger,
	}
}

// scoredPoint — промежуточный результат скоринга одной точки каталога.
type scoredPoint struct {
	productID  int64
	imagePath  string
	similarity float64
}

// SearchSimilar возвращает товары каталога, отсортированные по убыванию
// косинусного сходства с изображением запроса. Битые записи каталога
// пропускаются; пустой каталог — e.ErrEmptyCatalog.
func (s *SearchUseCase) SearchSimilar(ctx context.Context, req *SearchReq) ([]ScoredProduct, error) {
	const op = "SearchUseCase.SearchSimilar"

	if len(req.Image.Data) == 0 {
		return nil, e.Wrap(op, e.ErrMissingImage)
	}

	if err := s.mlService.EnsureReady(ctx); err != nil {
		return nil, e.Wrap(op, err)
	}

	res, err := s.mlService.Vectorize(ctx, NewVectorizeReq(req.Image))
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	if len(res.Vector) == 0 {
		return nil, e.Wrap(op, e.ErrEmptyVector)
	}

	query := vector.Normalize(res.Vector)

	points, err := s.embeddingRepo.ScrollAll(ctx)
	if err != nil {
		// Недоступность векторного хранилища деградирует до пустой выдачи
		s.logger.Warnf("embedding scroll failed, degrading to empty result: %v", e.Wrap(op, err))
		return []ScoredProduct{}, nil
	}

	if len(points) == 0 {
		return nil, e.Wrap(op, e.ErrEmptyCatalog)
	}

	scored, mismatched := s.scorePoints(query, points)
	if len(scored) == 0 {
		if mismatched > 0 {
			// Весь каталог не совпадает с размерностью запроса: модель
			// сменилась без полной регенерации
			return nil, e.Wrap(op, e.ErrDimensionMismatch)
		}
		s.logger.Warnf("%s: no scorable catalog entries among %d points", op, len(points))
		return []ScoredProduct{}, nil
	}

	infoByID := s.resolveProducts(ctx, productIDs(scored))

	results := make([]ScoredProduct, 0, len(scored))
	for _, sp := range scored {
		name := nameFromFilename(sp.imagePath)
		category := domain.DefaultCategoryName
		if info, ok := infoByID[sp.productID]; ok {
			name = info.Name
			category = info.CategoryName
		}

		results = append(results, ScoredProduct{
			ID:         sp.productID,
			Name:       name,
			Category:   category,
			Image:      s.imagesInfra.ResolveImageURL(ctx, sp.imagePath),
			Similarity: RoundSimilarity(sp.similarity),
		})
	}

	// Стабильная сортировка: при равных значениях сохраняется порядок выдачи
	// хранилища, повторные запросы по неизменному каталогу воспроизводимы
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	return results, nil
}

// scorePoints считает сходство каждой точки с запросом. Записи со старой
// размерностью или без product_id в payload пропускаются с логированием.
func (s *SearchUseCase) scorePoints(query []float32, points []domain.Embedding) ([]scoredPoint, int) {
	const op = "SearchUseCase.scorePoints"

	scored := make([]scoredPoint, 0, len(points))
	mismatched := 0

	for _, p := range points {
		// Повторная нормализация терпима к записям старого кода,
		// сохранявшего сырые векторы
		sim, err := vector.CosineSimilarity(query, vector.Normalize(p.Vector))
		if err != nil {
			if errors.Is(err, e.ErrDimensionMismatch) {
				mismatched++
				s.logger.Warnf("%s: skipping point %s: stored dimension %d differs from query %d",
					op, p.ID, len(p.Vector), len(query))
				continue
			}
			s.logger.Warnf("%s: skipping point %s: %v", op, p.ID, err)
			continue
		}

		productID, ok := payloadInt64(p.Payload, "product_id")
		if !ok {
			s.logger.Warnf("%s: skipping point %s: missing product_id in payload", op, p.ID)
			continue
		}

		imagePath, _ := p.Payload["image_path"].(string)

		scored = append(scored, scoredPoint{
			productID:  productID,
			imagePath:  imagePath,
			similarity: sim,
		})
	}

	return scored, mismatched
}

// resolveProducts возвращает информацию о товарах: сначала из кэша, промахи —
// из БД с фоновым докэшированием. Ошибки деградируют до payload-данных.
func (s *SearchUseCase) resolveProducts(ctx context.Context, ids []int64) map[int64]ProductInfo {
	const op = "SearchUseCase.resolveProducts"

	result := make(map[int64]ProductInfo, len(ids))

	cached, err := s.cacheRepo.GetProducts(ctx, ids)
	if err != nil {
		s.logger.Warnf("%s: cache lookup failed: %v", op, err)
	}

	nonCacheable := make([]int64, 0, len(ids))
	for _, id := range ids {
		if info, ok := cached[id]; ok {
			result[id] = info
		} else {
			nonCacheable = append(nonCacheable, id)
		}
	}

	if len(nonCacheable) == 0 {
		return result
	}

	fromDB, err := s.productRepo.GetProductsInfo(ctx, nonCacheable)
	if err != nil {
		s.logger.Warnf("%s: product lookup failed, falling back to payload data: %v", op, err)
		return result
	}

	for _, info := range fromDB {
		result[info.ID] = info
	}

	// Фоновое добавление товаров в кэш
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()

		if err := s.cacheRepo.SetProducts(bgCtx, fromDB); err != nil {
			s.logger.Warnf("failed to cache products in background: %v", e.Wrap(op, err))
		}
	}()

	return result
}

func productIDs(scored []scoredPoint) []int64 {
	seen := make(map[int64]struct{}, len(scored))
	ids := make([]int64, 0, len(scored))
	for _, sp := range scored {
		if _, ok := seen[sp.productID]; ok {
			continue
		}
		seen[sp.productID] = struct{}{}
		ids = append(ids, sp.productID)
	}

	return ids
}

func payloadInt64(payload domain.Payload, key string) (int64, bool) {
	switch v := payload[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
