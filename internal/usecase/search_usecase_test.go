package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/snapshop-tech/go-backend/internal/domain"
	"github.com/snapshop-tech/go-backend/pkg/e"
	"github.com/snapshop-tech/go-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMlService struct {
	vector       []float32
	modelVersion string
	vectorizeErr error
	readyErr     error
	calls        int
}

func (f *fakeMlService) EnsureReady(ctx context.Context) error {
	return f.readyErr
}

func (f *fakeMlService) Vectorize(ctx context.Context, req *VectorizeReq) (*VectorizeRes, error) {
	f.calls++
	if f.vectorizeErr != nil {
		return nil, f.vectorizeErr
	}
	return NewVectorizeRes(f.vector, f.modelVersion), nil
}

type fakeEmbeddingRepo struct {
	points    []domain.Embedding
	scrollErr error
	upserted  []domain.Embedding
	upsertErr error
}

func (f *fakeEmbeddingRepo) Upsert(ctx context.Context, vectors []domain.Embedding) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, vectors...)
	return nil
}

func (f *fakeEmbeddingRepo) ScrollAll(ctx context.Context) ([]domain.Embedding, error) {
	if f.scrollErr != nil {
		return nil, f.scrollErr
	}
	return f.points, nil
}

type fakeProductRepo struct {
	infos      map[int64]ProductInfo
	active     []ProductInfo
	infosErr   error
	touched    map[int64]string
	upsertErr  error
	upsertRes  *UpsertProductRes
	listActErr error
}

func (f *fakeProductRepo) Upsert(ctx context.Context, product *domain.Product) (*UpsertProductRes, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	return f.upsertRes, nil
}

func (f *fakeProductRepo) GetProductsInfo(ctx context.Context, ids []int64) ([]ProductInfo, error) {
	if f.infosErr != nil {
		return nil, f.infosErr
	}
	result := make([]ProductInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := f.infos[id]; ok {
			result = append(result, info)
		}
	}
	return result, nil
}

func (f *fakeProductRepo) ListActive(ctx context.Context) ([]ProductInfo, error) {
	if f.listActErr != nil {
		return nil, f.listActErr
	}
	return f.active, nil
}

func (f *fakeProductRepo) TouchModelVersion(ctx context.Context, id int64, modelVersion string) error {
	if f.touched == nil {
		f.touched = make(map[int64]string)
	}
	f.touched[id] = modelVersion
	return nil
}

type fakeCacheRepo struct {
	cached  map[int64]ProductInfo
	getErr  error
	set     []ProductInfo
	deleted []int64
}

func (f *fakeCacheRepo) GetProducts(ctx context.Context, ids []int64) (map[int64]ProductInfo, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.cached, nil
}

func (f *fakeCacheRepo) SetProducts(ctx context.Context, products []ProductInfo) error {
	f.set = append(f.set, products...)
	return nil
}

func (f *fakeCacheRepo) DeleteProducts(ctx context.Context, ids []int64) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

type fakeImagesInfra struct {
	fetchData []byte
	fetchErr  error
	uploadErr error
	uploaded  []string
	cleaned   [][]string
}

func (f *fakeImagesInfra) ObjectKey(image ProductImage) (string, error) {
	return "products/" + image.Name, nil
}

func (f *fakeImagesInfra) UploadImage(ctx context.Context, key string, image ProductImage) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploaded = append(f.uploaded, key)
	return nil
}

func (f *fakeImagesInfra) FetchImage(ctx context.Context, key string) ([]byte, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.fetchData, nil
}

func (f *fakeImagesInfra) ResolveImageURL(ctx context.Context, key string) string {
	return "https://cdn.local/" + key
}

func (f *fakeImagesInfra) CleanupImages(keys []string) {
	f.cleaned = append(f.cleaned, keys)
}

func catalogPoint(id string, productID int64, imagePath string, vec []float32) domain.Embedding {
	return domain.Embedding{
		ID:     id,
		Vector: vec,
		Payload: domain.Payload{
			"product_id":    productID,
			"image_path":    imagePath,
			"model_version": "v1",
		},
	}
}

func newSearchUC(ml *fakeMlService, emb *fakeEmbeddingRepo, products *fakeProductRepo, cache *fakeCacheRepo) *SearchUseCase {
	return NewSearchUC(products, emb, cache, ml, &fakeImagesInfra{}, logger.NewSlogLogger())
}

func queryImage() *SearchReq {
	return NewSearchReq(*NewProductImage([]byte{0xFF, 0xD8, 0xFF, 0x01}, "image/jpeg", 4, "query.jpg"))
}

func TestSearchSimilar_RanksByDescendingSimilarity(t *testing.T) {
	ml := &fakeMlService{vector: []float32{1, 0, 0, 0}, modelVersion: "v1"}
	emb := &fakeEmbeddingRepo{points: []domain.Embedding{
		catalogPoint("p2", 2, "products/b.jpg", []float32{0.6, 0.8, 0, 0}),
		catalogPoint("p1", 1, "products/a.jpg", []float32{1, 0, 0, 0}),
		catalogPoint("p3", 3, "products/c.jpg", []float32{0, 1, 0, 0}),
	}}
	products := &fakeProductRepo{infos: map[int64]ProductInfo{
		1: NewProductInfo(1, "Alpha", "Shoes", "products/a.jpg", "v1"),
		2: NewProductInfo(2, "Beta", "Shoes", "products/b.jpg", "v1"),
		3: NewProductInfo(3, "Gamma", "Bags", "products/c.jpg", "v1"),
	}}

	uc := newSearchUC(ml, emb, products, &fakeCacheRepo{})

	results, err := uc.SearchSimilar(context.Background(), queryImage())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, int64(1), results[0].ID)
	assert.Equal(t, int64(2), results[1].ID)
	assert.Equal(t, int64(3), results[2].ID)

	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
	assert.InDelta(t, 0.6, results[1].Similarity, 1e-4)
	assert.InDelta(t, 0.0, results[2].Similarity, 1e-9)

	assert.Equal(t, "Alpha", results[0].Name)
	assert.Equal(t, "https://cdn.local/products/a.jpg", results[0].Image)
}

func TestSearchSimilar_DeterministicForUnchangedCatalog(t *testing.T) {
	ml := &fakeMlService{vector: []float32{0.5, 0.5, 0.5, 0.5}, modelVersion: "v1"}
	emb := &fakeEmbeddingRepo{points: []domain.Embedding{
		catalogPoint("p1", 1, "products/a.jpg", []float32{1, 0, 0, 0}),
		catalogPoint("p2", 2, "products/b.jpg", []float32{0, 1, 0, 0}),
		catalogPoint("p3", 3, "products/c.jpg", []float32{0.4, 0.3, 0.2, 0.1}),
	}}
	products := &fakeProductRepo{infos: map[int64]ProductInfo{}}

	uc := newSearchUC(ml, emb, products, &fakeCacheRepo{})

	first, err := uc.SearchSimilar(context.Background(), queryImage())
	require.NoError(t, err)
	second, err := uc.SearchSimilar(context.Background(), queryImage())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSearchSimilar_EmptyCatalog(t *testing.T) {
	ml := &fakeMlService{vector: []float32{1, 0, 0, 0}, modelVersion: "v1"}
	emb := &fakeEmbeddingRepo{points: nil}

	uc := newSearchUC(ml, emb, &fakeProductRepo{}, &fakeCacheRepo{})

	_, err := uc.SearchSimilar(context.Background(), queryImage())
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrEmptyCatalog)
}

func TestSearchSimilar_ScrollFailureDegradesToEmptyResult(t *testing.T) {
	ml := &fakeMlService{vector: []float32{1, 0, 0, 0}, modelVersion: "v1"}
	emb := &fakeEmbeddingRepo{scrollErr: fmt.Errorf("qdrant unavailable")}

	uc := newSearchUC(ml, emb, &fakeProductRepo{}, &fakeCacheRepo{})

	results, err := uc.SearchSimilar(context.Background(), queryImage())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchSimilar_SkipsMismatchedPoint(t *testing.T) {
	ml := &fakeMlService{vector: []float32{1, 0, 0, 0}, modelVersion: "v2"}
	emb := &fakeEmbeddingRepo{points: []domain.Embedding{
		catalogPoint("old", 1, "products/a.jpg", []float32{1, 0}), // старая размерность
		catalogPoint("new", 2, "products/b.jpg", []float32{0.6, 0.8, 0, 0}),
	}}
	products := &fakeProductRepo{infos: map[int64]ProductInfo{
		2: NewProductInfo(2, "Beta", "Shoes", "products/b.jpg", "v2"),
	}}

	uc := newSearchUC(ml, emb, products, &fakeCacheRepo{})

	results, err := uc.SearchSimilar(context.Background(), queryImage())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(2), results[0].ID)
}

func TestSearchSimilar_AllPointsMismatched(t *testing.T) {
	ml := &fakeMlService{vector: []float32{1, 0, 0, 0}, modelVersion: "v2"}
	emb := &fakeEmbeddingRepo{points: []domain.Embedding{
		catalogPoint("p1", 1, "products/a.jpg", []float32{1, 0}),
		catalogPoint("p2", 2, "products/b.jpg", []float32{0, 1}),
	}}

	uc := newSearchUC(ml, emb, &fakeProductRepo{}, &fakeCacheRepo{})

	_, err := uc.SearchSimilar(context.Background(), queryImage())
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrDimensionMismatch)
}

func TestSearchSimilar_FallsBackToPayloadWhenProductMissing(t *testing.T) {
	ml := &fakeMlService{vector: []float32{1, 0, 0, 0}, modelVersion: "v1"}
	emb := &fakeEmbeddingRepo{points: []domain.Embedding{
		catalogPoint("p7", 7, "products/red-shoe.jpg", []float32{1, 0, 0, 0}),
	}}
	products := &fakeProductRepo{infos: map[int64]ProductInfo{}}

	uc := newSearchUC(ml, emb, products, &fakeCacheRepo{})

	results, err := uc.SearchSimilar(context.Background(), queryImage())
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "red-shoe", results[0].Name)
	assert.Equal(t, domain.DefaultCategoryName, results[0].Category)
}

func TestSearchSimilar_MissingImage(t *testing.T) {
	uc := newSearchUC(&fakeMlService{}, &fakeEmbeddingRepo{}, &fakeProductRepo{}, &fakeCacheRepo{})

	_, err := uc.SearchSimilar(context.Background(), NewSearchReq(ProductImage{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrMissingImage)
}

func TestSearchSimilar_VectorizationFailure(t *testing.T) {
	ml := &fakeMlService{vectorizeErr: e.ErrEmbeddingFailed}
	uc := newSearchUC(ml, &fakeEmbeddingRepo{}, &fakeProductRepo{}, &fakeCacheRepo{})

	_, err := uc.SearchSimilar(context.Background(), queryImage())
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrEmbeddingFailed)
}

func TestSearchSimilar_UsesCacheBeforeRepo(t *testing.T) {
	ml := &fakeMlService{vector: []float32{1, 0, 0, 0}, modelVersion: "v1"}
	emb := &fakeEmbeddingRepo{points: []domain.Embedding{
		catalogPoint("p1", 1, "products/a.jpg", []float32{1, 0, 0, 0}),
	}}
	products := &fakeProductRepo{infosErr: errors.New("db down")}
	cache := &fakeCacheRepo{cached: map[int64]ProductInfo{
		1: NewProductInfo(1, "Cached Alpha", "Shoes", "products/a.jpg", "v1"),
	}}

	uc := newSearchUC(ml, emb, products, cache)

	results, err := uc.SearchSimilar(context.Background(), queryImage())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Cached Alpha", results[0].Name)
}

func TestFilterByThreshold(t *testing.T) {
	results := []ScoredProduct{
		{ID: 1, Similarity: 0.91},
		{ID: 2, Similarity: 0.40},
	}

	filtered := FilterByThreshold(results, 50)
	require.Len(t, filtered, 1)
	assert.Equal(t, int64(1), filtered[0].ID)

	// порог 0 пропускает всё, порядок сохраняется
	all := FilterByThreshold(results, 0)
	assert.Equal(t, results, all)

	// порог 100 требует точного совпадения
	none := FilterByThreshold(results, 100)
	assert.Empty(t, none)
}

func TestRoundSimilarity(t *testing.T) {
	assert.Equal(t, 0.9123, RoundSimilarity(0.91234))
	assert.Equal(t, 0.9124, RoundSimilarity(0.91235001))
	assert.Equal(t, 1.0, RoundSimilarity(0.99999))
	assert.Equal(t, 0.0, RoundSimilarity(0.00001))
}
