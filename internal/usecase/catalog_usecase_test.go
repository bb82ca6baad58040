package usecase

import (
	"context"
	"errors"
	"testing"

	transaction "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/snapshop-tech/go-backend/internal/domain"
	"github.com/snapshop-tech/go-backend/pkg/e"
	"github.com/snapshop-tech/go-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCategoryRepo struct {
	created []string
}

func (f *fakeCategoryRepo) GetOrCreate(ctx context.Context, category *domain.Category) (*domain.Category, error) {
	f.created = append(f.created, category.Name)
	return &domain.Category{ID: 42, Name: category.Name}, nil
}

type fakeOutboxRepo struct {
	events []*OutboxEvent
}

func (f *fakeOutboxRepo) Create(ctx context.Context, event *OutboxEvent) (*OutboxEvent, error) {
	f.events = append(f.events, event)
	return event, nil
}

func (f *fakeOutboxRepo) GetAndMarkAsProcessing(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	return nil, nil
}

func (f *fakeOutboxRepo) MarkAsProcessed(ctx context.Context, id int64) error {
	return nil
}

// fakeTx — минимальная заглушка pgx.Tx: репозитории в тестах фейковые и
// транзакцию не трогают, важен только факт Commit/Rollback.
type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(ctx context.Context) error          { t.committed = true; return nil }
func (t *fakeTx) Rollback(ctx context.Context) error        { t.rolledBack = true; return nil }
func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *fakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (t *fakeTx) Conn() *pgx.Conn                                               { return nil }

type fakeTxPool struct {
	beginErr error
	tx       *fakeTx
}

func (p *fakeTxPool) Begin(ctx context.Context) (pgx.Tx, error) {
	return p.BeginTx(ctx, pgx.TxOptions{})
}

func (p *fakeTxPool) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	if p.tx == nil {
		p.tx = &fakeTx{}
	}
	return p.tx, nil
}

func newCatalogUC(ml *fakeMlService, images *fakeImagesInfra, emb *fakeEmbeddingRepo,
	products *fakeProductRepo, cache *fakeCacheRepo) *CatalogUseCase {
	// транзакции в этих сценариях не открываются
	return newCatalogUCWithDB(nil, ml, images, emb, products, cache)
}

func newCatalogUCWithDB(db transaction.Transactional, ml *fakeMlService, images *fakeImagesInfra,
	emb *fakeEmbeddingRepo, products *fakeProductRepo, cache *fakeCacheRepo) *CatalogUseCase {
	return NewCatalogUC(
		products,
		&fakeCategoryRepo{},
		db,
		ml,
		images,
		emb,
		&fakeOutboxRepo{},
		cache,
		logger.NewSlogLogger(),
		4,
	)
}

func syncReq(name, category string) *SyncProductReq {
	image := *NewProductImage([]byte{0xFF, 0xD8, 0xFF, 0x02}, "image/jpeg", 4, "red-shoe.jpg")
	return NewSyncProductReq(image, name, category)
}

func TestSyncProduct_MissingImage(t *testing.T) {
	uc := newCatalogUC(&fakeMlService{}, &fakeImagesInfra{}, &fakeEmbeddingRepo{}, &fakeProductRepo{}, &fakeCacheRepo{})

	_, err := uc.SyncProduct(context.Background(), NewSyncProductReq(ProductImage{}, "", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrMissingImage)
}

func TestSyncProduct_EmbeddingFailureAborts(t *testing.T) {
	ml := &fakeMlService{vectorizeErr: e.ErrEmbeddingFailed}
	images := &fakeImagesInfra{}
	uc := newCatalogUC(ml, images, &fakeEmbeddingRepo{}, &fakeProductRepo{}, &fakeCacheRepo{})

	_, err := uc.SyncProduct(context.Background(), syncReq("", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrEmbeddingFailed)
	assert.Empty(t, images.uploaded, "изображение не должно загружаться при ошибке векторизации")
}

func TestSyncProduct_EmptyVector(t *testing.T) {
	ml := &fakeMlService{vector: []float32{}, modelVersion: "v1"}
	uc := newCatalogUC(ml, &fakeImagesInfra{}, &fakeEmbeddingRepo{}, &fakeProductRepo{}, &fakeCacheRepo{})

	_, err := uc.SyncProduct(context.Background(), syncReq("", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrEmptyVector)
}

func TestSyncProduct_DimensionMismatch(t *testing.T) {
	ml := &fakeMlService{vector: []float32{1, 0, 0}, modelVersion: "v1"} // ждём 4
	uc := newCatalogUC(ml, &fakeImagesInfra{}, &fakeEmbeddingRepo{}, &fakeProductRepo{}, &fakeCacheRepo{})

	_, err := uc.SyncProduct(context.Background(), syncReq("", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrDimensionMismatch)
}

func TestSyncProduct_StorageFailureReturnsUnpersistedResult(t *testing.T) {
	ml := &fakeMlService{vector: []float32{3, 4, 0, 0}, modelVersion: "v1"}
	images := &fakeImagesInfra{uploadErr: e.ErrStorageUnavailable}
	emb := &fakeEmbeddingRepo{}
	uc := newCatalogUC(ml, images, emb, &fakeProductRepo{}, &fakeCacheRepo{})

	res, err := uc.SyncProduct(context.Background(), syncReq("", ""))
	require.NoError(t, err, "недоступность хранилища не прячет вычисленный результат")

	assert.False(t, res.Persisted)
	assert.Equal(t, "red-shoe", res.Product.Name, "имя по умолчанию — имя файла без расширения")
	assert.Equal(t, domain.DefaultCategoryName, res.Product.CategoryName)
	assert.Equal(t, "products/red-shoe.jpg", res.ImagePath)
	assert.Empty(t, emb.upserted, "embedding не пишется при непересохранённом товаре")
}

func TestSyncProduct_PersistsCatalogAndEmbedding(t *testing.T) {
	ml := &fakeMlService{vector: []float32{3, 4, 0, 0}, modelVersion: "v1"}
	images := &fakeImagesInfra{}
	emb := &fakeEmbeddingRepo{}
	products := &fakeProductRepo{
		upsertRes: NewUpsertProductRes(&domain.Product{ID: 9, Name: "red-shoe", CategoryID: 42,
			ImagePath: "products/red-shoe.jpg", ModelVersion: "v1"}, false),
	}
	cache := &fakeCacheRepo{}
	db := &fakeTxPool{}
	uc := newCatalogUCWithDB(db, ml, images, emb, products, cache)

	res, err := uc.SyncProduct(context.Background(), syncReq("", ""))
	require.NoError(t, err)

	assert.True(t, res.Persisted)
	assert.Equal(t, int64(9), res.Product.ID)
	require.NotNil(t, db.tx)
	assert.True(t, db.tx.committed)

	require.Len(t, emb.upserted, 1)
	wantID := uuid.NewSHA1(uuid.NameSpaceURL, []byte("products/red-shoe.jpg")).String()
	assert.Equal(t, wantID, emb.upserted[0].ID)

	assert.Contains(t, cache.deleted, int64(9))
	assert.Empty(t, images.cleaned)
}

func TestSyncProduct_CatalogWriteFailureCleansUpUploadedImage(t *testing.T) {
	ml := &fakeMlService{vector: []float32{3, 4, 0, 0}, modelVersion: "v1"}
	images := &fakeImagesInfra{}
	db := &fakeTxPool{beginErr: errors.New("connection refused")}
	uc := newCatalogUCWithDB(db, ml, images, &fakeEmbeddingRepo{}, &fakeProductRepo{}, &fakeCacheRepo{})

	res, err := uc.SyncProduct(context.Background(), syncReq("", ""))
	require.NoError(t, err)

	assert.False(t, res.Persisted)
	assert.Equal(t, []string{"products/red-shoe.jpg"}, images.uploaded)
	require.Len(t, images.cleaned, 1, "осиротевший после незафиксированной записи объект уходит в очистку")
	assert.Equal(t, []string{"products/red-shoe.jpg"}, images.cleaned[0])
}

func TestSyncProduct_EmbeddingFailureAfterCommitKeepsImage(t *testing.T) {
	ml := &fakeMlService{vector: []float32{3, 4, 0, 0}, modelVersion: "v1"}
	images := &fakeImagesInfra{}
	emb := &fakeEmbeddingRepo{upsertErr: errors.New("qdrant unavailable")}
	products := &fakeProductRepo{
		upsertRes: NewUpsertProductRes(&domain.Product{ID: 9, Name: "red-shoe", CategoryID: 42,
			ImagePath: "products/red-shoe.jpg", ModelVersion: "v1"}, false),
	}
	db := &fakeTxPool{}
	uc := newCatalogUCWithDB(db, ml, images, emb, products, &fakeCacheRepo{})

	res, err := uc.SyncProduct(context.Background(), syncReq("", ""))
	require.NoError(t, err)

	assert.False(t, res.Persisted, "без вектора товар не участвует в поиске")
	require.NotNil(t, db.tx)
	assert.True(t, db.tx.committed, "строка каталога фиксируется до записи вектора")
	assert.Empty(t, images.cleaned, "изображение зафиксированного товара не удаляется")
}

func TestSyncProduct_ExplicitNameAndCategory(t *testing.T) {
	ml := &fakeMlService{vector: []float32{3, 4, 0, 0}, modelVersion: "v1"}
	images := &fakeImagesInfra{uploadErr: e.ErrStorageUnavailable}
	uc := newCatalogUC(ml, images, &fakeEmbeddingRepo{}, &fakeProductRepo{}, &fakeCacheRepo{})

	res, err := uc.SyncProduct(context.Background(), syncReq("Red Sneaker", "Shoes"))
	require.NoError(t, err)

	assert.Equal(t, "Red Sneaker", res.Product.Name)
	assert.Equal(t, "Shoes", res.Product.CategoryName)
}

func TestResyncProduct_DeterministicPointID(t *testing.T) {
	ml := &fakeMlService{vector: []float32{3, 4, 0, 0}, modelVersion: "v2"}
	images := &fakeImagesInfra{fetchData: []byte{0xFF, 0xD8, 0xFF, 0x03}}
	emb := &fakeEmbeddingRepo{}
	products := &fakeProductRepo{}
	cache := &fakeCacheRepo{}
	uc := newCatalogUC(ml, images, emb, products, cache)

	info := NewProductInfo(7, "Alpha", "Shoes", "products/alpha.jpg", "v1")

	require.NoError(t, uc.ResyncProduct(context.Background(), info))
	require.NoError(t, uc.ResyncProduct(context.Background(), info))

	require.Len(t, emb.upserted, 2)
	assert.Equal(t, emb.upserted[0].ID, emb.upserted[1].ID,
		"повторный пересчёт перезаписывает ту же точку")

	wantID := uuid.NewSHA1(uuid.NameSpaceURL, []byte("products/alpha.jpg")).String()
	assert.Equal(t, wantID, emb.upserted[0].ID)

	assert.Equal(t, "v2", products.touched[7])
	assert.Contains(t, cache.deleted, int64(7))
}

func TestResyncProduct_StoresNormalizedVector(t *testing.T) {
	ml := &fakeMlService{vector: []float32{3, 4, 0, 0}, modelVersion: "v2"}
	images := &fakeImagesInfra{fetchData: []byte{0xFF, 0xD8, 0xFF, 0x03}}
	emb := &fakeEmbeddingRepo{}
	uc := newCatalogUC(ml, images, emb, &fakeProductRepo{}, &fakeCacheRepo{})

	require.NoError(t, uc.ResyncProduct(context.Background(), NewProductInfo(1, "A", "B", "products/a.jpg", "v1")))

	require.Len(t, emb.upserted, 1)
	stored := emb.upserted[0].Vector
	require.Len(t, stored, 4)
	assert.InDelta(t, 0.6, stored[0], 1e-6)
	assert.InDelta(t, 0.8, stored[1], 1e-6)
}

func TestResyncProduct_FetchFailure(t *testing.T) {
	images := &fakeImagesInfra{fetchErr: e.ErrStorageUnavailable}
	uc := newCatalogUC(&fakeMlService{}, images, &fakeEmbeddingRepo{}, &fakeProductRepo{}, &fakeCacheRepo{})

	err := uc.ResyncProduct(context.Background(), NewProductInfo(1, "A", "B", "products/a.jpg", "v1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrStorageUnavailable)
}

func TestNameFromFilename(t *testing.T) {
	assert.Equal(t, "red-shoe", nameFromFilename("red-shoe.jpg"))
	assert.Equal(t, "red-shoe", nameFromFilename("uploads/red-shoe.jpg"))
	assert.Equal(t, "archive.tar", nameFromFilename("archive.tar.gz"))
	assert.Equal(t, "noext", nameFromFilename("noext"))
}
