package pgdb

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
	"github.com/snapshop-tech/go-backend/internal/domain"
	"github.com/snapshop-tech/go-backend/internal/repository/pgdb/converter"
	"github.com/snapshop-tech/go-backend/internal/usecase"
	"github.com/snapshop-tech/go-backend/pkg/e"
	"github.com/snapshop-tech/go-backend/pkg/tr"
)

// ProductRepo реализует репозиторий товаров поверх PostgreSQL.
type ProductRepo struct {
	pool *pgxpool.Pool
	conv converter.ProductConverter
}

func NewProductRepo(pool *pgxpool.Pool, conv converter.ProductConverter) *ProductRepo {
	return &ProductRepo{
		pool: pool,
		conv: conv,
	}
}

// Upsert идемпотентно создаёт или обновляет товар по уникальному image_path.
// Запись обновляется только при изменении имени, категории или версии модели.
func (p *ProductRepo) Upsert(ctx context.Context, product *domain.Product) (*usecase.UpsertProductRes, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	// VALUES ($1, $2, $3, $4) name, category_id, image_path, model_version
	query := `
		WITH upsert AS (
		INSERT INTO products (name, category_id, image_path, model_version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (image_path)
		DO UPDATE SET
			name = EXCLUDED.name,
			category_id = EXCLUDED.category_id,
			model_version = EXCLUDED.model_version,
			updated_at = NOW()
		WHERE
			products.name IS DISTINCT FROM EXCLUDED.name OR
			products.category_id IS DISTINCT FROM EXCLUDED.category_id OR
			products.model_version IS DISTINCT FROM EXCLUDED.model_version
		RETURNING
			id, name, category_id, image_path, model_version, created_at, updated_at, is_archived
		)
		SELECT
			id, name, category_id, image_path, model_version, created_at, updated_at, is_archived,
			false AS no_changes
		FROM upsert

		UNION ALL

		SELECT
			id, name, category_id, image_path, model_version, created_at, updated_at, is_archived,
			true AS no_changes
		FROM products
		WHERE image_path = $3
		  AND NOT EXISTS (SELECT 1 FROM upsert);
	`

	var model converter.ProductModel
	var noChanges bool
	err = tx.QueryRow(ctx, query, product.Name, product.CategoryID, product.ImagePath, product.ModelVersion).
		Scan(
			&model.ID, &model.Name, &model.CategoryID, &model.ImagePath, &model.ModelVersion,
			&model.CreatedAt, &model.UpdatedAt, &model.IsArchived, &noChanges,
		)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return usecase.NewUpsertProductRes(p.conv.ToEntity(&model), noChanges), nil
}

// GetProductsInfo возвращает информацию о товарах по их идентификаторам, включая название категории.
func (p *ProductRepo) GetProductsInfo(ctx context.Context, ids []int64) ([]usecase.ProductInfo, error) {
	query := `
		SELECT pr.id, pr.name, cat.name, pr.image_path, pr.model_version
		FROM products pr
		JOIN categories cat ON pr.category_id = cat.id
		WHERE pr.id = ANY($1)
	`

	rows, err := p.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	result := make([]usecase.ProductInfo, 0)
	for rows.Next() {
		var product usecase.ProductInfo
		if err := rows.Scan(&product.ID, &product.Name, &product.CategoryName, &product.ImagePath, &product.ModelVersion); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		result = append(result, product)
	}

	return result, nil
}

// ListActive возвращает все неархивированные товары каталога для регенерации.
func (p *ProductRepo) ListActive(ctx context.Context) ([]usecase.ProductInfo, error) {
	query := `
		SELECT pr.id, pr.name, cat.name, pr.image_path, pr.model_version
		FROM products pr
		JOIN categories cat ON pr.category_id = cat.id
		WHERE pr.is_archived = false
		ORDER BY pr.id
	`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	result := make([]usecase.ProductInfo, 0)
	for rows.Next() {
		var product usecase.ProductInfo
		if err := rows.Scan(&product.ID, &product.Name, &product.CategoryName, &product.ImagePath, &product.ModelVersion); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		result = append(result, product)
	}

	return result, nil
}

// TouchModelVersion фиксирует версию модели после пересчёта embedding'а товара.
func (p *ProductRepo) TouchModelVersion(ctx context.Context, id int64, modelVersion string) error {
	query := `
		UPDATE products
		SET model_version = $1, updated_at = NOW()
		WHERE id = $2
	`

	if _, err := p.pool.Exec(ctx, query, modelVersion, id); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}
