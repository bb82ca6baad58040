package converter

import (
	"time"

	"github.com/snapshop-tech/go-backend/internal/usecase"
)

// ProductModel представляет запись таблицы products в PostgreSQL.
type ProductModel struct {
	ID           int64      `db:"id"`
	Name         string     `db:"name"`
	CategoryID   int64      `db:"category_id"`
	ImagePath    string     `db:"image_path"`
	ModelVersion string     `db:"model_version"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    *time.Time `db:"updated_at"`
	IsArchived   bool       `db:"is_archived"`
}

// CategoryModel представляет запись таблицы categories в PostgreSQL.
type CategoryModel struct {
	ID         int64      `db:"id"`
	Name       string     `db:"name"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  *time.Time `db:"updated_at"`
	IsArchived bool       `db:"is_archived"`
}

// OutboxEventModel представляет запись таблицы outbox_events в PostgreSQL.
type OutboxEventModel struct {
	ID          int64                   `db:"id"`
	EventID     string                  `db:"event_id"`
	EventType   usecase.OutboxEventType `db:"event_type"`
	ProductID   int64                   `db:"product_id"`
	Payload     []byte                  `db:"payload"`
	Status      usecase.OutboxStatus    `db:"status"`
	CreatedAt   time.Time               `db:"created_at"`
	ProcessedAt *time.Time              `db:"processed_at"`
}
