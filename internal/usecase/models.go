package usecase

import (
	"math"
	"time"

	"github.com/snapshop-tech/go-backend/internal/domain"
)

// CATALOG USECASE

// SyncProductReq — запрос на добавление/обновление товара по изображению.
type SyncProductReq struct {
	Image    ProductImage
	Name     string // опционально; по умолчанию — имя файла без расширения
	Category string // опционально; по умолчанию — domain.DefaultCategoryName
}

// SyncProductRes — результат синхронизации. Persisted=false означает, что
// embedding вычислен, но хранилище было недоступно и запись не сохранена.
type SyncProductRes struct {
	Product   ProductInfo
	ImagePath string
	Persisted bool
}

// ProductImage представляет изображение, загруженное через multipart/form-data.
type ProductImage struct {
	Data     []byte // байты изображения
	MimeType string // Content-Type из multipart (image/jpeg)
	Size     int64  // фактический размер в байтах
	Name     string // оригинальное имя файла
}

// ProductInfo — DTO с информацией о товаре для внешнего использования.
type ProductInfo struct {
	ID           int64
	Name         string
	CategoryName string
	ImagePath    string
	ModelVersion string
}

// SEARCH USECASE

// SearchReq — запрос поиска похожих товаров по изображению.
type SearchReq struct {
	Image ProductImage
}

// ScoredProduct — один результат поиска с округлённым сходством.
type ScoredProduct struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Image      string  `json:"image"`
	Similarity float64 `json:"similarity"`
}

// REGENERATION

// RegenerateReq — запрос на полную регенерацию embedding'ов каталога.
type RegenerateReq struct {
	Token string
}

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// RegenJobRes — итог фоновой регенерации. Лог содержит прогресс и
// сообщения о пропущенных товарах в порядке поступления.
type RegenJobRes struct {
	Status    JobStatus
	ExitCode  int
	Log       string
	Processed int
	Failed    int
}

// INFRASTRUCTURE

// VectorizeReq — запрос на векторизацию изображения.
type VectorizeReq struct {
	Image ProductImage
}

// VectorizeRes — результат векторизации одного изображения.
type VectorizeRes struct {
	Vector       []float32
	ModelVersion string
}

type WriteRawMessageReq struct {
	ProductID int64
	Payload   []byte
}

// OUTBOX

type OutboxStatus string

const (
	Pending    OutboxStatus = "pending"
	Processing OutboxStatus = "processing"
	Processed  OutboxStatus = "processed"
)

type OutboxEventType string

const ProductSynced OutboxEventType = "product_synced"

type OutboxEvent struct {
	ID          int64
	EventID     string
	EventType   OutboxEventType
	ProductID   int64
	Payload     []byte
	Status      OutboxStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// ProductSyncedPayload — JSON-тело outbox-события о синхронизации товара.
type ProductSyncedPayload struct {
	EventID      string `json:"event_id"`
	EventType    string `json:"event_type"`
	ProductID    int64  `json:"product_id"`
	ImagePath    string `json:"image_path"`
	ModelVersion string `json:"model_version"`
	OccurredAt   int64  `json:"occurred_at"`
}

// REPOSITORIES

type UpsertProductRes struct {
	Product   *domain.Product
	NoChanges bool
}

// HELPERS

// RoundSimilarity округляет сходство до 4 знаков для воспроизводимого вывода.
func RoundSimilarity(sim float64) float64 {
	return math.Round(sim*10000) / 10000
}

// FilterByThreshold оставляет результаты со сходством не ниже порога (в процентах).
// Чистая пост-обработка уже отранжированной последовательности: порядок сохраняется.
func FilterByThreshold(results []ScoredProduct, threshold float64) []ScoredProduct {
	filtered := make([]ScoredProduct, 0, len(results))
	for _, r := range results {
		if r.Similarity*100 >= threshold {
			filtered = append(filtered, r)
		}
	}

	return filtered
}

// MAPPERS

func NewUpsertProductRes(product *domain.Product, noChanges bool) *UpsertProductRes {
	return &UpsertProductRes{
		Product:   product,
		NoChanges: noChanges,
	}
}

func NewProductInfo(id int64, name string, category string, imagePath string, modelVersion string) ProductInfo {
	return ProductInfo{
		ID:           id,
		Name:         name,
		CategoryName: category,
		ImagePath:    imagePath,
		ModelVersion: modelVersion,
	}
}

func NewVectorizeReq(image ProductImage) *VectorizeReq {
	return &VectorizeReq{Image: image}
}

func NewVectorizeRes(vector []float32, modelVersion string) *VectorizeRes {
	return &VectorizeRes{
		Vector:       vector,
		ModelVersion: modelVersion,
	}
}

func NewProductImage(data []byte, mimeType string, size int64, name string) *ProductImage {
	return &ProductImage{
		Data:     data,
		MimeType: mimeType,
		Size:     size,
		Name:     name,
	}
}

func NewSyncProductReq(image ProductImage, name string, category string) *SyncProductReq {
	return &SyncProductReq{
		Image:    image,
		Name:     name,
		Category: category,
	}
}

func NewSearchReq(image ProductImage) *SearchReq {
	return &SearchReq{Image: image}
}

func NewRegenerateReq(token string) *RegenerateReq {
	return &RegenerateReq{Token: token}
}

func NewWriteRawMessageReq(productID int64, payload []byte) *WriteRawMessageReq {
	return &WriteRawMessageReq{
		ProductID: productID,
		Payload:   payload,
	}
}
