package domain

import "time"

// Product описывает товар каталога. Естественный ключ — ImagePath:
// на один путь изображения существует не более одной записи.
type Product struct {
	ID           int64
	Name         string
	CategoryID   int64
	ImagePath    string
	ModelVersion string
	CreatedAt    time.Time
	UpdatedAt    *time.Time
	IsArchived   bool
}

func NewProduct(name string, categoryID int64, imagePath string, modelVersion string) *Product {
	return &Product{
		Name:         name,
		CategoryID:   categoryID,
		ImagePath:    imagePath,
		ModelVersion: modelVersion,
	}
}
