package domain

import "time"

// Category описывает категорию товара
type Category struct {
	ID         int64
	Name       string
	CreatedAt  time.Time
	UpdatedAt  *time.Time
	IsArchived bool
}

// DefaultCategoryName присваивается товарам без явной категории.
const DefaultCategoryName = "Unknown"

func NewCategory(name string) *Category {
	return &Category{
		Name: name,
	}
}
