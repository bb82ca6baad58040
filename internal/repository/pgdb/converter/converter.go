package converter

import (
	"github.com/snapshop-tech/go-backend/internal/domain"
	"github.com/snapshop-tech/go-backend/internal/usecase"
)

// ProductConverter преобразует сущности Product между domain и моделью PostgreSQL.
type ProductConverter interface {
	ToModel(entity *domain.Product) *ProductModel
	ToEntity(model *ProductModel) *domain.Product
}

// CategoryConverter преобразует сущности Category между domain и моделью PostgreSQL.
type CategoryConverter interface {
	ToModel(entity *domain.Category) *CategoryModel
	ToEntity(model *CategoryModel) *domain.Category
}

// OutboxEventConverter преобразует сущности OutboxEvent между usecase и моделью PostgreSQL.
type OutboxEventConverter interface {
	ToModel(entity *usecase.OutboxEvent) *OutboxEventModel
	ToEntity(model *OutboxEventModel) *usecase.OutboxEvent
	ToArrEntity(models []*OutboxEventModel) []*usecase.OutboxEvent
}

type ProductConverterImpl struct{}

func NewProductConverterImpl() *ProductConverterImpl {
	return &ProductConverterImpl{}
}

func (c *ProductConverterImpl) ToModel(entity *domain.Product) *ProductModel {
	if entity == nil {
		return nil
	}
	return &ProductModel{
		ID:           entity.ID,
		Name:         entity.Name,
		CategoryID:   entity.CategoryID,
		ImagePath:    entity.ImagePath,
		ModelVersion: entity.ModelVersion,
		CreatedAt:    entity.CreatedAt,
		UpdatedAt:    entity.UpdatedAt,
		IsArchived:   entity.IsArchived,
	}
}

func (c *ProductConverterImpl) ToEntity(model *ProductModel) *domain.Product {
	if model == nil {
		return nil
	}
	return &domain.Product{
		ID:           model.ID,
		Name:         model.Name,
		CategoryID:   model.CategoryID,
		ImagePath:    model.ImagePath,
		ModelVersion: model.ModelVersion,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
		IsArchived:   model.IsArchived,
	}
}

type CategoryConverterImpl struct{}

func NewCategoryConverterImpl() *CategoryConverterImpl {
	return &CategoryConverterImpl{}
}

func (c *CategoryConverterImpl) ToModel(entity *domain.Category) *CategoryModel {
	if entity == nil {
		return nil
	}
	return &CategoryModel{
		ID:         entity.ID,
		Name:       entity.Name,
		CreatedAt:  entity.CreatedAt,
		UpdatedAt:  entity.UpdatedAt,
		IsArchived: entity.IsArchived,
	}
}

func (c *CategoryConverterImpl) ToEntity(model *CategoryModel) *domain.Category {
	if model == nil {
		return nil
	}
	return &domain.Category{
		ID:         model.ID,
		Name:       model.Name,
		CreatedAt:  model.CreatedAt,
		UpdatedAt:  model.UpdatedAt,
		IsArchived: model.IsArchived,
	}
}

type OutboxEventConverterImpl struct{}

func NewOutboxEventConverterImpl() *OutboxEventConverterImpl {
	return &OutboxEventConverterImpl{}
}

func (c *OutboxEventConverterImpl) ToModel(entity *usecase.OutboxEvent) *OutboxEventModel {
	if entity == nil {
		return nil
	}
	return &OutboxEventModel{
		ID:          entity.ID,
		EventID:     entity.EventID,
		EventType:   entity.EventType,
		ProductID:   entity.ProductID,
		Payload:     entity.Payload,
		Status:      entity.Status,
		CreatedAt:   entity.CreatedAt,
		ProcessedAt: entity.ProcessedAt,
	}
}

func (c *OutboxEventConverterImpl) ToEntity(model *OutboxEventModel) *usecase.OutboxEvent {
	if model == nil {
		return nil
	}
	return &usecase.OutboxEvent{
		ID:          model.ID,
		EventID:     model.EventID,
		EventType:   model.EventType,
		ProductID:   model.ProductID,
		Payload:     model.Payload,
		Status:      model.Status,
		CreatedAt:   model.CreatedAt,
		ProcessedAt: model.ProcessedAt,
	}
}

func (c *OutboxEventConverterImpl) ToArrEntity(models []*OutboxEventModel) []*usecase.OutboxEvent {
	result := make([]*usecase.OutboxEvent, 0, len(models))
	for _, model := range models {
		result = append(result, c.ToEntity(model))
	}
	return result
}
