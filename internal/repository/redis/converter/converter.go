package converter

import (
	"github.com/snapshop-tech/go-backend/internal/usecase"
)

// ProductInfoConverter преобразует карточки товара между usecase и Redis-моделью.
type ProductInfoConverter interface {
	ToRedisModel(entity *usecase.ProductInfo) *ProductInfoRedisModel
	ToUseCase(model *ProductInfoRedisModel) *usecase.ProductInfo
	ToArrRedisModel(entities []usecase.ProductInfo) []ProductInfoRedisModel
	ToArrUseCase(models []ProductInfoRedisModel) []usecase.ProductInfo
}

type ProductInfoConverterImpl struct{}

func NewProductInfoConverterImpl() *ProductInfoConverterImpl {
	return &ProductInfoConverterImpl{}
}

func (c *ProductInfoConverterImpl) ToRedisModel(entity *usecase.ProductInfo) *ProductInfoRedisModel {
	if entity == nil {
		return nil
	}
	return &ProductInfoRedisModel{
		ID:           entity.ID,
		Name:         entity.Name,
		CategoryName: entity.CategoryName,
		ImagePath:    entity.ImagePath,
		ModelVersion: entity.ModelVersion,
	}
}

func (c *ProductInfoConverterImpl) ToUseCase(model *ProductInfoRedisModel) *usecase.ProductInfo {
	if model == nil {
		return nil
	}
	return &usecase.ProductInfo{
		ID:           model.ID,
		Name:         model.Name,
		CategoryName: model.CategoryName,
		ImagePath:    model.ImagePath,
		ModelVersion: model.ModelVersion,
	}
}

func (c *ProductInfoConverterImpl) ToArrRedisModel(entities []usecase.ProductInfo) []ProductInfoRedisModel {
	result := make([]ProductInfoRedisModel, 0, len(entities))
	for i := range entities {
		result = append(result, *c.ToRedisModel(&entities[i]))
	}
	return result
}

func (c *ProductInfoConverterImpl) ToArrUseCase(models []ProductInfoRedisModel) []usecase.ProductInfo {
	result := make([]usecase.ProductInfo, 0, len(models))
	for i := range models {
		result = append(result, *c.ToUseCase(&models[i]))
	}
	return result
}
