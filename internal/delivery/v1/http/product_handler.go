package http

import (
	"net/http"

	"github.com/snapshop-tech/go-backend/internal/usecase"
	"github.com/snapshop-tech/go-backend/pkg/e"
	"github.com/snapshop-tech/go-backend/pkg/logger"
)

type ProductHandler struct {
	catalogUsecase usecase.CatalogUC
	logger         logger.Logger
}

func NewProductHandler(catalogUsecase usecase.CatalogUC, logger logger.Logger) *ProductHandler {
	return &ProductHandler{catalogUsecase: catalogUsecase, logger: logger}
}

// syncProduct
//
//	@Summary		Синхронизация товара по изображению
//	@Description	Вычисляет embedding изображения и создаёт либо обновляет товар по image_path
//	@Tags			products
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			image		formData	file					true	"Изображение товара"
//	@Param			name		formData	string					false	"Название товара (по умолчанию — имя файла)"
//	@Param			category	formData	string					false	"Категория (по умолчанию Unknown)"
//	@Success		201			{object}	map[string]interface{}	"Товар сохранён"
//	@Success		202			{object}	map[string]interface{}	"Embedding вычислен, но хранилище недоступно"
//	@Failure		400			{object}	ErrorResponse			"Ошибка валидации"
//	@Failure		502			{object}	ErrorResponse			"Сервис векторизации недоступен"
//	@Router			/products [post]
func (p *ProductHandler) syncProduct(w http.ResponseWriter, r *http.Request) {
	const (
		maxTotalRequestSize = 20 << 20
		maxMemory           = 16 << 20
	)

	r.Body = http.MaxBytesReader(w, r.Body, maxTotalRequestSize)

	if err := ensureMultipartForm(r, maxMemory); err != nil {
		p.logger.Warnf("%d %s: %s", http.StatusBadRequest, e.ErrStatusBadRequest.Error(), r.Header.Get("Content-Type"))
		WriteError(w, err)
		return
	}

	image, err := parseImage(r.MultipartForm.File["image"])
	if err != nil {
		p.logger.Warnf("%d %s: %s", http.StatusBadRequest, e.ErrStatusBadRequest.Error(), err.Error())
		WriteError(w, err)
		return
	}

	res, err := p.catalogUsecase.SyncProduct(r.Context(),
		usecase.NewSyncProductReq(*image, r.FormValue("name"), r.FormValue("category")))
	if err != nil {
		p.logger.Warnf("%s", err.Error())
		WriteError(w, err)
		return
	}

	body := map[string]interface{}{
		"product_id":    res.Product.ID,
		"name":          res.Product.Name,
		"category":      res.Product.CategoryName,
		"image_path":    res.ImagePath,
		"model_version": res.Product.ModelVersion,
		"persisted":     res.Persisted,
	}

	// Недоступность хранилища не прячет вычисленный результат
	if !res.Persisted {
		WriteSuccess(w, http.StatusAccepted, body)
		return
	}

	WriteSuccess(w, http.StatusCreated, body)
}
