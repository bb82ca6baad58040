package http

import (
	"errors"
	"net/http"

	"github.com/snapshop-tech/go-backend/internal/usecase"
	"github.com/snapshop-tech/go-backend/pkg/e"
	"github.com/snapshop-tech/go-backend/pkg/logger"
)

type SearchHandler struct {
	searchUsecase usecase.SearchUC
	logger        logger.Logger
}

func NewSearchHandler(searchUsecase usecase.SearchUC, logger logger.Logger) *SearchHandler {
	return &SearchHandler{searchUsecase: searchUsecase, logger: logger}
}

// SearchResponse — выдача поиска похожих товаров.
type SearchResponse struct {
	Results []usecase.ScoredProduct `json:"results"`
	Message string                  `json:"message,omitempty"`
}

// searchSimilar
//
//	@Summary		Поиск похожих товаров по изображению
//	@Description	Возвращает товары каталога, отсортированные по убыванию косинусного сходства
//	@Tags			search
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			image		formData	file			true	"Изображение запроса"
//	@Param			threshold	formData	number			false	"Минимальное сходство в процентах (0-100)"
//	@Success		200			{object}	SearchResponse	"Результаты поиска"
//	@Failure		400			{object}	ErrorResponse	"Ошибка валидации"
//	@Failure		409			{object}	ErrorResponse	"Размерность каталога не совпадает с моделью"
//	@Failure		502			{object}	ErrorResponse	"Сервис векторизации недоступен"
//	@Router			/search [post]
func (s *SearchHandler) searchSimilar(w http.ResponseWriter, r *http.Request) {
	const (
		maxTotalRequestSize = 20 << 20
		maxMemory           = 16 << 20
	)

	r.Body = http.MaxBytesReader(w, r.Body, maxTotalRequestSize)

	if err := ensureMultipartForm(r, maxMemory); err != nil {
		s.logger.Warnf("%d %s: %s", http.StatusBadRequest, e.ErrStatusBadRequest.Error(), r.Header.Get("Content-Type"))
		WriteError(w, err)
		return
	}

	image, err := parseImage(r.MultipartForm.File["image"])
	if err != nil {
		s.logger.Warnf("%d %s: %s", http.StatusBadRequest, e.ErrStatusBadRequest.Error(), err.Error())
		WriteError(w, err)
		return
	}

	threshold, err := parseThreshold(r.FormValue("threshold"))
	if err != nil {
		s.logger.Warnf("%d %s: %s", http.StatusBadRequest, e.ErrStatusBadRequest.Error(), err.Error())
		WriteError(w, err)
		return
	}

	results, err := s.searchUsecase.SearchSimilar(r.Context(), usecase.NewSearchReq(*image))
	if err != nil {
		// Пустой каталог — штатная ситуация, а не ошибка клиента
		if errors.Is(err, e.ErrEmptyCatalog) {
			WriteSuccess(w, http.StatusOK, SearchResponse{
				Results: []usecase.ScoredProduct{},
				Message: e.ErrEmptyCatalog.Error(),
			})
			return
		}

		s.logger.Warnf("%s", err.Error())
		WriteError(w, err)
		return
	}

	if threshold != nil {
		results = usecase.FilterByThreshold(results, *threshold)
	}

	WriteSuccess(w, http.StatusOK, SearchResponse{Results: results})
}
