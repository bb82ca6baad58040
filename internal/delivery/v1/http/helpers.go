package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/jimlawless/whereami"
	"github.com/shopspring/decimal"
	"github.com/snapshop-tech/go-backend/internal/usecase"
	"github.com/snapshop-tech/go-backend/pkg/e"
)

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewErrorResponse(code int, message string) *ErrorResponse {
	return &ErrorResponse{
		Code:    code,
		Message: message,
	}
}

func ToHTTPResponse(err error) (int, string) {
	switch {
	case errors.Is(err, e.ErrStatusBadRequest):
		return http.StatusBadRequest, e.ErrStatusBadRequest.Error()
	case errors.Is(err, e.ErrExpectedMultipart):
		return http.StatusBadRequest, e.ErrExpectedMultipart.Error()
	case errors.Is(err, e.ErrMissingImage):
		return http.StatusBadRequest, e.ErrMissingImage.Error()
	case errors.Is(err, e.ErrInvalidThreshold):
		return http.StatusBadRequest, e.ErrInvalidThreshold.Error()
	case errors.Is(err, e.ErrFileTooLarge):
		return http.StatusBadRequest, e.ErrFileTooLarge.Error()
	case errors.Is(err, e.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, e.ErrUnsupportedMediaType.Error()
	case errors.Is(err, e.ErrUnauthorized):
		return http.StatusForbidden, e.ErrUnauthorized.Error()
	case errors.Is(err, e.ErrDimensionMismatch):
		return http.StatusConflict, e.ErrDimensionMismatch.Error()
	case errors.Is(err, e.ErrEmbeddingFailed):
		return http.StatusBadGateway, e.ErrEmbeddingFailed.Error()
	case errors.Is(err, e.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, e.ErrStorageUnavailable.Error()
	default:
		return http.StatusInternalServerError, e.ErrInternalServerError.Error()
	}
}

func WriteError(w http.ResponseWriter, err error) {
	code, msg := ToHTTPResponse(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(NewErrorResponse(code, msg))
}

func WriteSuccess(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// parseThreshold разбирает необязательный порог сходства в процентах.
// Возвращает nil, если порог не передан. Значение вне [0, 100] или
// нечисловая строка дают e.ErrInvalidThreshold.
func parseThreshold(s string) (*float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, e.ErrInvalidThreshold
	}

	if d.LessThan(decimal.Zero) || d.GreaterThan(decimal.NewFromInt(100)) {
		return nil, e.ErrInvalidThreshold
	}

	threshold, _ := d.Float64()
	return &threshold, nil
}

func ensureMultipartForm(r *http.Request, maxMemory int64) error {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return e.Wrap(whereami.WhereAmI(), e.ErrExpectedMultipart)
	}
	return r.ParseMultipartForm(maxMemory)
}

// parseImage извлекает единственное изображение из multipart-поля.
func parseImage(files []*multipart.FileHeader) (*usecase.ProductImage, error) {
	const maxFileSize = 15 << 20

	if len(files) == 0 {
		return nil, e.ErrMissingImage
	}

	fh := files[0]
	data, mimeType, err := readFile(fh, maxFileSize)
	if err != nil {
		return nil, err
	}

	return usecase.NewProductImage(data, mimeType, int64(len(data)), fh.Filename), nil
}

func readFile(fh *multipart.FileHeader, maxSize int64) ([]byte, string, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, "", e.ErrInternalServerError
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, "", e.ErrInternalServerError
	}
	if int64(len(data)) > maxSize {
		return nil, "", e.Wrap(fh.Filename, e.ErrFileTooLarge)
	}

	mimeType := http.DetectContentType(data[:min(len(data), 512)])
	return data, mimeType, nil
}
