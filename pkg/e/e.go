package e

import "fmt"

var (
	// Внутренние ошибки с транзакциями
	ErrTransactionNotFound  = fmt.Errorf("transaction not found")
	ErrIncorrectEnvVariable = fmt.Errorf("incorrect environment variable")

	// Внутренние ошибки с векторами
	ErrDimensionMismatch = fmt.Errorf("embedding dimension mismatch")
	ErrEmptyVector       = fmt.Errorf("vector embedding is empty")

	// Ошибки доменного слоя
	ErrEmbeddingFailed    = fmt.Errorf("failed to compute embedding")
	ErrEmptyCatalog       = fmt.Errorf("no product embeddings found in the catalog")
	ErrStorageUnavailable = fmt.Errorf("catalog storage unavailable")

	// 400 Bad Request
	ErrStatusBadRequest     = fmt.Errorf("bad request")
	ErrExpectedMultipart    = fmt.Errorf("expected multipart/form-data")
	ErrMissingImage         = fmt.Errorf("no image provided")
	ErrInvalidThreshold     = fmt.Errorf("threshold must be a number between 0 and 100")
	ErrFileTooLarge         = fmt.Errorf("file too large")
	ErrUnsupportedMediaType = fmt.Errorf("unsupported media type")

	// 403 Forbidden
	ErrUnauthorized = fmt.Errorf("unauthorized regeneration attempt")

	// 500 Internal Server Error
	ErrInternalServerError = fmt.Errorf("internal server error")
)

// Wrap оборачивает ошибку
func Wrap(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}
