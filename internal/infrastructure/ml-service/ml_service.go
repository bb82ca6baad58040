package ml_service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/snapshop-tech/go-backend/internal/cfg"
	"github.com/snapshop-tech/go-backend/internal/usecase"
	"github.com/snapshop-tech/go-backend/pkg/e"
	"github.com/snapshop-tech/go-backend/pkg/jitter"
	"github.com/snapshop-tech/go-backend/pkg/logger"
)

// MLService клиент для взаимодействия с внешним сервисом векторизации по HTTP/JSON.
type MLService struct {
	httpClient *http.Client
	baseURL    string
	maxRetries int
	sem        chan struct{} // ограничение одновременных запросов к модели
	logger     logger.Logger

	mu    sync.Mutex
	ready bool
}

func NewMLService(cfg *cfg.MLServiceCfg, logger logger.Logger) *MLService {
	return &MLService{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    cfg.BaseURL,
		maxRetries: cfg.MaxRetries,
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		logger:     logger,
	}
}

// vectorizeRequest — тело POST /v1/vectorize.
type vectorizeRequest struct {
	ImageData string `json:"image_data"` // base64
	ImageType string `json:"image_type"`
}

// vectorizeResponse — ответ сервиса векторизации.
type vectorizeResponse struct {
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
}

// EnsureReady лениво проверяет доступность сервиса векторизации.
// Успешная проверка запоминается; повторные вызовы ничего не стоят.
// Неуспешная — не запоминается, следующий вызов попробует снова.
func (m *MLService) EnsureReady(ctx context.Context) error {
	const op = "MLService.EnsureReady"

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ready {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/healthz", nil)
	if err != nil {
		return e.Wrap(op, err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return e.Wrap(op, fmt.Errorf("%w: %w", e.ErrEmbeddingFailed, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return e.Wrap(op, fmt.Errorf("%w: healthcheck returned %d", e.ErrEmbeddingFailed, resp.StatusCode))
	}

	m.ready = true
	return nil
}

// Vectorize выполняет векторизацию изображения с retry-логикой и экспоненциальной задержкой
func (m *MLService) Vectorize(ctx context.Context, req *usecase.VectorizeReq) (*usecase.VectorizeRes, error) {
	const (
		op         = "MLService.Vectorize"
		baseJitter = 1 * time.Second
		maxJitter  = 30 * time.Second
	)

	var lastErr error
	for attempt := 0; attempt < m.maxRetries; attempt++ {
		vector, err := m.vectorizeOnce(ctx, req)
		if err == nil {
			return vector, nil
		}
		lastErr = err

		if attempt == m.maxRetries-1 {
			break
		}

		sleepTime := jitter.ExponentialBackoff(
			baseJitter,
			maxJitter,
			attempt,
			jitter.DefaultJitter,
		)

		m.logger.Warnf("vectorization failed, retrying in %v (attempt %d): %v", sleepTime, attempt+1, err)
		select {
		case <-time.After(sleepTime):
		case <-ctx.Done():
			return nil, e.Wrap(op, ctx.Err())
		}
	}

	return nil, e.Wrap(op, fmt.Errorf("%w: all %d attempts failed: %w", e.ErrEmbeddingFailed, m.maxRetries, lastErr))
}

// vectorizeOnce отправляет одно изображение на векторизацию с ограничением конкурентности
func (m *MLService) vectorizeOnce(ctx context.Context, req *usecase.VectorizeReq) (*usecase.VectorizeRes, error) {
	const op = "MLService.vectorizeOnce"

	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
		return nil, e.Wrap(op, ctx.Err())
	}

	body, err := json.Marshal(vectorizeRequest{
		ImageData: base64.StdEncoding.EncodeToString(req.Image.Data),
		ImageType: req.Image.MimeType,
	})
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/vectorize", bytes.NewReader(body))
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, e.Wrap(op, fmt.Errorf("vectorize returned %d: %s", resp.StatusCode, payload))
	}

	var res vectorizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, e.Wrap(op, err)
	}

	return usecase.NewVectorizeRes(res.Vector, res.ModelVersion), nil
}
