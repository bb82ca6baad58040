package ml_service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snapshop-tech/go-backend/internal/cfg"
	"github.com/snapshop-tech/go-backend/internal/usecase"
	"github.com/snapshop-tech/go-backend/pkg/e"
	"github.com/snapshop-tech/go-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(baseURL string, maxRetries int) *MLService {
	return NewMLService(&cfg.MLServiceCfg{
		BaseURL:        baseURL,
		MaxConcurrent:  2,
		MaxRetries:     maxRetries,
		RequestTimeout: 2 * time.Second,
	}, logger.NewSlogLogger())
}

func vectorizeReq() *usecase.VectorizeReq {
	return usecase.NewVectorizeReq(*usecase.NewProductImage([]byte{0xFF, 0xD8}, "image/jpeg", 2, "a.jpg"))
}

func TestVectorize_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/vectorize", r.URL.Path)

		var body vectorizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body.ImageData)
		assert.Equal(t, "image/jpeg", body.ImageType)

		json.NewEncoder(w).Encode(vectorizeResponse{
			Vector:       []float32{0.1, 0.2, 0.3},
			ModelVersion: "v3",
		})
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, 1)

	res, err := svc.Vectorize(context.Background(), vectorizeReq())
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, res.Vector)
	assert.Equal(t, "v3", res.ModelVersion)
}

func TestVectorize_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "model warming up", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(vectorizeResponse{Vector: []float32{1}, ModelVersion: "v1"})
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, 3)

	res, err := svc.Vectorize(context.Background(), vectorizeReq())
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, res.Vector)
	assert.Equal(t, int32(2), calls.Load())
}

func TestVectorize_AllAttemptsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, 1)

	_, err := svc.Vectorize(context.Background(), vectorizeReq())
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrEmbeddingFailed)
}

func TestEnsureReady_CachesSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/healthz", r.URL.Path)
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, 1)

	require.NoError(t, svc.EnsureReady(context.Background()))
	require.NoError(t, svc.EnsureReady(context.Background()))

	assert.Equal(t, int32(1), calls.Load(), "успешная проверка запоминается")
}

func TestEnsureReady_FailureIsRetriable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := newTestService(srv.URL, 1)

	err := svc.EnsureReady(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrEmbeddingFailed)

	require.NoError(t, svc.EnsureReady(context.Background()), "неуспех не запоминается")
}
