package http

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/snapshop-tech/go-backend/pkg/e"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseThreshold(t *testing.T) {
	th, err := parseThreshold("")
	require.NoError(t, err)
	assert.Nil(t, th, "отсутствие порога — не ошибка")

	th, err = parseThreshold("50")
	require.NoError(t, err)
	require.NotNil(t, th)
	assert.Equal(t, 50.0, *th)

	th, err = parseThreshold("99.5")
	require.NoError(t, err)
	assert.Equal(t, 99.5, *th)

	th, err = parseThreshold("0")
	require.NoError(t, err)
	assert.Equal(t, 0.0, *th)

	for _, bad := range []string{"-1", "100.1", "abc", "50%"} {
		_, err = parseThreshold(bad)
		assert.ErrorIs(t, err, e.ErrInvalidThreshold, "threshold=%q", bad)
	}
}

func TestToHTTPResponse(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{e.ErrExpectedMultipart, http.StatusBadRequest},
		{e.ErrMissingImage, http.StatusBadRequest},
		{e.ErrInvalidThreshold, http.StatusBadRequest},
		{e.ErrFileTooLarge, http.StatusBadRequest},
		{e.ErrUnsupportedMediaType, http.StatusUnsupportedMediaType},
		{e.ErrUnauthorized, http.StatusForbidden},
		{e.ErrDimensionMismatch, http.StatusConflict},
		{e.ErrEmbeddingFailed, http.StatusBadGateway},
		{e.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("unexpected"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		code, msg := ToHTTPResponse(tc.err)
		assert.Equal(t, tc.code, code, "err=%v", tc.err)
		assert.NotEmpty(t, msg)
	}

	// обёрнутые ошибки распознаются через errors.Is
	code, _ := ToHTTPResponse(e.Wrap("SearchUseCase.SearchSimilar", e.ErrDimensionMismatch))
	assert.Equal(t, http.StatusConflict, code)
}

func TestEnsureMultipartForm_RejectsNonMultipart(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewBufferString(`{}`))
	r.Header.Set("Content-Type", "application/json")

	err := ensureMultipartForm(r, 1<<20)
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrExpectedMultipart)
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return &buf, mw.FormDataContentType()
}

func TestParseImage(t *testing.T) {
	body, contentType := multipartBody(t, "image", "shoe.png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})

	r := httptest.NewRequest(http.MethodPost, "/api/v1/search", body)
	r.Header.Set("Content-Type", contentType)
	require.NoError(t, ensureMultipartForm(r, 1<<20))

	image, err := parseImage(r.MultipartForm.File["image"])
	require.NoError(t, err)
	assert.Equal(t, "shoe.png", image.Name)
	assert.Equal(t, int64(8), image.Size)
	assert.Equal(t, "image/png", image.MimeType)
}

func TestParseImage_MissingFile(t *testing.T) {
	_, err := parseImage(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrMissingImage)
}
