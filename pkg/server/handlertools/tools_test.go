package handlertools

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labmanager/labml/pkg/models"
)

func TestExtractQueryStringValueToInt(t *testing.T) {
	req := httptest.NewRequest("GET", "/?param=123", nil)
	got, err := IntFromQuery[int](req, "param")
	assert.NoError(t, err, "extractQueryStringValueToInt() error = %v", err)
	assert.Equal(t, 123, got, "extractQueryStringValueToInt() = %v, want %v", got, 123)

	req = httptest.NewRequest("GET", "/?param=abc", nil)
	_, err = IntFromQuery[int](req, "param")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	req = httptest.NewRequest("GET", "/", nil)
	got, err = IntFromQuery[int](req, "param")
	assert.NoError(t, err)
	assert.Zero(t, got)
}

func TestBoolFromQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/?async=true", nil)
	got, err := BoolFromQuery(req, "async")
	assert.NoError(t, err)
	assert.True(t, got)

	req = httptest.NewRequest("GET", "/?async=maybe", nil)
	_, err = BoolFromQuery(req, "async")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestIDFromURL(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := IDFromURL(r, "id")
		if err != nil {
			RenderError(w, err, http.StatusInternalServerError)
			return
		}
		assert.Equal(t, int64(42), id)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	res, err := http.Get(ts.URL + "/42")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	for _, bad := range []string{"/abc", "/0", "/-3"} {
		res, err = http.Get(ts.URL + bad)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode, bad)
	}
}

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.NewInvalidInputError("x"), http.StatusBadRequest},
		{models.NewNotFoundError("equipment"), http.StatusNotFound},
		{models.ErrTrainingInProgress, http.StatusConflict},
		{models.NewInsufficientDataError("maintenance", 1, 5, ""), http.StatusUnprocessableEntity},
		{models.NewUnavailableError("recognition", "no model"), http.StatusServiceUnavailable},
		{models.NewDatabaseError("select", errors.New("boom")), http.StatusInternalServerError},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFromError(tt.err, http.StatusInternalServerError), tt.err.Error())
	}
}

func TestRenderError(t *testing.T) {
	rr := httptest.NewRecorder()
	RenderError(rr, models.NewNotFoundError("equipment"), http.StatusInternalServerError)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "equipment not found", body.Message)
}

func TestImageFromRequest(t *testing.T) {
	payload := []byte("not really a png")

	t.Run("raw body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "image/png")
		got, err := ImageFromRequest(httptest.NewRecorder(), req)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("multipart", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile(ImageFormField, "photo.png")
		require.NoError(t, err)
		_, err = fw.Write(payload)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		got, err := ImageFromRequest(httptest.NewRecorder(), req)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("empty", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		_, err := ImageFromRequest(httptest.NewRecorder(), req)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})
}
