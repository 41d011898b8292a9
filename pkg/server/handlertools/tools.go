package handlertools

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/labmanager/labml/internal"
	"github.com/labmanager/labml/pkg/models"
)

var log = internal.GetLogger()

// MaxImageBytes caps uploaded photos.
const MaxImageBytes = 10 << 20

// ImageFormField is the multipart field carrying an uploaded photo.
const ImageFormField = "image"

// IntFromQuery extracts a query string value and converts it to an int
// if it is not empty. If the value is empty, it returns 0.
func IntFromQuery[T ~int | int32 | int64](
	r *http.Request,
	param string,
) (T, error) {
	bitsize := 0

	p := r.URL.Query().Get(param)
	var pInt T
	if p != "" {
		switch any(pInt).(type) {
		case int:
		case int32:
			bitsize = 32
		case int64:
			bitsize = 64
		default:
			return 0, errors.New("unsupported type")
		}

		pInt, err := strconv.ParseInt(p, 10, bitsize)
		if err != nil {
			return 0, models.NewInvalidInputError(fmt.Sprintf("%s must be an integer", param))
		}
		return T(pInt), nil
	}
	return 0, nil
}

// BoolFromQuery extracts a query string value and converts it to a bool
func BoolFromQuery(r *http.Request, param string) (bool, error) {
	p := r.URL.Query().Get(param)
	if p != "" {
		b, err := strconv.ParseBool(p)
		if err != nil {
			return false, models.NewInvalidInputError(fmt.Sprintf("%s must be a boolean", param))
		}
		return b, nil
	}
	return false, nil
}

// IDFromURL parses a positive int64 from a path parameter.
func IDFromURL(r *http.Request, paramName string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, paramName), 10, 64)
	if err != nil || id <= 0 {
		return 0, models.NewInvalidInputError(fmt.Sprintf("%s must be a positive integer", paramName))
	}
	return id, nil
}

// EncodeJSON encodes data into JSON and writes it to the response writer.
func EncodeJSON(w http.ResponseWriter, data interface{}) error {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	return json.NewEncoder(w).Encode(data)
}

// DecodeJSON decodes a JSON request body into the provided data struct. An empty body
// leaves data untouched.
func DecodeJSON(r *http.Request, data interface{}) error {
	err := json.NewDecoder(r.Body).Decode(&data)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return models.NewInvalidInputError(fmt.Sprintf("malformed JSON body: %v", err))
	}
	return nil
}

// ImageFromRequest reads an uploaded photo, either from the multipart field "image" or
// from the raw request body.
func ImageFromRequest(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxImageBytes)

	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(MaxImageBytes); err != nil {
			return nil, models.NewInvalidInputError(fmt.Sprintf("unable to parse multipart form: %v", err))
		}
		file, _, err := r.FormFile(ImageFormField)
		if err != nil {
			return nil, models.NewInvalidInputError(fmt.Sprintf("missing %q file field", ImageFormField))
		}
		defer file.Close()
		src = file
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, models.NewInvalidInputError("empty image")
	}
	return data, nil
}

// StatusFromError maps the error kinds of pkg/models to HTTP status codes. Errors of no
// known kind get fallback.
func StatusFromError(err error, fallback int) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrTrainingInProgress):
		return http.StatusConflict
	case errors.Is(err, models.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return fallback
}

// RenderError renders an error response. The status is derived from the error kind when
// it has one.
func RenderError(w http.ResponseWriter, err error, status int) {
	status = StatusFromError(err, status)

	if status >= http.StatusInternalServerError {
		log.Error(err)
	} else {
		log.Debug(err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(models.ErrorResponse{Message: err.Error()}); encErr != nil {
		log.Errorf("failed to encode error response: %v", encErr)
	}
}
