package apihandlers

import (
	"github.com/go-playground/validator/v10"

	"github.com/labmanager/labml/internal"
)

var log = internal.GetLogger()

var validate = validator.New()

// APIError represents an error response. Used for swagger documentation.
type APIError struct {
	Message string `json:"message"`
}

// TaskAccepted is the response to a request run asynchronously on the task router.
type TaskAccepted struct {
	Task      string `json:"task"`
	Status    string `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}
