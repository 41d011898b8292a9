package models

import (
	"errors"
	"fmt"
)

type ErrorResponse struct {
	Message string `json:"message"`
}

/* NotFoundError */

var ErrNotFound = errors.New("not found")

type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

func (*NotFoundError) Unwrap() error {
	return ErrNotFound
}

func NewNotFoundError(resource string) error {
	return &NotFoundError{Resource: resource}
}

/* UnavailableError */

// ErrUnavailable is returned when a model artifact or runtime is missing.
var ErrUnavailable = errors.New("unavailable")

type UnavailableError struct {
	Component string
	Reason    string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %s", e.Component, e.Reason)
}

func (*UnavailableError) Unwrap() error {
	return ErrUnavailable
}

func NewUnavailableError(component, reason string) error {
	return &UnavailableError{Component: component, Reason: reason}
}

/* InsufficientDataError */

var ErrInsufficientData = errors.New("insufficient data")

type InsufficientDataError struct {
	Component string
	Have      int
	Need      int
	Hint      string
}

func (e *InsufficientDataError) Error() string {
	msg := fmt.Sprintf("%s: insufficient data, have %d, need at least %d", e.Component, e.Have, e.Need)
	if e.Hint != "" {
		msg += ". " + e.Hint
	}
	return msg
}

func (*InsufficientDataError) Unwrap() error {
	return ErrInsufficientData
}

func NewInsufficientDataError(component string, have, need int, hint string) error {
	return &InsufficientDataError{Component: component, Have: have, Need: need, Hint: hint}
}

/* InvalidInputError */

var ErrInvalidInput = errors.New("invalid input")

type InvalidInputError struct {
	Message string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Message)
}

func (*InvalidInputError) Unwrap() error {
	return ErrInvalidInput
}

func NewInvalidInputError(message string) error {
	return &InvalidInputError{Message: message}
}

/* PersistenceError */

var ErrPersistence = errors.New("persistence error")

type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

func NewPersistenceError(path string, err error) error {
	return &PersistenceError{Path: path, Err: err}
}

/* DatabaseError */

var ErrDatabase = errors.New("database error")

type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error during %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() []error {
	return []error{ErrDatabase, e.Err}
}

func NewDatabaseError(op string, err error) error {
	return &DatabaseError{Op: op, Err: err}
}

// ErrTrainingInProgress is returned when another training run holds the component lock.
var ErrTrainingInProgress = errors.New("training already in progress")
