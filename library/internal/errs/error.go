package errs

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrNoCopiesAvailable   = errors.New("no copies available")
	ErrBorrowLimitExceeded = errors.New("borrow limit exceeded")
	ErrFinesOutstanding    = errors.New("outstanding fines over limit")
	ErrAlreadyExists       = errors.New("already exists")
	ErrStorage             = errors.New("storage error")

	ErrInvalidTier = Validation(errors.New("invalid membership tier"))
	ErrInvalidKind = Validation(errors.New("invalid book kind"))
)

type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.err.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.err}
}

// Validation marks err as a ValidationError.
func Validation(err error) error {
	return &kindError{kind: ErrValidation, err: err}
}

// Storage marks a driver failure of op as a StorageError.
func Storage(op string, err error) error {
	return &kindError{kind: ErrStorage, err: errors.Wrap(err, op)}
}

type tagged struct {
	err    error
	tag    string
	status int
}

var taxonomy = []tagged{
	{ErrValidation, "validation_error", http.StatusBadRequest},
	{ErrNotFound, "not_found", http.StatusNotFound},
	{ErrNoCopiesAvailable, "no_copies_available", http.StatusConflict},
	{ErrBorrowLimitExceeded, "borrow_limit_exceeded", http.StatusConflict},
	{ErrFinesOutstanding, "fines_outstanding", http.StatusConflict},
	{ErrAlreadyExists, "already_exists", http.StatusConflict},
	{ErrStorage, "storage_error", http.StatusInternalServerError},
}

// Tag names the rule err violated. Unknown errors are "internal".
func Tag(err error) string {
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return t.tag
		}
	}
	return "internal"
}

func HTTPStatus(err error) int {
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return t.status
		}
	}
	return http.StatusInternalServerError
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func Response(err error) ErrorResponse {
	return ErrorResponse{
		Error:   Tag(err),
		Message: err.Error(),
	}
}
