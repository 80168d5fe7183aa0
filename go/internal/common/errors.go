package common

import (
	"errors"
	"net/http"

	"github.com/lib/pq"
)

var (
	ErrNotFound       = errors.New("requested resource not found")
	ErrValidation     = errors.New("validation failed")
	ErrConflict       = errors.New("resource conflict") // duplicate submission, duplicate evaluation
	ErrOutOfSequence  = errors.New("submission out of sequence")
	ErrTransientStore = errors.New("store temporarily unavailable")
	ErrClockSkew      = errors.New("timestamp anomaly detected")
	ErrEventNotActive = errors.New("event is not running")
)

// HTTPStatusFromError maps domain errors to HTTP status codes for the
// gateway's query endpoints.
func HTTPStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict), errors.Is(err, ErrOutOfSequence):
		return http.StatusConflict
	case errors.Is(err, ErrEventNotActive):
		return http.StatusConflict
	case errors.Is(err, ErrTransientStore):
		return http.StatusServiceUnavailable
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique violation
		return http.StatusConflict
	}

	return http.StatusInternalServerError
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation. The per-pair uniqueness invariants (one submission per
// team/quest, one evaluation per submission/evaluator) are enforced at the
// store layer, so commands translate this into ErrConflict.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
