package database

import (
	"errors"

	"erasure-cloud/internal/apperr"
)

// CodeQuotaExceeded is the public code of ErrQuotaExceeded.
const CodeQuotaExceeded = "QUOTA_EXCEEDED"

// AsAppError maps repository sentinels onto the public error taxonomy.
// Unknown failures become External with op as the safe message.
func AsAppError(err error, entity, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound("%s not found", entity)
	case errors.Is(err, ErrVersionConflict):
		return apperr.Conflict("%s was modified concurrently, retry", entity)
	case errors.Is(err, ErrDuplicate):
		return apperr.Conflict("%s already exists", entity)
	case errors.Is(err, ErrQuotaExceeded):
		return apperr.Conflict("%s quota exceeded", entity).WithCode(CodeQuotaExceeded)
	}
	return apperr.External(op, err)
}
