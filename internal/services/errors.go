package services

import (
	"atypik-backend/internal/apperr"
	"atypik-backend/internal/repository"

	"github.com/pkg/errors"
)

// storeErr classifies a repository error for op. what names the record for
// not-found messages.
func storeErr(op, what string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrInvalidID):
		return apperr.NotFound(op, "%s not found", what)
	case errors.Is(err, repository.ErrDuplicate):
		return apperr.Conflict(op, "%s already exists", what)
	case errors.Is(err, repository.ErrConditionFailed):
		return apperr.InvalidState(op, "%s is not in the expected state", what)
	default:
		return apperr.Upstream(op, err)
	}
}
