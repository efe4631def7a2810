package api

import (
	"context"
	"errors"

	"PatternMemory/internal/domain/models"
	xhttp "PatternMemory/pkg/http"
)

// appError maps the engine's error taxonomy onto HTTP statuses.
func appError(err error) *xhttp.AppError {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return xhttp.BadRequestErrorf("%s", verr.Error()).
			WithParam("symbol", verr.Symbol).
			WithParam("timeframe", string(verr.Timeframe)).
			WithParam("index", verr.Index).
			WithError(err)
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrInvalidOutcome):
		return xhttp.BadRequestErrorf("%s", err.Error()).WithError(err)
	case errors.Is(err, models.ErrRecordNotFound):
		return xhttp.NotFoundErrorf("%s", err.Error()).WithError(err)
	case errors.Is(err, models.ErrAlreadyResolved):
		return xhttp.ConflictErrorf("%s", err.Error()).WithError(err)
	case errors.Is(err, models.ErrInsufficientData):
		return xhttp.UnprocessableErrorf("%s", err.Error()).WithError(err)
	case errors.Is(err, models.ErrMemoryUnavailable), errors.Is(err, context.DeadlineExceeded):
		return xhttp.UnavailableErrorf("%s", err.Error()).WithError(err)
	default:
		return xhttp.InternalErrorf("internal error").WithError(err)
	}
}
