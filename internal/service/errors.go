package service

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fairsettle/fairsettle/internal/models"
)

// writeError maps domain errors onto HTTP status codes. Every error in the
// taxonomy is recoverable for the caller: the settlement and queue remain
// consistent, so nothing here is a 500 unless it is genuinely unexpected.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrInvalidBatch),
		errors.Is(err, models.ErrEmptyTransferList),
		errors.Is(err, models.ErrInvalidOutcome),
		errors.Is(err, models.ErrAmountOverflow):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrNotFullyFunded),
		errors.Is(err, models.ErrOverfunded),
		errors.Is(err, models.ErrInsufficientFunds),
		errors.Is(err, models.ErrQueueOrder),
		errors.Is(err, models.ErrAlreadyTerminal),
		errors.Is(err, models.ErrDisputed),
		errors.Is(err, models.ErrTimeoutNotReached),
		errors.Is(err, models.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, models.ErrPriceGuard):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
