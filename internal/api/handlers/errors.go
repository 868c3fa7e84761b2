package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Conceptual-Machines/magda-bebop/internal/index"
	"github.com/Conceptual-Machines/magda-bebop/internal/logger"
	"github.com/Conceptual-Machines/magda-bebop/internal/solo"
	"github.com/Conceptual-Machines/magda-bebop/internal/theory"
)

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	var (
		unknown *theory.UnknownChordQualityError
		root    *theory.InvalidRootError
		empty   index.EmptyIndexError
		timeout *solo.QueryTimeoutError
	)
	switch {
	case errors.As(err, &unknown), errors.As(err, &root):
		return http.StatusUnprocessableEntity
	case errors.As(err, &empty):
		return http.StatusConflict
	case errors.Is(err, index.ErrInvalidK):
		return http.StatusBadRequest
	case errors.Is(err, solo.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, solo.ErrStopped), errors.Is(err, solo.ErrNoMelody),
		errors.Is(err, solo.ErrChordChanged):
		return http.StatusConflict
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", err, logger.WithContext(c))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string, err error) {
	body := gin.H{"error": msg}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}
