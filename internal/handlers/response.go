package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Brownie44l1/crop-disease-api/internal/errors"
)

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

// statusFor maps an error kind to the HTTP status and client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Request cancelled"
	}

	switch apperrors.KindOf(err) {
	case apperrors.KindDecode:
		return http.StatusBadRequest, "Invalid image format"
	case apperrors.KindInference:
		return http.StatusInternalServerError, "Prediction failed"
	case apperrors.KindLabelIndex:
		return http.StatusInternalServerError, "Model output does not match the label catalog"
	case apperrors.KindStorage:
		return http.StatusInternalServerError, "Failed to store upload"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, message := statusFor(err)
	kind := apperrors.KindOf(err)

	level := slog.LevelError
	msg := "prediction failed"
	switch {
	case kind == apperrors.KindDecode:
		level = slog.LevelInfo
		msg = "rejected upload"
	case kind == apperrors.KindLabelIndex:
		msg = "label catalog does not match model output, check model metadata"
	}
	h.logger.Log(c.Request.Context(), level, msg,
		"kind", string(kind),
		"path", c.Request.URL.Path,
		"error", err,
	)

	if h.metrics != nil {
		h.metrics.PredictionFailed(string(kind))
	}
	_ = c.Error(err)
	respondError(c, status, message)
}
