package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaykit/relay/pkg/services"
)

// Machine-readable error codes carried in the response envelope.
const (
	codeInvalidInput     = "invalid-input"
	codePayloadTooLarge  = "payload-too-large"
	codeMissingAuth      = "missing-auth"
	codeInvalidAuth      = "invalid-auth"
	codeNotFound         = "not-found"
	codeAlreadyExists    = "already-exists"
	codeVersionConflict  = "version-conflict"
	codeCrossChannelMove = "cross-channel-move"
	codeRateLimited      = "rate-limited"
	codeStoreBusy        = "store-busy"
	codeInternalError    = "internal-error"
)

// errorResponse is the error envelope on every non-2xx JSON response.
type errorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

func writeError(c *gin.Context, status int, code, message string, details map[string]any) {
	c.AbortWithStatusJSON(status, errorResponse{Error: message, Code: code, Details: details})
}

// mapServiceError projects service-layer errors onto HTTP status and code.
func mapServiceError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		writeError(c, http.StatusBadRequest, codeInvalidInput, validErr.Error(),
			map[string]any{"field": validErr.Field})
		return
	}
	var tooLarge *services.PayloadTooLargeError
	if errors.As(err, &tooLarge) {
		writeError(c, http.StatusRequestEntityTooLarge, codePayloadTooLarge, tooLarge.Error(),
			map[string]any{"field": tooLarge.Field, "limit": tooLarge.Limit})
		return
	}
	var conflict *services.VersionConflictError
	if errors.As(err, &conflict) {
		writeError(c, http.StatusConflict, codeVersionConflict, conflict.Error(),
			map[string]any{"current_version": conflict.CurrentVersion})
		return
	}
	if errors.Is(err, services.ErrNotFound) {
		writeError(c, http.StatusNotFound, codeNotFound, "resource not found", nil)
		return
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		writeError(c, http.StatusConflict, codeAlreadyExists, "resource already exists", nil)
		return
	}
	if errors.Is(err, services.ErrCrossChannelMove) {
		writeError(c, http.StatusConflict, codeCrossChannelMove,
			"target topic is in a different channel", nil)
		return
	}
	if errors.Is(err, services.ErrStoreBusy) {
		c.Header("Retry-After", "1")
		writeError(c, http.StatusServiceUnavailable, codeStoreBusy,
			"store is busy, retry shortly", nil)
		return
	}

	slog.Error("Unexpected service error", "error", err)
	writeError(c, http.StatusInternalServerError, codeInternalError, "internal server error", nil)
}
