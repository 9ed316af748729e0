package httpadapter

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kirillkom/localrag/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrDocumentNotFound), domain.IsKind(err, domain.ErrRunNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrDuplicateDocument):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrChunking):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrUpstreamUnavailable),
		domain.IsKind(err, domain.ErrModelUnavailable),
		domain.IsKind(err, domain.ErrRetrievalFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is what the client sees. Only caller mistakes carry their own text.
func publicMessage(status int, err error) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return err.Error()
	case http.StatusNotFound:
		return "not found"
	case http.StatusConflict:
		return "document already exists"
	case http.StatusGatewayTimeout:
		return "upstream service timed out, retry later"
	case http.StatusServiceUnavailable:
		return "upstream service unavailable, retry later"
	default:
		return "internal error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	attrs := []any{
		"request_id", requestIDFromContext(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		slog.Error("http_request_failed", attrs...)
	} else {
		slog.Debug("http_request_rejected", attrs...)
	}
	writeJSON(w, status, errorResponse{Error: publicMessage(status, err)})
}
