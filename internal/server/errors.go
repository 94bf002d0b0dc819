package server

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/abramin/upstream/internal/search"
	"github.com/abramin/upstream/internal/tree"
)

// apiError carries the HTTP status an error is reported with.
type apiError struct {
	Code    int
	Message string
	Err     error
}

func (e *apiError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *apiError) Unwrap() error { return e.Err }

func badRequest(message string, err error) *apiError {
	return &apiError{Code: http.StatusBadRequest, Message: message, Err: err}
}

// mapError picks the status for a workspace or tree error.
func mapError(err error) *apiError {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	switch {
	case errors.Is(err, tree.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return &apiError{Code: http.StatusNotFound, Message: err.Error(), Err: err}
	case errors.Is(err, tree.ErrDuplicateTree), errors.Is(err, tree.ErrDuplicateComment):
		return &apiError{Code: http.StatusConflict, Message: err.Error(), Err: err}
	case errors.Is(err, tree.ErrEmptyComment),
		errors.Is(err, tree.ErrNotComment),
		errors.Is(err, tree.ErrInvalidTarget),
		errors.Is(err, tree.ErrNoPrecedingSibling),
		errors.Is(err, tree.ErrNoParent),
		errors.Is(err, tree.ErrInvalidImport):
		return &apiError{Code: http.StatusBadRequest, Message: err.Error(), Err: err}
	case errors.Is(err, search.ErrNoSymbol), errors.Is(err, search.ErrNoEnclosingMethod):
		return &apiError{Code: http.StatusUnprocessableEntity, Message: err.Error(), Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, tree.ErrClosed):
		return &apiError{Code: http.StatusServiceUnavailable, Message: err.Error(), Err: err}
	}
	return &apiError{Code: http.StatusInternalServerError, Message: "internal server error", Err: err}
}

func (s *Server) handleError(c *gin.Context, err error) {
	apiErr := mapError(err)
	if apiErr.Code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("route", c.FullPath()),
			slog.Any("error", err),
		)
	}
	c.JSON(apiErr.Code, gin.H{"error": apiErr.Message})
}
