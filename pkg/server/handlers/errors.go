package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/server/dto"
	"github.com/soundprediction/chronograph/pkg/types"
)

// statusFor maps an error to an HTTP status by its kind.
func statusFor(err error) int {
	var typed *types.Error
	switch {
	case errors.Is(err, chronograph.ErrEpisodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, types.ErrFatal):
		return http.StatusInternalServerError
	case errors.As(err, &typed), errors.Is(err, types.ErrTransient):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError writes an error response as JSON
func writeError(c *gin.Context, status int, code string, err error) {
	resp := dto.ErrorResponse{Error: code}
	if err != nil {
		resp.Message = err.Error()
		var typed *types.Error
		if errors.As(err, &typed) {
			resp.Kind = typed.Kind
		}
	}
	c.AbortWithStatusJSON(status, resp)
}

// bindJSON decodes the request body, writing a 400 on failure.
func bindJSON(c *gin.Context, out interface{}) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err)
		return false
	}
	return true
}
