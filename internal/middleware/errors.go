package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"authgate/internal/apperr"
)

type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
	RequestID  string `json:"requestId,omitempty"`
}

// AbortWithError writes the error envelope for err and stops the handler
// chain. Internal failures are logged with their cause and reported to the
// client as internal_server_error only.
func AbortWithError(c *gin.Context, err error) {
	appErr := apperr.From(err)
	if appErr.Kind == apperr.KindInternal {
		RequestLogger(c).Error().Err(err).Msg("request failed")
		appErr = apperr.ErrInternal
	}
	_ = c.Error(err)
	writeError(c, appErr)
}

func writeError(c *gin.Context, appErr *apperr.Error) {
	status := appErr.Kind.HTTPStatus()
	c.AbortWithStatusJSON(status, errorResponse{
		StatusCode: status,
		Success:    false,
		Error:      appErr.Code,
		Message:    appErr.Message,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		RequestID:  RequestIDFrom(c),
	})
}

// RequestLogger returns the logger bound to the request by Logger, enriched
// with the caller's identity once a guard has run.
func RequestLogger(c *gin.Context) *zerolog.Logger {
	return zerolog.Ctx(c.Request.Context())
}
