package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"authgate/internal/apperr"
	"authgate/internal/middleware"
	"authgate/internal/service"
)

// multipartOverhead is the allowance for form boundaries and headers on top
// of the file size limit.
const multipartOverhead = 64 << 10

type fileResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	MimeType  string    `json:"mimeType"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h HandlerSet) UploadFile(c *gin.Context) {
	ident, ok := currentIdentity(c)
	if !ok {
		return
	}

	limit := h.cfg.Storage.MaxUploadBytes
	if limit <= 0 {
		limit = 5 << 20
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.AbortWithError(c, apperr.ErrFileTooLarge.WithCause(err))
			return
		}
		middleware.AbortWithError(c, apperr.ErrValidation.WithMessage("File is required").WithCause(err))
		return
	}
	defer file.Close()

	result, err := h.files.Upload(c.Request.Context(), service.UploadInput{
		Owner:        ident,
		Body:         file,
		DeclaredMIME: header.Header.Get("Content-Type"),
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"file": toFileResponse(result),
	})
}

func (h HandlerSet) GetFile(c *gin.Context) {
	ident, ok := currentIdentity(c)
	if !ok {
		return
	}

	result, err := h.files.Get(c.Request.Context(), ident, c.Param("id"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"file": toFileResponse(result),
	})
}

func toFileResponse(result service.FileResult) fileResponse {
	return fileResponse{
		ID:        result.File.ID,
		URL:       result.URL,
		MimeType:  result.File.MimeType,
		SizeBytes: result.File.SizeBytes,
		CreatedAt: result.File.CreatedAt,
	}
}
