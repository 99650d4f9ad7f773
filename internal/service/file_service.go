package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/rs/zerolog"

	"authgate/internal/apperr"
	"authgate/internal/config"
	"authgate/internal/ids"
	"authgate/internal/media/sniffer"
	"authgate/internal/models"
)

type UploadInput struct {
	Owner        models.Identity
	Body         io.Reader
	DeclaredMIME string
}

type FileResult struct {
	File models.File
	URL  string
}

// FileService stores profile photos in object storage and tracks them in the
// files table.
type FileService struct {
	store    Store
	objects  ObjectStore
	maxBytes int64
	now      func() time.Time
	log      zerolog.Logger
}

func NewFileService(store Store, objects ObjectStore, cfg *config.AppConfig, logger zerolog.Logger) *FileService {
	return &FileService{
		store:    store,
		objects:  objects,
		maxBytes: cfg.Storage.MaxUploadBytes,
		now:      time.Now,
		log:      logger,
	}
}

func (s *FileService) Upload(ctx context.Context, input UploadInput) (FileResult, error) {
	if input.Body == nil {
		return FileResult{}, apperr.ErrUnsupportedFile
	}

	result, head, err := sniffer.Detect(input.Body)
	if err != nil {
		if errors.Is(err, sniffer.ErrUnknownType) {
			return FileResult{}, apperr.ErrUnsupportedFile.WithCause(err)
		}
		return FileResult{}, fmt.Errorf("read head: %w", err)
	}
	if input.DeclaredMIME != "" && input.DeclaredMIME != "application/octet-stream" && input.DeclaredMIME != result.MIME {
		return FileResult{}, apperr.ErrUnsupportedFile.WithMessage(
			fmt.Sprintf("Content type mismatch: declared %s, actual %s", input.DeclaredMIME, result.MIME))
	}

	limit := s.maxBytes
	if limit <= 0 {
		limit = 5 << 20
	}
	data, err := io.ReadAll(io.LimitReader(io.MultiReader(bytes.NewReader(head), input.Body), limit+1))
	if err != nil {
		return FileResult{}, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > limit {
		return FileResult{}, apperr.ErrFileTooLarge
	}

	fileID := ids.New()
	key := s.objectKey(result.Ext())
	size, err := s.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), result.MIME)
	if err != nil {
		return FileResult{}, err
	}

	file, err := s.store.Files().Create(ctx, models.File{
		ID:        fileID,
		OwnerID:   input.Owner.UserID,
		ObjectKey: key,
		MimeType:  result.MIME,
		SizeBytes: size,
	})
	if err != nil {
		if rmErr := s.objects.Remove(context.WithoutCancel(ctx), key); rmErr != nil {
			s.log.Warn().Err(rmErr).Str("object_key", key).Msg("remove orphaned object failed")
		}
		return FileResult{}, err
	}

	url, err := s.objects.PresignedURL(ctx, key)
	if err != nil {
		return FileResult{}, err
	}
	return FileResult{File: file, URL: url}, nil
}

// Get returns the file and a presigned download link. Files are visible to
// their owner only.
func (s *FileService) Get(ctx context.Context, ident models.Identity, id string) (FileResult, error) {
	file, err := s.store.Files().GetByID(ctx, id)
	if err != nil {
		return FileResult{}, translate(err)
	}
	if file.OwnerID != ident.UserID {
		return FileResult{}, apperr.ErrImageNotFound
	}
	url, err := s.objects.PresignedURL(ctx, file.ObjectKey)
	if err != nil {
		return FileResult{}, err
	}
	return FileResult{File: file, URL: url}, nil
}

func (s *FileService) objectKey(ext string) string {
	datePrefix := s.now().UTC().Format("2006/01/02")
	return path.Join("photos", datePrefix, fmt.Sprintf("%s.%s", ids.Sortable(), ext))
}
