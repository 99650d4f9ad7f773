package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"authgate/internal/database"
	"authgate/internal/models"
)

type FileRepository struct {
	db database.DBTX
}

func NewFileRepository(db database.DBTX) *FileRepository {
	return &FileRepository{db: db}
}

func (r *FileRepository) Create(ctx context.Context, file models.File) (models.File, error) {
	const query = `
		INSERT INTO files (id, owner_id, object_key, mime_type, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, owner_id, object_key, mime_type, size_bytes, created_at
	`
	created, err := scanFile(r.db.QueryRow(ctx, query,
		file.ID,
		file.OwnerID,
		file.ObjectKey,
		file.MimeType,
		file.SizeBytes,
	))
	if err != nil {
		return models.File{}, fmt.Errorf("create file: %w", err)
	}
	return created, nil
}

func (r *FileRepository) GetByID(ctx context.Context, id string) (models.File, error) {
	if !validID(id) {
		return models.File{}, ErrFileNotFound
	}
	const query = `
		SELECT id, owner_id, object_key, mime_type, size_bytes, created_at
		FROM files WHERE id = $1
	`
	file, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.File{}, ErrFileNotFound
		}
		return models.File{}, fmt.Errorf("get file: %w", err)
	}
	return file, nil
}

func scanFile(row rowScanner) (models.File, error) {
	var file models.File
	err := row.Scan(
		&file.ID,
		&file.OwnerID,
		&file.ObjectKey,
		&file.MimeType,
		&file.SizeBytes,
		&file.CreatedAt,
	)
	return file, err
}
