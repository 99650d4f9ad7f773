package models

import "time"

type File struct {
	ID        string
	OwnerID   string
	ObjectKey string
	MimeType  string
	SizeBytes int64
	CreatedAt time.Time
}
