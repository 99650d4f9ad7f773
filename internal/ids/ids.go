package ids

import (
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// New returns a random UUID for primary keys.
func New() string {
	return uuid.NewString()
}

// Sortable returns a K-sortable id; object keys built from it list in upload order.
func Sortable() string {
	return ksuid.New().String()
}
