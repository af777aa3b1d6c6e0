package store

import (
	"time"

	"github.com/google/uuid"
)

// BaseModel carries the columns every mirrored row shares.
type BaseModel struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

