package model

import "github.com/google/uuid"

// NewID generates a UUID v4 identifier used for every persisted entity.
func NewID() string {
	return uuid.New().String()
}
