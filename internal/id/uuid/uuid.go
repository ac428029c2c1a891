// Package uuid implements scraper.IDGenerator with UUIDv7 strings, which
// sort by creation time.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 strings.
type Generator struct{}

func New() *Generator {
	return &Generator{}
}

func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
