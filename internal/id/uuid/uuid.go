// Package uuid generates request and event identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 strings.
type Generator struct {
	newV7 func() (uuid.UUID, error)
}

// New creates a Generator.
func New() *Generator {
	return &Generator{newV7: uuid.NewV7}
}

// NewID returns a UUID v7 string.
func (g *Generator) NewID() (string, error) {
	id, err := g.newV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// RequestID returns a UUID v7 string, falling back to a random v4 when the
// v7 source fails. It never returns an empty string.
func (g *Generator) RequestID() string {
	if id, err := g.NewID(); err == nil {
		return id
	}
	return uuid.NewString()
}
