// Package generation turns an evidence bundle into an answer, either through a
// chat-completions model or extractively.
package generation

import (
	"context"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/evidence"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
)

// Request is everything a generator may use.
type Request struct {
	Question string
	History  []intent.Turn
	Bundle   *evidence.Bundle
}

// Generator produces answer text.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Name() string
}
