// Package reason calls the external reasoning backend for follow-up turns.
// The wire format is treated as a black box behind Backend.
package reason

import (
	"context"
	"errors"

	"github.com/joss/vox/internal/domain"
)

// Error classification surfaced to the response UI.
var (
	ErrNoCredentials   = errors.New("no reasoning API credentials configured")
	ErrRateLimited     = errors.New("reasoning backend rate limited")
	ErrInvalidResponse = errors.New("reasoning backend returned an invalid response")
)

// Request is one reasoning call: the new prompt, an optional screenshot and
// the prior conversation.
type Request struct {
	Prompt         string
	ScreenshotPath string
	History        []domain.Turn
}

// ChunkFunc receives incremental response text. May be nil for one-shot use.
type ChunkFunc func(chunk string)

// Backend is the reasoning collaborator contract.
type Backend interface {
	Send(ctx context.Context, req Request, onChunk ChunkFunc) (string, error)
}
