package model

import "context"

// Embedder converts cleaned, non-empty text into a fixed-dimension vector.
// Failures are per-call and best-effort for the caller: a chunk whose
// embedding fails is stored with a null vector, siblings are unaffected.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
