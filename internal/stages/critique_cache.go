package stages

import (
	"context"

	"github.com/arcframe/reelforge/internal/models"
)

// critiqueCache is the subset of store.CritiqueCache the Image Stage
// needs, narrowed to an interface so tests can substitute an in-memory
// fake instead of standing up Redis.
type critiqueCache interface {
	Get(ctx context.Context, fingerprint string) (*models.CritiqueVerdict, error)
	Set(ctx context.Context, fingerprint string, verdict models.CritiqueVerdict) error
}
