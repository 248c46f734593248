// Package catalog queries the per-category reference library: the pgvector
// table of embedded reference photos, one row per image.
package catalog

import (
	"context"
	"errors"

	"github.com/fpang/item-identify/internal/match"
)

// ErrIndexQuery marks a failed similarity or count query. Scans absorb it
// and treat the category as having no hits.
var ErrIndexQuery = errors.New("index query failed")

// Index is the read side of the reference library.
type Index interface {
	// Search returns up to k hits ordered by similarity, highest first.
	// Bootstrap rows are never returned.
	Search(ctx context.Context, category string, vector []float32, k int) ([]match.ImageHit, error)
	// CategoryImageCount counts embedded, non-bootstrap images.
	CategoryImageCount(ctx context.Context, category string) (int, error)
	// Categories lists every category with at least one searchable image.
	Categories(ctx context.Context) ([]string, error)
}
