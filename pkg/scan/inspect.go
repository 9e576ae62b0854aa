package scan

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/tankobon/tankobon/pkg/sidecar"
)

// Inspection is how a scan would see a single path, without touching the
// catalog.
type Inspection struct {
	Path      string            `json:"path"`
	Unit      bool              `json:"unit"`
	Archive   bool              `json:"archive"`
	PageCount int               `json:"page_count"`
	Cover     string            `json:"cover,omitempty"`
	Title     string            `json:"title,omitempty"`
	Source    sidecar.Source    `json:"source,omitempty"`
	Metadata  *sidecar.Metadata `json:"metadata,omitempty"`
}

// Inspect classifies path and resolves its metadata.
func (s *Scanner) Inspect(ctx context.Context, path string) (*Inspection, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	in := &Inspection{Path: abs}
	u := s.classifyPath(ctx, abs)
	if u == nil {
		return in, nil
	}

	in.Unit = true
	in.Archive = u.archive
	in.PageCount = u.pageCount
	in.Cover = u.cover
	in.Title = desiredState(u).title
	in.Source = u.source
	in.Metadata = u.metadata
	return in, nil
}
