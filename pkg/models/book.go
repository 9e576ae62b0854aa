package models

import (
	"os"
	"time"

	"github.com/uptrace/bun"
)

type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID             int          `bun:",pk,nullzero" json:"id"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	Filepath       string       `bun:",nullzero" json:"filepath"`
	Title          string       `bun:",nullzero" json:"title"`
	PageCount      int          `json:"page_count"`
	CoverImagePath *string      `json:"cover_image_path"`
	CatalogID      *string      `json:"catalog_id,omitempty"`
	Type           *string      `json:"type,omitempty"`
	Language       *string      `json:"language,omitempty"`
	AddedAt        time.Time    `json:"added_at"`
	LastReadAt     *time.Time   `json:"last_read_at,omitempty"`
	Favorite       bool         `json:"favorite"`
	SeriesID       *int         `json:"series_id,omitempty"`
	Series         *Series      `bun:"rel:belongs-to,join:series_id=id" json:"series,omitempty"`
	Artists        []*Artist    `bun:"m2m:book_artists,join:Book=Artist" json:"artists,omitempty"`
	Groups         []*Group     `bun:"m2m:book_groups,join:Book=Group" json:"groups,omitempty"`
	Characters     []*Character `bun:"m2m:book_characters,join:Book=Character" json:"characters,omitempty"`
	Tags           []*Tag       `bun:"m2m:book_tags,join:Book=Tag" json:"tags,omitempty"`
}

// NeedsThumbnail reports whether the book has no usable cover. A cover path
// that no longer points at a readable file counts as missing.
func (b *Book) NeedsThumbnail() bool {
	if b.CoverImagePath == nil || *b.CoverImagePath == "" {
		return true
	}
	_, err := os.Stat(*b.CoverImagePath)
	return err != nil
}

type ReadHistory struct {
	bun.BaseModel `bun:"table:read_history,alias:rh"`

	ID     int       `bun:",pk,nullzero" json:"id"`
	BookID int       `bun:",nullzero" json:"book_id"`
	Page   int       `json:"page"`
	ReadAt time.Time `json:"read_at"`
}
