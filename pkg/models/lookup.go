package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Artist struct {
	bun.BaseModel `bun:"table:artists,alias:a"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `bun:",nullzero" json:"name"`
}

type Group struct {
	bun.BaseModel `bun:"table:groups,alias:g"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `bun:",nullzero" json:"name"`
}

type Character struct {
	bun.BaseModel `bun:"table:characters,alias:c"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `bun:",nullzero" json:"name"`
}

type Tag struct {
	bun.BaseModel `bun:"table:tags,alias:t"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `bun:",nullzero" json:"name"`
}

type Series struct {
	bun.BaseModel `bun:"table:series,alias:s"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `bun:",nullzero" json:"name"`
}

type BookArtist struct {
	bun.BaseModel `bun:"table:book_artists,alias:ba"`

	ID       int     `bun:",pk,nullzero" json:"id"`
	BookID   int     `bun:",nullzero" json:"book_id"`
	Book     *Book   `bun:"rel:belongs-to,join:book_id=id" json:"-"`
	ArtistID int     `bun:",nullzero" json:"artist_id"`
	Artist   *Artist `bun:"rel:belongs-to,join:artist_id=id" json:"artist,omitempty"`
}

type BookGroup struct {
	bun.BaseModel `bun:"table:book_groups,alias:bg"`

	ID      int    `bun:",pk,nullzero" json:"id"`
	BookID  int    `bun:",nullzero" json:"book_id"`
	Book    *Book  `bun:"rel:belongs-to,join:book_id=id" json:"-"`
	GroupID int    `bun:",nullzero" json:"group_id"`
	Group   *Group `bun:"rel:belongs-to,join:group_id=id" json:"group,omitempty"`
}

type BookCharacter struct {
	bun.BaseModel `bun:"table:book_characters,alias:bc"`

	ID          int        `bun:",pk,nullzero" json:"id"`
	BookID      int        `bun:",nullzero" json:"book_id"`
	Book        *Book      `bun:"rel:belongs-to,join:book_id=id" json:"-"`
	CharacterID int        `bun:",nullzero" json:"character_id"`
	Character   *Character `bun:"rel:belongs-to,join:character_id=id" json:"character,omitempty"`
}

type BookTag struct {
	bun.BaseModel `bun:"table:book_tags,alias:bt"`

	ID     int   `bun:",pk,nullzero" json:"id"`
	BookID int   `bun:",nullzero" json:"book_id"`
	Book   *Book `bun:"rel:belongs-to,join:book_id=id" json:"-"`
	TagID  int   `bun:",nullzero" json:"tag_id"`
	Tag    *Tag  `bun:"rel:belongs-to,join:tag_id=id" json:"tag,omitempty"`
}

// Register tells bun about the join models behind the many-to-many relations
// on Book. It must run before any query touches those relations.
func Register(db *bun.DB) {
	db.RegisterModel(
		(*BookArtist)(nil),
		(*BookGroup)(nil),
		(*BookCharacter)(nil),
		(*BookTag)(nil),
	)
}
