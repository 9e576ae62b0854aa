package books

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// Relation describes a lookup table of named rows and, for many-to-many
// relations, the link table joining it to books.
type Relation struct {
	Table     string
	LinkTable string
	Column    string
}

var (
	RelationArtists    = Relation{Table: "artists", LinkTable: "book_artists", Column: "artist_id"}
	RelationGroups     = Relation{Table: "groups", LinkTable: "book_groups", Column: "group_id"}
	RelationCharacters = Relation{Table: "characters", LinkTable: "book_characters", Column: "character_id"}
	RelationTags       = Relation{Table: "tags", LinkTable: "book_tags", Column: "tag_id"}
	RelationSeries     = Relation{Table: "series"}
)

// LinkRelations are the many-to-many relations, in the order links are
// written and deleted.
var LinkRelations = []Relation{RelationArtists, RelationGroups, RelationCharacters, RelationTags}

// Links holds the names a book is linked to, per relation.
type Links struct {
	Artists    []string
	Groups     []string
	Characters []string
	Tags       []string
}

func (l Links) names(rel Relation) []string {
	switch rel {
	case RelationArtists:
		return l.Artists
	case RelationGroups:
		return l.Groups
	case RelationCharacters:
		return l.Characters
	case RelationTags:
		return l.Tags
	}
	return nil
}

func (l *Links) set(rel Relation, names []string) {
	switch rel {
	case RelationArtists:
		l.Artists = names
	case RelationGroups:
		l.Groups = names
	case RelationCharacters:
		l.Characters = names
	case RelationTags:
		l.Tags = names
	}
}

// FindOrCreate returns the id of the row in rel's table named exactly name,
// inserting it first if it doesn't exist.
func (svc *Service) FindOrCreate(ctx context.Context, rel Relation, name string) (int, error) {
	_, err := svc.db.
		NewRaw("INSERT INTO ? (name, created_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING",
			bun.Ident(rel.Table), name, time.Now()).
		Exec(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	var id int
	err = svc.db.
		NewRaw("SELECT id FROM ? WHERE name = ?", bun.Ident(rel.Table), name).
		Scan(ctx, &id)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return id, nil
}

// RetrieveLinks returns the names currently linked to the book, sorted.
func (svc *Service) RetrieveLinks(ctx context.Context, bookID int) (Links, error) {
	links := Links{}
	for _, rel := range LinkRelations {
		names := []string{}
		err := svc.db.
			NewRaw("SELECT t.name FROM ? AS bl JOIN ? AS t ON t.id = bl.? WHERE bl.book_id = ? ORDER BY t.name",
				bun.Ident(rel.LinkTable), bun.Ident(rel.Table), bun.Ident(rel.Column), bookID).
			Scan(ctx, &names)
		if err != nil {
			return links, errors.WithStack(err)
		}
		links.set(rel, names)
	}
	return links, nil
}

// ReplaceLinks makes the book's links exactly match links. Relations whose
// names already match are left untouched. It reports whether anything changed.
func (svc *Service) ReplaceLinks(ctx context.Context, bookID int, links Links) (bool, error) {
	current, err := svc.RetrieveLinks(ctx, bookID)
	if err != nil {
		return false, err
	}

	changed := false
	for _, rel := range LinkRelations {
		desired := sortedUnique(links.names(rel))
		if equalNames(desired, current.names(rel)) {
			continue
		}
		changed = true

		_, err := svc.db.
			NewDelete().
			TableExpr("?", bun.Ident(rel.LinkTable)).
			Where("book_id = ?", bookID).
			Exec(ctx)
		if err != nil {
			return changed, errors.WithStack(err)
		}

		for _, name := range desired {
			id, err := svc.FindOrCreate(ctx, rel, name)
			if err != nil {
				return changed, err
			}
			_, err = svc.db.
				NewRaw("INSERT INTO ? (book_id, ?) VALUES (?, ?)",
					bun.Ident(rel.LinkTable), bun.Ident(rel.Column), bookID, id).
				Exec(ctx)
			if err != nil {
				return changed, errors.WithStack(err)
			}
		}
	}

	return changed, nil
}

// ResolveSeriesID returns the id of the first named series, creating it if
// needed, or nil when names is empty. Only one series is ever linked.
func (svc *Service) ResolveSeriesID(ctx context.Context, names []string) (*int, error) {
	for _, name := range names {
		if name == "" {
			continue
		}
		id, err := svc.FindOrCreate(ctx, RelationSeries, name)
		if err != nil {
			return nil, err
		}
		return &id, nil
	}
	return nil, nil
}

func sortedUnique(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
