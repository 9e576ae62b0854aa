package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE jobs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				type TEXT NOT NULL,
				status TEXT NOT NULL,
				data TEXT NOT NULL,
				progress INTEGER NOT NULL,
				error TEXT,
				process_id TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE series (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				name TEXT NOT NULL UNIQUE
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE books (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				filepath TEXT NOT NULL UNIQUE,
				title TEXT NOT NULL,
				page_count INTEGER NOT NULL DEFAULT 0,
				cover_image_path TEXT,
				catalog_id TEXT,
				type TEXT,
				language TEXT,
				added_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				last_read_at TIMESTAMPTZ,
				favorite BOOLEAN NOT NULL DEFAULT FALSE,
				series_id INTEGER REFERENCES series (id)
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_books_series_id ON books (series_id)`)
		if err != nil {
			return errors.WithStack(err)
		}

		for _, rel := range []struct{ table, link, column string }{
			{"artists", "book_artists", "artist_id"},
			{"groups", "book_groups", "group_id"},
			{"characters", "book_characters", "character_id"},
			{"tags", "book_tags", "tag_id"},
		} {
			_, err = db.Exec(`
				CREATE TABLE ? (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
					name TEXT NOT NULL UNIQUE
				)
`, bun.Ident(rel.table))
			if err != nil {
				return errors.WithStack(err)
			}
			_, err = db.Exec(`
				CREATE TABLE ? (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					book_id INTEGER REFERENCES books (id) NOT NULL,
					? INTEGER REFERENCES ? (id) NOT NULL,
					UNIQUE (book_id, ?)
				)
`, bun.Ident(rel.link), bun.Ident(rel.column), bun.Ident(rel.table), bun.Ident(rel.column))
			if err != nil {
				return errors.WithStack(err)
			}
			_, err = db.Exec(`CREATE INDEX ? ON ? (?)`,
				bun.Ident("ix_"+rel.link+"_"+rel.column), bun.Ident(rel.link), bun.Ident(rel.column))
			if err != nil {
				return errors.WithStack(err)
			}
		}

		_, err = db.Exec(`
			CREATE TABLE read_history (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				book_id INTEGER REFERENCES books (id) NOT NULL,
				page INTEGER NOT NULL DEFAULT 0,
				read_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_read_history_book_id ON read_history (book_id)`)
		if err != nil {
			return errors.WithStack(err)
		}

		return nil
	}

	down := func(_ context.Context, db *bun.DB) error {
		for _, table := range []string{
			"read_history",
			"book_tags", "book_characters", "book_groups", "book_artists",
			"tags", "characters", "groups", "artists",
			"books", "series", "jobs",
		} {
			if _, err := db.Exec("DROP TABLE IF EXISTS ?", bun.Ident(table)); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	Migrations.MustRegister(up, down)
}
