package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE download_jobs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				catalog_id TEXT NOT NULL,
				title TEXT NOT NULL,
				artist TEXT,
				thumbnail_url TEXT,
				destination_path TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				progress INTEGER NOT NULL DEFAULT 0,
				total_pages INTEGER NOT NULL DEFAULT 0,
				completed_pages INTEGER NOT NULL DEFAULT 0,
				speed REAL NOT NULL DEFAULT 0,
				error TEXT,
				priority INTEGER NOT NULL DEFAULT 0,
				added_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				started_at TIMESTAMPTZ,
				completed_at TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_download_jobs_status_priority ON download_jobs (status, priority DESC, added_at)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_download_jobs_catalog_id ON download_jobs (catalog_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		return nil
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("DROP TABLE IF EXISTS download_jobs")
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
