package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE libraries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				name TEXT NOT NULL,
				kind TEXT NOT NULL,
				last_scanned_at TIMESTAMPTZ,
				deleted_at TIMESTAMPTZ
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE library_paths (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				library_id INTEGER REFERENCES libraries (id) NOT NULL,
				filepath TEXT NOT NULL
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_library_paths_library_id ON library_paths (library_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE persons (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				library_id INTEGER REFERENCES libraries (id) NOT NULL,
				name TEXT NOT NULL,
				normalized_name TEXT NOT NULL,
				external_id TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_persons_normalized_name_library_id ON persons (normalized_name, library_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE containers (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				library_id INTEGER REFERENCES libraries (id) NOT NULL,
				title TEXT NOT NULL,
				creator TEXT,
				year INTEGER,
				external_id TEXT,
				artwork_url TEXT,
				cover_image_path TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		// Case-insensitive natural key backing upsertContainer.
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_containers_title_creator_library_id ON containers (title COLLATE NOCASE, IFNULL(creator, '') COLLATE NOCASE, library_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_containers_library_id ON containers (library_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE container_persons (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				container_id INTEGER REFERENCES containers (id) NOT NULL,
				person_id INTEGER REFERENCES persons (id) NOT NULL,
				role TEXT NOT NULL,
				sort_order INTEGER NOT NULL DEFAULT 0
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_container_persons_container_id_person_id_role ON container_persons (container_id, person_id, role)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE media_items (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				library_id INTEGER REFERENCES libraries (id) NOT NULL,
				container_id INTEGER REFERENCES containers (id),
				filepath TEXT NOT NULL,
				kind TEXT NOT NULL,
				title TEXT NOT NULL,
				position INTEGER,
				year INTEGER,
				genre TEXT,
				duration_seconds REAL,
				codec TEXT,
				bitrate_bps INTEGER,
				sample_rate_hz INTEGER,
				channels INTEGER,
				filesize_bytes INTEGER NOT NULL,
				file_modified_at TIMESTAMPTZ NOT NULL,
				external_id TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		// Path is the natural key: one row per distinct file path per library.
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_media_items_filepath_library_id ON media_items (filepath, library_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_media_items_container_id ON media_items (container_id)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`
			CREATE TABLE jobs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				type TEXT NOT NULL,
				kind TEXT NOT NULL,
				status TEXT NOT NULL,
				data TEXT NOT NULL,
				progress INTEGER NOT NULL DEFAULT 0,
				process_id TEXT,
				library_id INTEGER REFERENCES libraries (id),
				error TEXT,
				result TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_jobs_kind_status ON jobs (kind, status)`)
		if err != nil {
			return errors.WithStack(err)
		}
		// At most one waiting or running scan per library, enforced at the
		// storage layer so concurrent enqueues cannot double-queue.
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_jobs_queued_scan_library_id ON jobs (library_id) WHERE type = 'scan' AND status IN ('pending', 'in_progress')`)
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		for _, table := range []string{"jobs", "media_items", "container_persons", "containers", "persons", "library_paths", "libraries"} {
			if _, err := db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	Migrations.MustRegister(up, down)
}
