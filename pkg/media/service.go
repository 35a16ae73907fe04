// Package media is the repository layer for items, containers, and persons.
// Writes are expressed as atomic insert-or-update operations keyed by each
// model's natural key, so callers never branch on "does it exist".
package media

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"

	"github.com/medleyhq/medley/pkg/errcodes"
	"github.com/medleyhq/medley/pkg/models"
	"github.com/medleyhq/medley/pkg/namenorm"
)

type RetrieveItemOptions struct {
	ID        *int
	LibraryID *int
	Filepath  *string
}

type ListItemsOptions struct {
	LibraryID   *int
	ContainerID *int
}

type ListContainersOptions struct {
	LibraryID *int
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) RetrieveItem(ctx context.Context, opts RetrieveItemOptions) (*models.MediaItem, error) {
	item := &models.MediaItem{}

	q := svc.db.
		NewSelect().
		Model(item).
		Column("mi.*")

	if opts.ID != nil {
		q = q.Where("mi.id = ?", *opts.ID)
	}
	if opts.LibraryID != nil {
		q = q.Where("mi.library_id = ?", *opts.LibraryID)
	}
	if opts.Filepath != nil {
		q = q.Where("mi.filepath = ?", *opts.Filepath)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Media Item")
		}
		return nil, errors.WithStack(err)
	}

	return item, nil
}

func (svc *Service) ListItems(ctx context.Context, opts ListItemsOptions) ([]*models.MediaItem, error) {
	items := []*models.MediaItem{}

	q := svc.db.
		NewSelect().
		Model(&items).
		Column("mi.*").
		Order("mi.position ASC", "mi.filepath ASC")

	if opts.LibraryID != nil {
		q = q.Where("mi.library_id = ?", *opts.LibraryID)
	}
	if opts.ContainerID != nil {
		q = q.Where("mi.container_id = ?", *opts.ContainerID)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return items, nil
}

// ListItemPaths returns every persisted file path for the library, for the
// incremental-scan diff against what the walker observed on disk.
func (svc *Service) ListItemPaths(ctx context.Context, libraryID int) ([]string, error) {
	paths := []string{}

	err := svc.db.
		NewSelect().
		Model((*models.MediaItem)(nil)).
		Column("mi.filepath").
		Where("mi.library_id = ?", libraryID).
		Order("mi.filepath ASC").
		Scan(ctx, &paths)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return paths, nil
}

// UpsertItem inserts the item or, when a row for (library, filepath) already
// exists, refreshes its metadata in place. The item's ID is populated either
// way.
func (svc *Service) UpsertItem(ctx context.Context, item *models.MediaItem) error {
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := svc.db.
		NewInsert().
		Model(item).
		On("CONFLICT (filepath, library_id) DO UPDATE").
		Set("updated_at = EXCLUDED.updated_at").
		Set("container_id = EXCLUDED.container_id").
		Set("kind = EXCLUDED.kind").
		Set("title = EXCLUDED.title").
		Set("position = EXCLUDED.position").
		Set("year = EXCLUDED.year").
		Set("genre = EXCLUDED.genre").
		Set("duration_seconds = EXCLUDED.duration_seconds").
		Set("codec = EXCLUDED.codec").
		Set("bitrate_bps = EXCLUDED.bitrate_bps").
		Set("sample_rate_hz = EXCLUDED.sample_rate_hz").
		Set("channels = EXCLUDED.channels").
		Set("filesize_bytes = EXCLUDED.filesize_bytes").
		Set("file_modified_at = EXCLUDED.file_modified_at").
		Set("external_id = EXCLUDED.external_id").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// deleteChunkSize keeps each IN list well under SQLite's bound-parameter
// limit.
const deleteChunkSize = 500

// DeleteMissingItems removes every item under the library whose path is not
// in observed and returns how many rows went away. An empty observed set
// removes everything, which is what a scan of a now-empty directory should
// do. The diff happens in Go and the deletes run in chunks, so a library of
// any size stays inside SQLite's bound-parameter limit.
func (svc *Service) DeleteMissingItems(ctx context.Context, libraryID int, observed []string) (int, error) {
	persisted, err := svc.ListItemPaths(ctx, libraryID)
	if err != nil {
		return 0, err
	}

	observedSet := make(map[string]struct{}, len(observed))
	for _, path := range observed {
		observedSet[path] = struct{}{}
	}

	missing := []string{}
	for _, path := range persisted {
		if _, ok := observedSet[path]; !ok {
			missing = append(missing, path)
		}
	}

	removed := 0
	for start := 0; start < len(missing); start += deleteChunkSize {
		end := min(start+deleteChunkSize, len(missing))

		res, err := svc.db.
			NewDelete().
			Model((*models.MediaItem)(nil)).
			Where("library_id = ?", libraryID).
			Where("filepath IN (?)", bun.In(missing[start:end])).
			Exec(ctx)
		if err != nil {
			return removed, errors.WithStack(err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return removed, errors.WithStack(err)
		}
		removed += int(n)
	}

	return removed, nil
}

// UpsertContainer inserts the container or refreshes the existing row keyed
// by (library, title, creator). The title and creator comparison is
// case-insensitive, matching the unique index.
func (svc *Service) UpsertContainer(ctx context.Context, container *models.Container) error {
	now := time.Now()
	if container.CreatedAt.IsZero() {
		container.CreatedAt = now
	}
	container.UpdatedAt = now

	_, err := svc.db.
		NewInsert().
		Model(container).
		On("CONFLICT (title COLLATE NOCASE, IFNULL(creator, '') COLLATE NOCASE, library_id) DO UPDATE").
		Set("updated_at = EXCLUDED.updated_at").
		Set("year = COALESCE(EXCLUDED.year, year)").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// SetContainerCoverPath records where the container's cover image was
// persisted on disk.
func (svc *Service) SetContainerCoverPath(ctx context.Context, containerID int, coverPath string) error {
	_, err := svc.db.
		NewUpdate().
		Model((*models.Container)(nil)).
		Set("cover_image_path = ?", coverPath).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", containerID).
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveContainer(ctx context.Context, id int) (*models.Container, error) {
	container := &models.Container{}

	err := svc.db.
		NewSelect().
		Model(container).
		Column("c.*").
		Relation("Persons", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Order("sort_order ASC")
		}).
		Where("c.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Container")
		}
		return nil, errors.WithStack(err)
	}

	return container, nil
}

func (svc *Service) ListContainers(ctx context.Context, opts ListContainersOptions) ([]*models.Container, error) {
	containers := []*models.Container{}

	q := svc.db.
		NewSelect().
		Model(&containers).
		Column("c.*").
		Relation("Persons", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Order("sort_order ASC")
		}).
		Order("c.title ASC")

	if opts.LibraryID != nil {
		q = q.Where("c.library_id = ?", *opts.LibraryID)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, errors.WithStack(err)
	}

	return containers, nil
}

// ListUnmatchedContainers returns containers in the library that have no
// external identifier yet, the matching phase's work queue.
func (svc *Service) ListUnmatchedContainers(ctx context.Context, libraryID int) ([]*models.Container, error) {
	containers := []*models.Container{}

	err := svc.db.
		NewSelect().
		Model(&containers).
		Column("c.*").
		Where("c.library_id = ?", libraryID).
		Where("c.external_id IS NULL").
		Order("c.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return containers, nil
}

// UpsertPerson inserts the person or returns the existing row keyed by the
// normalized name within the library. The first-seen display spelling of the
// name wins; later variants only bump updated_at.
func (svc *Service) UpsertPerson(ctx context.Context, person *models.Person) error {
	now := time.Now()
	if person.CreatedAt.IsZero() {
		person.CreatedAt = now
	}
	person.UpdatedAt = now
	person.NormalizedName = namenorm.Normalize(person.Name)

	_, err := svc.db.
		NewInsert().
		Model(person).
		On("CONFLICT (normalized_name, library_id) DO UPDATE").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// LinkContainerPerson attaches a person to a container in a role; linking the
// same pair twice is a no-op.
func (svc *Service) LinkContainerPerson(ctx context.Context, containerID, personID int, role string, sortOrder int) error {
	link := &models.ContainerPerson{
		ContainerID: containerID,
		PersonID:    personID,
		Role:        role,
		SortOrder:   sortOrder,
	}

	_, err := svc.db.
		NewInsert().
		Model(link).
		On("CONFLICT (container_id, person_id, role) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// LinkContainerExternalID records a successful catalog match.
func (svc *Service) LinkContainerExternalID(ctx context.Context, containerID int, externalID string, artworkURL *string) error {
	_, err := svc.db.
		NewUpdate().
		Model((*models.Container)(nil)).
		Set("updated_at = ?", time.Now()).
		Set("external_id = ?", externalID).
		Set("artwork_url = ?", artworkURL).
		Where("id = ?", containerID).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}
