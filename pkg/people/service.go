package people

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"

	"github.com/medleyhq/medley/pkg/errcodes"
	"github.com/medleyhq/medley/pkg/models"
	"github.com/medleyhq/medley/pkg/namenorm"
)

type RetrievePersonOptions struct {
	ID *int
}

type ListPeopleOptions struct {
	Limit     *int
	Offset    *int
	LibraryID *int
	Search    *string

	includeTotal bool
}

// Service is the read surface over persons. Writes happen through the media
// repository during scans; persons are never created by hand.
type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) RetrievePerson(ctx context.Context, opts RetrievePersonOptions) (*models.Person, error) {
	person := &models.Person{}

	q := svc.db.
		NewSelect().
		Model(person)

	if opts.ID != nil {
		q = q.Where("p.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Person")
		}
		return nil, errors.WithStack(err)
	}

	return person, nil
}

func (svc *Service) ListPeople(ctx context.Context, opts ListPeopleOptions) ([]*models.Person, error) {
	people, _, err := svc.listPeopleWithTotal(ctx, opts)
	return people, err
}

func (svc *Service) ListPeopleWithTotal(ctx context.Context, opts ListPeopleOptions) ([]*models.Person, int, error) {
	opts.includeTotal = true
	return svc.listPeopleWithTotal(ctx, opts)
}

func (svc *Service) listPeopleWithTotal(ctx context.Context, opts ListPeopleOptions) ([]*models.Person, int, error) {
	people := []*models.Person{}

	q := svc.db.
		NewSelect().
		Model(&people).
		Order("p.name ASC")

	if opts.LibraryID != nil {
		q = q.Where("p.library_id = ?", *opts.LibraryID)
	}
	if opts.Search != nil && *opts.Search != "" {
		// Searching through the normalized name makes lookups spelling- and
		// case-insensitive, same as scan-time dedup.
		q = q.Where("p.normalized_name LIKE ?", "%"+namenorm.Normalize(*opts.Search)+"%")
	}
	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}

	total := 0
	var err error
	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return people, total, nil
}
