package jobs

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"

	"github.com/medleyhq/medley/pkg/errcodes"
	"github.com/medleyhq/medley/pkg/models"
)

type RetrieveJobOptions struct {
	ID *int
}

type ListJobsOptions struct {
	Limit              *int
	Offset             *int
	Statuses           []string
	Kind               *string
	LibraryID          *int
	ProcessIDToExclude *string

	includeTotal bool
}

type UpdateJobOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateJob(ctx context.Context, job *models.Job) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt

	if job.Data == "" && job.DataParsed != nil {
		// Marshal the data into a JSON string to save into the database.
		data, err := json.Marshal(job.DataParsed)
		if err != nil {
			return errors.WithStack(err)
		}
		job.Data = string(data)
	}

	_, err := svc.db.
		NewInsert().
		Model(job).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// EnqueueByLibraryID looks the library up and enqueues a scan for it.
func (svc *Service) EnqueueByLibraryID(ctx context.Context, libraryID int, force bool) (*models.Job, bool, error) {
	library := &models.Library{}
	err := svc.db.
		NewSelect().
		Model(library).
		Where("l.id = ?", libraryID).
		Where("l.deleted_at IS NULL").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, errcodes.NotFound("Library")
		}
		return nil, false, errors.WithStack(err)
	}

	return svc.Enqueue(ctx, library, force)
}

// queuedScanQuery selects the waiting or running scan job for a library, if
// one exists.
func queuedScanQuery(idb bun.IDB, job *models.Job, libraryID int) *bun.SelectQuery {
	return idb.
		NewSelect().
		Model(job).
		Where("j.type = ?", models.JobTypeScan).
		Where("j.library_id = ?", libraryID).
		WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.
				Where("j.status = ?", models.JobStatusPending).
				WhereOr("j.status = ?", models.JobStatusInProgress)
		}).
		Order("j.created_at ASC").
		Limit(1)
}

// Enqueue requests a scan of the library. If a scan job for the same library
// is already waiting or running, that job is returned instead of creating a
// second one; the bool reports whether a new job was created. The
// find-or-create runs in a transaction and the insert lands on the partial
// unique index over queued scan jobs, so concurrent enqueues for the same
// library converge on a single job.
func (svc *Service) Enqueue(ctx context.Context, library *models.Library, force bool) (*models.Job, bool, error) {
	job := &models.Job{}
	created := false

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		err := queuedScanQuery(tx, job, library.ID).Scan(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return errors.WithStack(err)
		}

		now := time.Now()
		fresh := &models.Job{
			CreatedAt:  now,
			UpdatedAt:  now,
			Type:       models.JobTypeScan,
			Kind:       library.Kind,
			Status:     models.JobStatusPending,
			LibraryID:  &library.ID,
			DataParsed: &models.JobScanData{Force: force},
		}
		data, err := json.Marshal(fresh.DataParsed)
		if err != nil {
			return errors.WithStack(err)
		}
		fresh.Data = string(data)

		res, err := tx.
			NewInsert().
			Model(fresh).
			On("CONFLICT (library_id) WHERE type = 'scan' AND status IN ('pending', 'in_progress') DO NOTHING").
			Returning("*").
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return errors.WithStack(err)
		}
		if affected == 0 {
			// Lost the race against another enqueuer; hand back their job.
			return errors.WithStack(queuedScanQuery(tx, job, library.ID).Scan(ctx))
		}

		*job = *fresh
		created = true
		return nil
	})
	if err != nil {
		return nil, false, errors.WithStack(err)
	}

	if err := job.UnmarshalData(); err != nil {
		return nil, false, errors.WithStack(err)
	}

	return job, created, nil
}

// ClaimNextPendingJob atomically takes the oldest pending job of the kind and
// marks it in progress under the worker's process ID. A nil job means the
// queue for that kind is empty.
func (svc *Service) ClaimNextPendingJob(ctx context.Context, kind, processID string) (*models.Job, error) {
	job := &models.Job{}

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		err := tx.
			NewSelect().
			Model(job).
			Where("j.type = ?", models.JobTypeScan).
			Where("j.kind = ?", kind).
			Where("j.status = ?", models.JobStatusPending).
			Order("j.created_at ASC").
			Limit(1).
			Scan(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		job.Status = models.JobStatusInProgress
		job.ProcessID = &processID
		job.UpdatedAt = time.Now()

		_, err = tx.
			NewUpdate().
			Model(job).
			Column("status", "process_id", "updated_at").
			WherePK().
			Exec(ctx)
		return errors.WithStack(err)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}

	if err := job.UnmarshalData(); err != nil {
		return nil, errors.WithStack(err)
	}

	return job, nil
}

// CompleteJob records a successful terminal state along with the scan
// summary.
func (svc *Service) CompleteJob(ctx context.Context, job *models.Job, summary *models.ScanSummary) error {
	result, err := json.Marshal(summary)
	if err != nil {
		return errors.WithStack(err)
	}

	job.Status = models.JobStatusCompleted
	job.Progress = 100
	resultStr := string(result)
	job.Result = &resultStr
	job.Summary = summary

	return svc.UpdateJob(ctx, job, UpdateJobOptions{Columns: []string{"status", "progress", "result"}})
}

// FailJob records a failed terminal state with a human-readable reason. A
// partial summary may be supplied so the work done before the failure is
// still visible on the job.
func (svc *Service) FailJob(ctx context.Context, job *models.Job, reason string, summary *models.ScanSummary) error {
	job.Status = models.JobStatusFailed
	job.Error = &reason

	columns := []string{"status", "error"}
	if summary != nil {
		result, err := json.Marshal(summary)
		if err != nil {
			return errors.WithStack(err)
		}
		resultStr := string(result)
		job.Result = &resultStr
		job.Summary = summary
		columns = append(columns, "result")
	}

	return svc.UpdateJob(ctx, job, UpdateJobOptions{Columns: columns})
}

func (svc *Service) RetrieveJob(ctx context.Context, opts RetrieveJobOptions) (*models.Job, error) {
	job := &models.Job{}

	q := svc.db.
		NewSelect().
		Model(job)

	if opts.ID != nil {
		q = q.Where("j.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Job")
		}
		return nil, errors.WithStack(err)
	}

	if err := job.UnmarshalData(); err != nil {
		return nil, errors.WithStack(err)
	}

	return job, nil
}

func (svc *Service) ListJobs(ctx context.Context, opts ListJobsOptions) ([]*models.Job, error) {
	j, _, err := svc.listJobsWithTotal(ctx, opts)
	return j, errors.WithStack(err)
}

func (svc *Service) ListJobsWithTotal(ctx context.Context, opts ListJobsOptions) ([]*models.Job, int, error) {
	opts.includeTotal = true
	return svc.listJobsWithTotal(ctx, opts)
}

func (svc *Service) listJobsWithTotal(ctx context.Context, opts ListJobsOptions) ([]*models.Job, int, error) {
	jobs := []*models.Job{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&jobs).
		Order("j.created_at ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.Kind != nil {
		q = q.Where("j.kind = ?", *opts.Kind)
	}
	if opts.LibraryID != nil {
		q = q.Where("j.library_id = ?", *opts.LibraryID)
	}
	if opts.Statuses != nil {
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			for _, s := range opts.Statuses {
				sq = sq.WhereOr("j.status = ?", s)
			}
			return sq
		})
	}
	if opts.ProcessIDToExclude != nil {
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.
				Where("j.process_id IS NULL").
				WhereOr("j.process_id != ?", *opts.ProcessIDToExclude)
		})
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	for _, job := range jobs {
		err := job.UnmarshalData()
		if err != nil {
			return nil, 0, errors.WithStack(err)
		}
	}

	return jobs, total, nil
}

func (svc *Service) UpdateJob(ctx context.Context, job *models.Job, opts UpdateJobOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	// Update updated_at.
	now := time.Now()
	job.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(job).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Job")
		}
		return errors.WithStack(err)
	}

	return nil
}
