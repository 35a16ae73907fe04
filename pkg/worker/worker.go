package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/medleyhq/medley/pkg/catalog"
	"github.com/medleyhq/medley/pkg/config"
	"github.com/medleyhq/medley/pkg/jobs"
	"github.com/medleyhq/medley/pkg/libraries"
	"github.com/medleyhq/medley/pkg/media"
	"github.com/medleyhq/medley/pkg/mediafile"
	"github.com/medleyhq/medley/pkg/models"
	"github.com/medleyhq/medley/pkg/progress"
	"github.com/medleyhq/medley/pkg/ratelimit"
	"github.com/medleyhq/medley/pkg/respcache"
	"github.com/medleyhq/medley/pkg/scan"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

var processID = randStringBytes(8)

const defaultPollInterval = 5 * time.Second

// Worker runs one goroutine per library kind, each draining that kind's scan
// queue in FIFO order. Jobs of different kinds run concurrently; jobs of the
// same kind never do.
type Worker struct {
	config *config.Config
	log    logger.Logger

	jobService     *jobs.Service
	libraryService *libraries.Service
	orchestrator   *scan.Orchestrator

	shutdown chan struct{}
	done     chan struct{}
}

func New(cfg *config.Config, db *bun.DB, bus *progress.Bus) *Worker {
	mediaService := media.NewService(db)
	libraryService := libraries.NewService(db)
	jobService := jobs.NewService(db)

	extractor := mediafile.NewExtractor(mediafile.NewProber(cfg.FFprobePath))

	// The catalog and artwork clients share one rate limiter and one response
	// cache so the two request streams stay inside the upstream's budget.
	var matcher *catalog.Matcher
	var artwork *catalog.ArtworkClient
	if cfg.CatalogBaseURL != "" {
		limiter := ratelimit.NewInterval(cfg.CatalogMinInterval)
		cache := respcache.New(cfg.CacheTTL)

		client := catalog.NewClient(catalog.ClientOptions{
			BaseURL:   cfg.CatalogBaseURL,
			UserAgent: cfg.CatalogUserAgent,
			Secret:    cfg.CatalogSecret,
			Timeout:   cfg.CatalogTimeout,
			Limiter:   limiter,
			Cache:     cache,
		})
		matcher = catalog.NewMatcher(client, cfg.MatchConfidence)

		if cfg.ArtworkBaseURL != "" {
			artwork = catalog.NewArtworkClient(catalog.ArtworkClientOptions{
				BaseURL:   cfg.ArtworkBaseURL,
				UserAgent: cfg.CatalogUserAgent,
				Timeout:   cfg.CatalogTimeout,
				Limiter:   limiter,
				Cache:     cache,
			})
		}
	}

	orchestrator := scan.New(scan.Options{
		MediaService:   mediaService,
		LibraryService: libraryService,
		Extractor:      extractor,
		Matcher:        matcher,
		Artwork:        artwork,
		Bus:            bus,
	})

	return &Worker{
		config: cfg,
		log:    logger.New(),

		jobService:     jobService,
		libraryService: libraryService,
		orchestrator:   orchestrator,

		shutdown: make(chan struct{}),
		done:     make(chan struct{}, len(models.LibraryKinds)),
	}
}

func (w *Worker) Start() {
	for _, kind := range models.LibraryKinds {
		go w.runKind(kind)
	}
}

func (w *Worker) runKind(kind string) {
	duration := w.config.WorkerPollInterval
	if duration <= 0 {
		duration = defaultPollInterval
	}
	timer := time.NewTimer(duration)

	for {
		select {
		case <-w.shutdown:
			w.done <- struct{}{}
			return
		case <-timer.C:
			w.drainQueue(kind)
			timer.Reset(duration)
		}
	}
}

// drainQueue claims and processes jobs of the kind until the queue is empty,
// so a burst of enqueues doesn't pay the poll interval between each job.
func (w *Worker) drainQueue(kind string) {
	for {
		select {
		case <-w.shutdown:
			// Leave the remaining jobs for the next process. The job being
			// processed when shutdown is called always finishes first because
			// this loop doesn't yield mid-job.
			return
		default:
		}

		job, err := w.jobService.ClaimNextPendingJob(context.Background(), kind, processID)
		if err != nil {
			w.log.Err(err).Data(logger.Data{"kind": kind}).Error("claim job error")
			return
		}
		if job == nil {
			return
		}

		w.process(job)
	}
}

func (w *Worker) process(job *models.Job) {
	id, err := uuid.NewRandom()
	if err != nil {
		w.log.Err(err).Error("new uuid error")
		return
	}
	log := w.log.ID(id.String()).Root(logger.Data{"job_id": job.ID, "kind": job.Kind, "process_id": processID})
	ctx := log.WithContext(context.Background())

	if job.LibraryID == nil {
		w.fail(ctx, log, job, "job has no library", nil)
		return
	}

	library, err := w.libraryService.RetrieveLibrary(ctx, libraries.RetrieveLibraryOptions{ID: job.LibraryID})
	if err != nil {
		w.fail(ctx, log, job, "library not found", nil)
		return
	}

	force := false
	if data, ok := job.DataParsed.(*models.JobScanData); ok {
		force = data.Force
	}

	log.Data(logger.Data{"library_id": library.ID, "force": force}).Info("starting scan")

	summary, err := w.orchestrator.Run(ctx, library, job.ID, force)
	if err != nil {
		w.fail(ctx, log, job, err.Error(), summary)
		return
	}

	if err := w.jobService.CompleteJob(ctx, job, summary); err != nil {
		log.Err(err).Error("complete job error")
		return
	}

	log.Data(logger.Data{
		"total_files": summary.TotalFiles,
		"new_items":   summary.NewItems,
		"updated":     summary.Updated,
		"removed":     summary.Removed,
		"matched":     summary.Matched,
	}).Info("scan completed")
}

func (w *Worker) fail(ctx context.Context, log logger.Logger, job *models.Job, reason string, summary *models.ScanSummary) {
	log.Data(logger.Data{"reason": reason}).Warn("scan failed")
	if err := w.jobService.FailJob(ctx, job, reason, summary); err != nil {
		log.Err(err).Error("fail job error")
	}
}

// Shutdown stops the per-kind loops and blocks until each has finished its
// current job.
func (w *Worker) Shutdown() {
	close(w.shutdown)

	for range models.LibraryKinds {
		<-w.done
	}
}

const letterBytes = "abcdef0123456789"

func randStringBytes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letterBytes[rand.Intn(len(letterBytes))]
	}
	return string(b)
}
