// Package scan runs one library scan from discovery through cleanup. Each
// run is a small state machine: discovering walks the library paths,
// scanning extracts and upserts every file, matching resolves containers
// against the external catalog, and cleanup removes records whose files left
// the disk. Per-file problems are counted and skipped; only an unreadable
// library root or an unreachable database aborts a run.
package scan

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"

	"github.com/medleyhq/medley/pkg/catalog"
	"github.com/medleyhq/medley/pkg/errcodes"
	"github.com/medleyhq/medley/pkg/libraries"
	"github.com/medleyhq/medley/pkg/media"
	"github.com/medleyhq/medley/pkg/mediafile"
	"github.com/medleyhq/medley/pkg/models"
	"github.com/medleyhq/medley/pkg/progress"
	"github.com/medleyhq/medley/pkg/walker"
)

// Extractor produces the normalized metadata record for one file. Satisfied
// by mediafile.Extractor.
type Extractor interface {
	Extract(ctx context.Context, path string, libraryKind string) *mediafile.Metadata
}

// Orchestrator wires the scan pipeline together. Matcher and Artwork are
// optional; without them the matching phase only counts containers as
// unmatched.
type Orchestrator struct {
	mediaService   *media.Service
	libraryService *libraries.Service
	extractor      Extractor
	matcher        *catalog.Matcher
	artwork        *catalog.ArtworkClient
	bus            *progress.Bus
}

type Options struct {
	MediaService   *media.Service
	LibraryService *libraries.Service
	Extractor      Extractor
	Matcher        *catalog.Matcher
	Artwork        *catalog.ArtworkClient
	Bus            *progress.Bus
}

func New(opts Options) *Orchestrator {
	return &Orchestrator{
		mediaService:   opts.MediaService,
		libraryService: opts.LibraryService,
		extractor:      opts.Extractor,
		matcher:        opts.Matcher,
		artwork:        opts.Artwork,
		bus:            opts.Bus,
	}
}

// run carries the per-run mutable state so concurrent scans of different
// libraries never share anything.
type run struct {
	library     *models.Library
	jobID       int
	force       bool
	summary     *models.ScanSummary
	total       int
	processed   int
	currentFile string
	phase       string
}

func (r *run) snapshot() progress.Snapshot {
	return progress.Snapshot{
		LibraryID:   r.library.ID,
		JobID:       r.jobID,
		Phase:       r.phase,
		Total:       r.total,
		Processed:   r.processed,
		CurrentFile: r.currentFile,
		New:         r.summary.NewItems,
		Updated:     r.summary.Updated,
		Removed:     r.summary.Removed,
		Skipped:     r.summary.Skipped,
		Matched:     r.summary.Matched,
		Unmatched:   r.summary.Unmatched,
		Errors:      r.summary.Errors,
	}
}

func (o *Orchestrator) publish(r *run, phase string) {
	r.phase = phase
	o.bus.Publish(r.snapshot())
}

// Run executes a full scan of the library. The returned summary is valid
// even when an error is returned; it holds whatever was accumulated before
// the fatal condition.
func (o *Orchestrator) Run(ctx context.Context, library *models.Library, jobID int, force bool) (*models.ScanSummary, error) {
	log := logger.FromContext(ctx).Data(logger.Data{
		"library_id": library.ID,
		"kind":       library.Kind,
		"force":      force,
	})
	log.Info("starting scan")

	r := &run{
		library: library,
		jobID:   jobID,
		force:   force,
		summary: &models.ScanSummary{},
	}

	o.publish(r, progress.PhaseDiscovering)

	groups, err := o.discover(ctx, log, r)
	if err != nil {
		o.publish(r, progress.PhaseError)
		return r.summary, err
	}

	o.publish(r, progress.PhaseScanning)

	observed, err := o.scanGroups(ctx, log, r, groups)
	if err != nil {
		o.publish(r, progress.PhaseError)
		return r.summary, err
	}

	if library.Kind != models.LibraryKindVideo {
		o.publish(r, progress.PhaseMatching)
		if err := o.matchContainers(ctx, log, r); err != nil {
			o.publish(r, progress.PhaseError)
			return r.summary, err
		}
	}

	o.publish(r, progress.PhaseCleanup)

	removed, err := o.mediaService.DeleteMissingItems(ctx, library.ID, observed)
	if err != nil {
		o.publish(r, progress.PhaseError)
		return r.summary, err
	}
	r.summary.Removed = removed

	if err := o.libraryService.MarkScanned(ctx, library, time.Now()); err != nil {
		o.publish(r, progress.PhaseError)
		return r.summary, err
	}

	r.currentFile = ""
	o.publish(r, progress.PhaseDone)
	log.Info("finished scan", logger.Data{
		"total":   r.summary.TotalFiles,
		"new":     r.summary.NewItems,
		"updated": r.summary.Updated,
		"removed": r.summary.Removed,
		"skipped": r.summary.Skipped,
		"errors":  r.summary.Errors,
	})

	return r.summary, nil
}

// discover walks every library path and returns the combined group list. An
// unreadable root is fatal; unreadable subdirectories only bump the error
// counter.
func (o *Orchestrator) discover(ctx context.Context, log logger.Logger, r *run) ([]walker.Group, error) {
	groups := []walker.Group{}

	for _, libraryPath := range r.library.LibraryPaths {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}

		result, err := walker.Walk(log, libraryPath.Filepath, r.library.Kind)
		if err != nil {
			return nil, errors.Wrapf(err, "library path %s unreadable", libraryPath.Filepath)
		}

		groups = append(groups, result.Groups...)
		r.summary.Errors += result.SoftErrors
	}

	for _, g := range groups {
		r.total += len(g.Files)
	}
	r.summary.TotalFiles = r.total

	log.Info("discovery complete", logger.Data{"groups": len(groups), "files": r.total})
	return groups, nil
}

func (o *Orchestrator) scanGroups(ctx context.Context, log logger.Logger, r *run, groups []walker.Group) ([]string, error) {
	observed := make([]string, 0, r.total)

	for i := range groups {
		g := &groups[i]
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}

		container, err := o.upsertGroupContainer(ctx, log, r, g)
		if err != nil {
			return nil, err
		}

		for idx, path := range g.Files {
			observed = append(observed, path)
			if err := o.scanFile(ctx, log, r, g, container, path, idx); err != nil {
				return nil, err
			}
		}
	}

	return observed, nil
}

// upsertGroupContainer creates or refreshes the container for a
// directory-backed group, along with its creator person link. Lone files
// directly under the library root stay container-less. A failure here is
// soft: the group's files still get scanned, just unattached.
func (o *Orchestrator) upsertGroupContainer(ctx context.Context, log logger.Logger, r *run, g *walker.Group) (*models.Container, error) {
	if len(g.Files) == 1 && g.Files[0] == g.Path {
		// A lone file directly under the library root, or a standalone
		// video: no container.
		return nil, nil
	}

	container := &models.Container{
		LibraryID: r.library.ID,
		Title:     g.Title,
		Creator:   g.Creator,
		Year:      g.Year,
	}
	if err := o.mediaService.UpsertContainer(ctx, container); err != nil {
		log.Err(err).Warn("container upsert failed; files will be scanned unattached", logger.Data{"path": g.Path})
		r.summary.Errors++
		return nil, nil
	}

	if g.Creator != nil {
		person := &models.Person{LibraryID: r.library.ID, Name: *g.Creator}
		if err := o.mediaService.UpsertPerson(ctx, person); err != nil {
			log.Err(err).Warn("person upsert failed", logger.Data{"name": *g.Creator})
			r.summary.Errors++
		} else if err := o.mediaService.LinkContainerPerson(ctx, container.ID, person.ID, creatorRole(r.library.Kind), 0); err != nil {
			log.Err(err).Warn("container person link failed", logger.Data{"name": *g.Creator})
			r.summary.Errors++
		}
	}

	return container, nil
}

func (o *Orchestrator) scanFile(ctx context.Context, log logger.Logger, r *run, g *walker.Group, container *models.Container, path string, idx int) error {
	r.currentFile = path

	existing, err := o.mediaService.RetrieveItem(ctx, media.RetrieveItemOptions{
		LibraryID: &r.library.ID,
		Filepath:  &path,
	})
	if err != nil {
		if !errcodes.IsNotFound(err) {
			return err
		}
		existing = nil
	}

	if !r.force && existing != nil && unchanged(existing, path) {
		r.summary.Skipped++
		r.processed++
		o.publish(r, progress.PhaseScanning)
		return nil
	}

	meta := o.extractor.Extract(ctx, path, r.library.Kind)
	if meta.FileModifiedAt.IsZero() {
		// Stat failed: the file vanished or is unreadable.
		log.Warn("file unreadable during scan", logger.Data{"path": path})
		r.summary.Errors++
		r.processed++
		o.publish(r, progress.PhaseScanning)
		return nil
	}

	item := o.buildItem(r, g, container, meta, path, idx)

	o.persistCover(ctx, log, g, container, meta)

	if err := o.mediaService.UpsertItem(ctx, item); err != nil {
		log.Err(err).Warn("item upsert failed", logger.Data{"path": path})
		r.summary.Errors++
	} else if existing == nil {
		r.summary.NewItems++
	} else {
		r.summary.Updated++
	}

	r.processed++
	o.publish(r, progress.PhaseScanning)
	return nil
}

// persistCover writes the first embedded cover found in a group into the
// group's directory and records it on the container. Best-effort: a cover
// that can't be written only logs, and a container that already has one
// keeps it.
func (o *Orchestrator) persistCover(ctx context.Context, log logger.Logger, g *walker.Group, container *models.Container, meta *mediafile.Metadata) {
	if container == nil || container.CoverImagePath != nil || !meta.HasCover() {
		return
	}
	ext := meta.CoverExtension()
	if ext == "" {
		return
	}

	coverPath := filepath.Join(g.Path, "cover"+ext)
	if err := os.WriteFile(coverPath, meta.CoverData, 0o644); err != nil {
		log.Err(err).Warn("cover write failed", logger.Data{"path": coverPath})
		return
	}
	if err := o.mediaService.SetContainerCoverPath(ctx, container.ID, coverPath); err != nil {
		log.Err(err).Warn("cover path update failed", logger.Data{"container_id": container.ID})
		return
	}
	container.CoverImagePath = &coverPath
}

func (o *Orchestrator) buildItem(r *run, g *walker.Group, container *models.Container, meta *mediafile.Metadata, path string, idx int) *models.MediaItem {
	item := &models.MediaItem{
		LibraryID:       r.library.ID,
		Filepath:        path,
		Kind:            models.ItemKindForLibrary(r.library.Kind),
		Title:           meta.Title,
		Year:            meta.Year,
		DurationSeconds: meta.DurationSeconds,
		Codec:           meta.Codec,
		BitrateBps:      meta.BitrateBps,
		SampleRateHz:    meta.SampleRateHz,
		Channels:        meta.Channels,
		FilesizeBytes:   meta.FilesizeBytes,
		FileModifiedAt:  meta.FileModifiedAt,
	}

	if container != nil {
		item.ContainerID = &container.ID
	}
	if item.Year == nil {
		item.Year = g.Year
	}
	if meta.Genre != "" {
		genre := meta.Genre
		item.Genre = &genre
	}
	if meta.ExternalID != "" {
		externalID := meta.ExternalID
		item.ExternalID = &externalID
	}

	// Multi-part groups are ordered by embedded position when present,
	// otherwise by lexicographic file order.
	if g.MultiPart() {
		if meta.Position != nil {
			item.Position = meta.Position
		} else {
			position := idx + 1
			item.Position = &position
		}
	} else {
		item.Position = meta.Position
	}

	return item
}

// matchContainers resolves containers without an external identifier against
// the primary catalog. Low confidence and catalog failures both leave the
// container unmatched; neither stops the run.
func (o *Orchestrator) matchContainers(ctx context.Context, log logger.Logger, r *run) error {
	containers, err := o.mediaService.ListUnmatchedContainers(ctx, r.library.ID)
	if err != nil {
		return err
	}

	for _, container := range containers {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}
		if o.matcher == nil {
			r.summary.Unmatched++
			continue
		}

		creator := ""
		if container.Creator != nil {
			creator = *container.Creator
		}

		match, err := o.matcher.Match(ctx, container.Title, creator, container.Year)
		if err != nil {
			if !errors.Is(err, catalog.ErrNoMatch) {
				log.Err(err).Warn("catalog lookup failed", logger.Data{"container_id": container.ID})
			}
			r.summary.Unmatched++
			o.publish(r, progress.PhaseMatching)
			continue
		}

		var artworkURL *string
		if o.artwork != nil {
			if coverURL, err := o.artwork.CoverURL(ctx, match.Release.ID); err == nil {
				artworkURL = &coverURL
			}
		}

		if err := o.mediaService.LinkContainerExternalID(ctx, container.ID, match.Release.ID, artworkURL); err != nil {
			return err
		}

		r.summary.Matched++
		o.publish(r, progress.PhaseMatching)
	}

	return nil
}

// unchanged reports whether the file on disk still has the size and mtime we
// recorded for the item. Mtimes are compared at second precision since the
// stored timestamp loses sub-second resolution on the round trip. Any stat
// problem counts as changed so the file gets re-examined.
func unchanged(item *models.MediaItem, path string) bool {
	stat, err := os.Stat(path)
	if err != nil {
		return false
	}
	return stat.Size() == item.FilesizeBytes &&
		stat.ModTime().Truncate(time.Second).Equal(item.FileModifiedAt.Truncate(time.Second))
}

func creatorRole(libraryKind string) string {
	switch libraryKind {
	case models.LibraryKindAudiobook:
		return models.PersonRoleAuthor
	case models.LibraryKindVideo:
		return models.PersonRoleDirector
	default:
		return models.PersonRoleArtist
	}
}
