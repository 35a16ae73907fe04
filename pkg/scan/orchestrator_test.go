package scan

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robinjoseph08/golib/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/medleyhq/medley/pkg/catalog"
	"github.com/medleyhq/medley/pkg/libraries"
	"github.com/medleyhq/medley/pkg/media"
	"github.com/medleyhq/medley/pkg/mediafile"
	"github.com/medleyhq/medley/pkg/migrations"
	"github.com/medleyhq/medley/pkg/models"
	"github.com/medleyhq/medley/pkg/progress"
	"github.com/medleyhq/medley/pkg/ratelimit"
	"github.com/medleyhq/medley/pkg/respcache"
)

var mp3Header = append([]byte("ID3\x04\x00\x00\x00\x00\x00\x00"), make([]byte, 64)...)
var m4bHeader = append([]byte{0x00, 0x00, 0x00, 0x20, 'f', 't', 'y', 'p', 'M', '4', 'A', ' '}, make([]byte, 64)...)

type testContext struct {
	t              *testing.T
	ctx            context.Context
	db             *bun.DB
	root           string
	library        *models.Library
	mediaService   *media.Service
	libraryService *libraries.Service
	bus            *progress.Bus
	orchestrator   *Orchestrator
}

func newTestContext(t *testing.T, kind string) *testContext {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	db := bun.NewDB(sqldb, sqlitedialect.New())

	ctx := logger.New().WithContext(context.Background())
	_, err = migrations.BringUpToDate(ctx, db)
	require.NoError(t, err)

	root := t.TempDir()
	libraryService := libraries.NewService(db)
	library := &models.Library{
		Name:         "Test Library",
		Kind:         kind,
		LibraryPaths: []*models.LibraryPath{{Filepath: root}},
	}
	require.NoError(t, libraryService.CreateLibrary(ctx, library))

	mediaService := media.NewService(db)
	bus := progress.NewBus()

	tc := &testContext{
		t:              t,
		ctx:            ctx,
		db:             db,
		root:           root,
		library:        library,
		mediaService:   mediaService,
		libraryService: libraryService,
		bus:            bus,
	}
	tc.orchestrator = New(Options{
		MediaService:   mediaService,
		LibraryService: libraryService,
		Extractor:      mediafile.NewExtractor(mediafile.NewProber("medley-test-missing-ffprobe")),
		Bus:            bus,
	})

	return tc
}

func (tc *testContext) writeFile(relpath string, content []byte) {
	tc.t.Helper()
	path := filepath.Join(tc.root, relpath)
	require.NoError(tc.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(tc.t, os.WriteFile(path, content, 0o644))
}

func (tc *testContext) run(force bool) *models.ScanSummary {
	tc.t.Helper()
	summary, err := tc.orchestrator.Run(tc.ctx, tc.library, 1, force)
	require.NoError(tc.t, err)
	return summary
}

func TestRunAudiobookDirectory(t *testing.T) {
	tc := newTestContext(t, models.LibraryKindAudiobook)
	tc.writeFile("J.R.R. Tolkien - The Hobbit (1937)/01 - An Unexpected Party.mp3", mp3Header)
	tc.writeFile("J.R.R. Tolkien - The Hobbit (1937)/02 - Roast Mutton.mp3", mp3Header)
	tc.writeFile("J.R.R. Tolkien - The Hobbit (1937)/03 - A Short Rest.mp3", mp3Header)

	summary := tc.run(false)

	assert.Equal(t, 3, summary.TotalFiles)
	assert.Equal(t, 3, summary.NewItems)
	assert.Zero(t, summary.Updated)
	assert.Zero(t, summary.Removed)
	assert.Zero(t, summary.Errors)

	containers, err := tc.mediaService.ListUnmatchedContainers(tc.ctx, tc.library.ID)
	require.NoError(t, err)
	require.Len(t, containers, 1)
	container := containers[0]
	assert.Equal(t, "The Hobbit", container.Title)
	require.NotNil(t, container.Creator)
	assert.Equal(t, "J.R.R. Tolkien", *container.Creator)
	require.NotNil(t, container.Year)
	assert.Equal(t, 1937, *container.Year)

	full, err := tc.mediaService.RetrieveContainer(tc.ctx, container.ID)
	require.NoError(t, err)
	require.Len(t, full.Persons, 1)
	assert.Equal(t, models.PersonRoleAuthor, full.Persons[0].Role)

	items, err := tc.mediaService.ListItems(tc.ctx, media.ListItemsOptions{ContainerID: &container.ID})
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, item := range items {
		require.NotNil(t, item.Position)
		assert.Equal(t, i+1, *item.Position)
		assert.Equal(t, models.ItemKindChapter, item.Kind)
	}

	library, err := tc.libraryService.RetrieveLibrary(tc.ctx, libraries.RetrieveLibraryOptions{ID: &tc.library.ID})
	require.NoError(t, err)
	assert.NotNil(t, library.LastScannedAt)
}

func TestRunIsIdempotent(t *testing.T) {
	tc := newTestContext(t, models.LibraryKindAudiobook)
	tc.writeFile("J.R.R. Tolkien - The Hobbit (1937)/01 - An Unexpected Party.mp3", mp3Header)
	tc.writeFile("J.R.R. Tolkien - The Hobbit (1937)/02 - Roast Mutton.mp3", mp3Header)

	first := tc.run(false)
	assert.Equal(t, 2, first.NewItems)

	second := tc.run(false)
	assert.Zero(t, second.NewItems)
	assert.Zero(t, second.Updated)
	assert.Zero(t, second.Removed)
	assert.Equal(t, 2, second.Skipped)

	// No duplicate rows for containers, persons, or items.
	for _, model := range []any{
		(*models.Container)(nil),
		(*models.Person)(nil),
	} {
		count, err := tc.db.NewSelect().Model(model).Count(tc.ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	}
	count, err := tc.db.NewSelect().Model((*models.MediaItem)(nil)).Count(tc.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRunForcedRefreshesUnchangedFiles(t *testing.T) {
	tc := newTestContext(t, models.LibraryKindAudiobook)
	tc.writeFile("The Silmarillion/01 - Of the Beginning of Days.mp3", mp3Header)

	first := tc.run(false)
	assert.Equal(t, 1, first.NewItems)

	second := tc.run(true)
	assert.Equal(t, 1, second.Updated)
	assert.Zero(t, second.Skipped)
}

func TestRunDetectsChangedFile(t *testing.T) {
	tc := newTestContext(t, models.LibraryKindAudiobook)
	tc.writeFile("The Silmarillion/01 - Of the Beginning of Days.mp3", mp3Header)

	tc.run(false)

	// Grow the file and backdate nothing; size alone marks it changed.
	bigger := append(append([]byte{}, mp3Header...), make([]byte, 128)...)
	tc.writeFile("The Silmarillion/01 - Of the Beginning of Days.mp3", bigger)

	summary := tc.run(false)
	assert.Equal(t, 1, summary.Updated)
	assert.Zero(t, summary.Skipped)
}

func TestRunCleanupRemovesDeletedFiles(t *testing.T) {
	tc := newTestContext(t, models.LibraryKindAudiobook)
	tc.writeFile("The Hobbit/01 - An Unexpected Party.mp3", mp3Header)
	tc.writeFile("The Hobbit/02 - Roast Mutton.mp3", mp3Header)

	tc.run(false)
	require.NoError(t, os.Remove(filepath.Join(tc.root, "The Hobbit/02 - Roast Mutton.mp3")))

	summary := tc.run(false)
	assert.Equal(t, 1, summary.Removed)

	paths, err := tc.mediaService.ListItemPaths(tc.ctx, tc.library.ID)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Contains(t, paths[0], "01 - An Unexpected Party.mp3")
}

func TestRunLoneRootLevelFile(t *testing.T) {
	tc := newTestContext(t, models.LibraryKindAudiobook)
	tc.writeFile("The Silmarillion.m4b", m4bHeader)

	summary := tc.run(false)

	assert.Equal(t, 1, summary.TotalFiles)
	assert.Equal(t, 1, summary.NewItems)

	items, err := tc.mediaService.ListItems(tc.ctx, media.ListItemsOptions{LibraryID: &tc.library.ID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "The Silmarillion", items[0].Title)
	assert.Nil(t, items[0].ContainerID)
	assert.Nil(t, items[0].Position)

	count, err := tc.db.NewSelect().Model((*models.Container)(nil)).Count(tc.ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRunUnreadableRootIsFatal(t *testing.T) {
	tc := newTestContext(t, models.LibraryKindAudiobook)
	tc.library.LibraryPaths = []*models.LibraryPath{
		{Filepath: filepath.Join(tc.root, "does-not-exist")},
	}

	_, err := tc.orchestrator.Run(tc.ctx, tc.library, 1, false)
	require.Error(t, err)

	latest, ok := tc.bus.Latest(tc.library.ID)
	require.True(t, ok)
	assert.Equal(t, progress.PhaseError, latest.Phase)
}

func TestRunSoftErrorDoesNotAbort(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks don't apply to root")
	}

	tc := newTestContext(t, models.LibraryKindAudiobook)
	tc.writeFile("The Hobbit/01 - An Unexpected Party.mp3", mp3Header)
	tc.writeFile("Locked Book/01 - Part One.mp3", mp3Header)

	locked := filepath.Join(tc.root, "Locked Book")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	summary := tc.run(false)

	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.NewItems)
}

// vanishingExtractor deletes one file from disk just before its extraction,
// standing in for a file removed after discovery already saw it.
type vanishingExtractor struct {
	inner  Extractor
	target string
}

func (e *vanishingExtractor) Extract(ctx context.Context, path string, libraryKind string) *mediafile.Metadata {
	if path == e.target {
		os.Remove(path)
	}
	return e.inner.Extract(ctx, path, libraryKind)
}

func TestRunFileVanishingMidScanIsSoftError(t *testing.T) {
	tc := newTestContext(t, models.LibraryKindAudiobook)
	tc.writeFile("The Hobbit/01 - An Unexpected Party.mp3", mp3Header)
	tc.writeFile("The Hobbit/02 - Roast Mutton.mp3", mp3Header)
	tc.writeFile("The Hobbit/03 - A Short Rest.mp3", mp3Header)

	tc.orchestrator.extractor = &vanishingExtractor{
		inner:  mediafile.NewExtractor(mediafile.NewProber("medley-test-missing-ffprobe")),
		target: filepath.Join(tc.root, "The Hobbit/02 - Roast Mutton.mp3"),
	}

	summary := tc.run(false)

	// One error for the vanished file; the other two land, and the run still
	// finishes.
	assert.Equal(t, 3, summary.TotalFiles)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 2, summary.NewItems)
	assert.Zero(t, summary.Removed)

	items, err := tc.mediaService.ListItems(tc.ctx, media.ListItemsOptions{LibraryID: &tc.library.ID})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	latest, ok := tc.bus.Latest(tc.library.ID)
	require.True(t, ok)
	assert.Equal(t, progress.PhaseDone, latest.Phase)
}

// coverExtractor decorates every record with an embedded cover, the way a
// tagged file would carry one.
type coverExtractor struct {
	inner Extractor
}

func (e *coverExtractor) Extract(ctx context.Context, path string, libraryKind string) *mediafile.Metadata {
	meta := e.inner.Extract(ctx, path, libraryKind)
	meta.CoverMimeType = "image/jpeg"
	meta.CoverData = []byte{0xFF, 0xD8, 0xFF, 0xDB}
	return meta
}

func TestRunPersistsEmbeddedCover(t *testing.T) {
	tc := newTestContext(t, models.LibraryKindAudiobook)
	tc.writeFile("The Hobbit/01 - An Unexpected Party.mp3", mp3Header)
	tc.writeFile("The Hobbit/02 - Roast Mutton.mp3", mp3Header)

	tc.orchestrator.extractor = &coverExtractor{
		inner: mediafile.NewExtractor(mediafile.NewProber("medley-test-missing-ffprobe")),
	}

	tc.run(false)

	coverPath := filepath.Join(tc.root, "The Hobbit", "cover.jpg")
	data, err := os.ReadFile(coverPath)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xDB}, data)

	containers, err := tc.mediaService.ListUnmatchedContainers(tc.ctx, tc.library.ID)
	require.NoError(t, err)
	require.Len(t, containers, 1)
	require.NotNil(t, containers[0].CoverImagePath)
	assert.Equal(t, coverPath, *containers[0].CoverImagePath)

	// A second scan keeps the recorded cover instead of rewriting it.
	require.NoError(t, os.WriteFile(coverPath, []byte{0xAA}, 0o644))
	tc.run(true)

	data, err = os.ReadFile(coverPath)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, data)
}

func TestRunPublishesMonotonicProgress(t *testing.T) {
	tc := newTestContext(t, models.LibraryKindAudiobook)
	tc.writeFile("The Hobbit/01 - An Unexpected Party.mp3", mp3Header)
	tc.writeFile("The Hobbit/02 - Roast Mutton.mp3", mp3Header)
	tc.writeFile("The Hobbit/03 - A Short Rest.mp3", mp3Header)

	id, ch := tc.bus.Subscribe(tc.library.ID)
	defer tc.bus.Unsubscribe(id)

	tc.run(false)

	lastProcessed := 0
	sawDone := false
	for {
		select {
		case snapshot := <-ch:
			assert.GreaterOrEqual(t, snapshot.Processed, lastProcessed)
			lastProcessed = snapshot.Processed
			if snapshot.Phase == progress.PhaseDone {
				sawDone = true
			}
		default:
			assert.True(t, sawDone)
			assert.Equal(t, 3, lastProcessed)
			return
		}
	}
}

func TestRunMatchingPhase(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/releases/search":
			w.Write([]byte(`{"releases":[{"id":"rel-hobbit","title":"The Hobbit","creator":"J.R.R. Tolkien","year":1937}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	artworkServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"images":[{"front":true,"image":"http://img.example.com/hobbit.jpg"}]}`))
	}))
	defer artworkServer.Close()

	limiter := ratelimit.NewInterval(time.Millisecond)
	cache := respcache.New(respcache.DefaultTTL)
	client := catalog.NewClient(catalog.ClientOptions{
		BaseURL:   server.URL,
		UserAgent: "medley-test/1.0",
		Limiter:   limiter,
		Cache:     cache,
	})

	tc := newTestContext(t, models.LibraryKindAudiobook)
	tc.orchestrator.matcher = catalog.NewMatcher(client, 0)
	tc.orchestrator.artwork = catalog.NewArtworkClient(catalog.ArtworkClientOptions{
		BaseURL:   artworkServer.URL,
		UserAgent: "medley-test/1.0",
		Backoff:   time.Millisecond,
		Limiter:   limiter,
		Cache:     cache,
	})

	tc.writeFile("J.R.R. Tolkien - The Hobbit (1937)/01 - An Unexpected Party.mp3", mp3Header)

	summary := tc.run(false)

	assert.Equal(t, 1, summary.Matched)
	assert.Zero(t, summary.Unmatched)

	containers, err := tc.mediaService.ListUnmatchedContainers(tc.ctx, tc.library.ID)
	require.NoError(t, err)
	assert.Empty(t, containers)

	allContainers := []*models.Container{}
	require.NoError(t, tc.db.NewSelect().Model(&allContainers).Scan(tc.ctx))
	require.Len(t, allContainers, 1)
	require.NotNil(t, allContainers[0].ExternalID)
	assert.Equal(t, "rel-hobbit", *allContainers[0].ExternalID)
	require.NotNil(t, allContainers[0].ArtworkURL)
	assert.Equal(t, "https://img.example.com/hobbit.jpg", *allContainers[0].ArtworkURL)
}

func TestRunMatchingLeavesAmbiguousUnmatched(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"releases":[{"id":"rel-other","title":"A Completely Different Title","creator":"Someone Else"}]}`))
	}))
	defer server.Close()

	client := catalog.NewClient(catalog.ClientOptions{
		BaseURL:   server.URL,
		UserAgent: "medley-test/1.0",
		Limiter:   ratelimit.NewInterval(time.Millisecond),
		Cache:     respcache.New(respcache.DefaultTTL),
	})

	tc := newTestContext(t, models.LibraryKindAudiobook)
	tc.orchestrator.matcher = catalog.NewMatcher(client, 0)

	tc.writeFile("J.R.R. Tolkien - The Hobbit (1937)/01 - An Unexpected Party.mp3", mp3Header)

	summary := tc.run(false)

	assert.Zero(t, summary.Matched)
	assert.Equal(t, 1, summary.Unmatched)

	containers, err := tc.mediaService.ListUnmatchedContainers(tc.ctx, tc.library.ID)
	require.NoError(t, err)
	assert.Len(t, containers, 1)
}

func TestRunVideoLibrarySkipsContainersAndMatching(t *testing.T) {
	tc := newTestContext(t, models.LibraryKindVideo)

	mkvHeader := append(append([]byte{0x1A, 0x45, 0xDF, 0xA3, 0x42, 0x82, 0x88}, []byte("matroska")...), make([]byte, 64)...)
	tc.writeFile("Heat (1995).mkv", mkvHeader)

	summary := tc.run(false)

	assert.Equal(t, 1, summary.NewItems)
	assert.Zero(t, summary.Matched)
	assert.Zero(t, summary.Unmatched)

	items, err := tc.mediaService.ListItems(tc.ctx, media.ListItemsOptions{LibraryID: &tc.library.ID})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.ItemKindMovie, items[0].Kind)
	assert.Nil(t, items[0].ContainerID)
}
