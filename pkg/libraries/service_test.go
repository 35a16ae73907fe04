package libraries

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/medleyhq/medley/pkg/migrations"
	"github.com/medleyhq/medley/pkg/models"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	return db
}

func TestCreateLibraryWithPaths(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	library := &models.Library{
		Name: "Audiobooks",
		Kind: models.LibraryKindAudiobook,
		LibraryPaths: []*models.LibraryPath{
			{Filepath: "/media/audiobooks"},
			{Filepath: "/media/more-audiobooks"},
		},
	}
	require.NoError(t, svc.CreateLibrary(ctx, library))
	require.NotZero(t, library.ID)

	got, err := svc.RetrieveLibrary(ctx, RetrieveLibraryOptions{ID: &library.ID})
	require.NoError(t, err)
	assert.Equal(t, "Audiobooks", got.Name)
	assert.Equal(t, models.LibraryKindAudiobook, got.Kind)
	require.Len(t, got.LibraryPaths, 2)
	assert.Equal(t, "/media/audiobooks", got.LibraryPaths[0].Filepath)
	assert.Nil(t, got.LastScannedAt)
}

func TestRetrieveLibraryNotFound(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	id := 42
	_, err := svc.RetrieveLibrary(ctx, RetrieveLibraryOptions{ID: &id})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestListLibrariesFiltersByKind(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	for _, kind := range models.LibraryKinds {
		require.NoError(t, svc.CreateLibrary(ctx, &models.Library{Name: kind + " library", Kind: kind}))
	}

	all, total, err := svc.ListLibrariesWithTotal(ctx, ListLibrariesOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 3)

	videos, err := svc.ListLibraries(ctx, ListLibrariesOptions{Kind: pointerutil.String(models.LibraryKindVideo)})
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, models.LibraryKindVideo, videos[0].Kind)
}

func TestUpdateLibraryReplacesPaths(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	library := &models.Library{
		Name:         "Music",
		Kind:         models.LibraryKindAudio,
		LibraryPaths: []*models.LibraryPath{{Filepath: "/media/music"}},
	}
	require.NoError(t, svc.CreateLibrary(ctx, library))

	library.Name = "All Music"
	library.LibraryPaths = []*models.LibraryPath{
		{Filepath: "/media/flac"},
		{Filepath: "/media/mp3"},
	}
	require.NoError(t, svc.UpdateLibrary(ctx, library, UpdateLibraryOptions{
		Columns:            []string{"name"},
		UpdateLibraryPaths: true,
	}))

	got, err := svc.RetrieveLibrary(ctx, RetrieveLibraryOptions{ID: &library.ID})
	require.NoError(t, err)
	assert.Equal(t, "All Music", got.Name)
	require.Len(t, got.LibraryPaths, 2)
	assert.Equal(t, "/media/flac", got.LibraryPaths[0].Filepath)
	assert.Equal(t, "/media/mp3", got.LibraryPaths[1].Filepath)
}

func TestMarkScanned(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	library := &models.Library{Name: "Movies", Kind: models.LibraryKindVideo}
	require.NoError(t, svc.CreateLibrary(ctx, library))

	at := time.Now().Truncate(time.Second)
	require.NoError(t, svc.MarkScanned(ctx, library, at))

	got, err := svc.RetrieveLibrary(ctx, RetrieveLibraryOptions{ID: &library.ID})
	require.NoError(t, err)
	require.NotNil(t, got.LastScannedAt)
	assert.WithinDuration(t, at, *got.LastScannedAt, time.Second)
}
