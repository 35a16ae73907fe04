package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	ItemKindTrack   = "track"
	ItemKindMovie   = "movie"
	ItemKindEpisode = "episode"
	ItemKindChapter = "chapter"
)

// MediaItem is the smallest unit of playable media: a track, movie, episode,
// or audiobook chapter. Its absolute file path is the natural key within a
// library; re-scanning the same path updates the row in place, never
// duplicates it.
type MediaItem struct {
	bun.BaseModel `bun:"table:media_items,alias:mi"`

	ID              int        `bun:",pk,nullzero" json:"id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LibraryID       int        `bun:",nullzero" json:"library_id"`
	ContainerID     *int       `json:"container_id,omitempty"`
	Container       *Container `bun:"rel:belongs-to,join:container_id=id" json:"container,omitempty"`
	Filepath        string     `bun:",nullzero" json:"filepath"`
	Kind            string     `bun:",nullzero" json:"kind"`
	Title           string     `bun:",nullzero" json:"title"`
	Position        *int       `json:"position,omitempty"`
	Year            *int       `json:"year,omitempty"`
	Genre           *string    `json:"genre,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	Codec           *string    `json:"codec,omitempty"`
	BitrateBps      *int       `json:"bitrate_bps,omitempty"`
	SampleRateHz    *int       `json:"sample_rate_hz,omitempty"`
	Channels        *int       `json:"channels,omitempty"`
	// No nullzero here: a zero-byte file is a legal size and the column is
	// NOT NULL.
	FilesizeBytes   int64      `json:"filesize_bytes"`
	FileModifiedAt  time.Time  `json:"file_modified_at"`
	ExternalID      *string    `json:"external_id,omitempty"`
}

// ItemKindForLibrary maps a library kind to the item kind its files produce.
func ItemKindForLibrary(libraryKind string) string {
	switch libraryKind {
	case LibraryKindAudio:
		return ItemKindTrack
	case LibraryKindVideo:
		return ItemKindMovie
	case LibraryKindAudiobook:
		return ItemKindChapter
	default:
		return ItemKindTrack
	}
}
