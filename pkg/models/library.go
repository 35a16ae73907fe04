package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	LibraryKindAudio     = "audio"
	LibraryKindVideo     = "video"
	LibraryKindAudiobook = "audiobook"
)

// LibraryKinds lists every media kind a library can be configured with. The
// worker starts one scan worker per entry.
var LibraryKinds = []string{LibraryKindAudio, LibraryKindVideo, LibraryKindAudiobook}

type Library struct {
	bun.BaseModel `bun:"table:libraries,alias:l"`

	ID            int            `bun:",pk,nullzero" json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Name          string         `bun:",nullzero" json:"name"`
	Kind          string         `bun:",nullzero" json:"kind"`
	LastScannedAt *time.Time     `json:"last_scanned_at,omitempty"`
	LibraryPaths  []*LibraryPath `bun:"rel:has-many" json:"library_paths,omitempty"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
}

type LibraryPath struct {
	bun.BaseModel `bun:"table:library_paths,alias:lp"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	LibraryID int       `bun:",nullzero" json:"library_id"`
	Filepath  string    `bun:",nullzero" json:"filepath"`
}
