package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Container groups ordered media items: an album for audio libraries, a series
// for video libraries, an audiobook for audiobook libraries. Containers are
// created lazily the first time a member item needs one and are keyed by
// (library_id, title, creator) for upsert deduplication.
type Container struct {
	bun.BaseModel `bun:"table:containers,alias:c"`

	ID             int                `bun:",pk,nullzero" json:"id"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	LibraryID      int                `bun:",nullzero" json:"library_id"`
	Title          string             `bun:",nullzero" json:"title"`
	Creator        *string            `json:"creator,omitempty"`
	Year           *int               `json:"year,omitempty"`
	ExternalID     *string            `json:"external_id,omitempty"`
	ArtworkURL     *string            `json:"artwork_url,omitempty"`
	CoverImagePath *string            `json:"cover_image_path,omitempty"`
	Persons        []*ContainerPerson `bun:"rel:has-many,join:id=container_id" json:"persons,omitempty"`
	Items          []*MediaItem       `bun:"rel:has-many,join:id=container_id" json:"items,omitempty"`
}

const (
	PersonRoleArtist   = "artist"
	PersonRoleAuthor   = "author"
	PersonRoleNarrator = "narrator"
	PersonRoleDirector = "director"
)

type ContainerPerson struct {
	bun.BaseModel `bun:"table:container_persons,alias:cp"`

	ID          int     `bun:",pk,nullzero" json:"id"`
	ContainerID int     `bun:",nullzero" json:"container_id"`
	PersonID    int     `bun:",nullzero" json:"person_id"`
	Person      *Person `bun:"rel:belongs-to,join:person_id=id" json:"person,omitempty"`
	Role        string  `bun:",nullzero" json:"role"`
	SortOrder   int     `json:"sort_order"`
}
