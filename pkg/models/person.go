package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Person is an artist, author, or narrator. Deduplicated per library by
// NormalizedName (see pkg/namenorm), so "J.R.R. Tolkien" and "j.r.r. tolkien"
// resolve to the same row.
type Person struct {
	bun.BaseModel `bun:"table:persons,alias:p"`

	ID             int       `bun:",pk,nullzero" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LibraryID      int       `bun:",nullzero" json:"library_id"`
	Name           string    `bun:",nullzero" json:"name"`
	NormalizedName string    `bun:",nullzero" json:"normalized_name"`
	ExternalID     *string   `json:"external_id,omitempty"`
}
