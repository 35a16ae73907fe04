// Package mediafile extracts a normalized metadata record from a media file.
//
// Embedded tags are read with dhowden/tag; technical parameters (duration,
// codec, bitrate) come from an ffprobe subprocess. Both are best-effort: a
// corrupt file, an unsupported codec, or a missing ffprobe binary degrades to
// a record derived from the filename and filesystem stat, never an error.
package mediafile

import (
	"fmt"
	"strings"
	"time"
)

const (
	// SourceTags marks a record whose descriptive fields came from embedded
	// tags; SourceFilename marks the filename/stat fallback.
	SourceTags     = "tags"
	SourceFilename = "filename"
)

// Metadata is the normalized per-file record consumed by the scan
// orchestrator. Pointer fields are nil when the value could not be
// determined.
type Metadata struct {
	Title          string
	Creator        string
	ContainerTitle string
	Position       *int
	Year           *int
	Genre          string

	DurationSeconds *float64
	Codec           *string
	BitrateBps      *int
	SampleRateHz    *int
	Channels        *int

	FilesizeBytes  int64
	FileModifiedAt time.Time

	CoverMimeType string
	CoverData     []byte
	ExternalID    string

	Source string
}

func (m *Metadata) String() string {
	duration := "unknown"
	if m.DurationSeconds != nil {
		duration = fmt.Sprintf("%.1fs", *m.DurationSeconds)
	}
	return fmt.Sprintf("Title: %s / Creator: %s / Container: %s / Duration: %s / Source: %s",
		m.Title, m.Creator, m.ContainerTitle, duration, m.Source)
}

// CoverExtension maps the embedded cover's mime type to a file extension.
func (m *Metadata) CoverExtension() string {
	switch m.CoverMimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	}
	return ""
}

// HasCover reports whether an embedded cover image was found.
func (m *Metadata) HasCover() bool {
	return len(m.CoverData) > 0 && m.CoverMimeType != ""
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
