package mediafile

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
	"github.com/robinjoseph08/golib/logger"

	"github.com/medleyhq/medley/pkg/models"
)

// Embedded external-identifier tags recognized in raw tag maps, in priority
// order.
var externalIDTagNames = []string{
	"MUSICBRAINZ_ALBUMID",
	"MusicBrainz Album Id",
	"ASIN",
}

// Leading "01 - ", "01.", "01_" style ordering prefixes on filenames.
var filenamePositionRE = regexp.MustCompile(`^(\d{1,3})[ ._-]+(.+)$`)

type Extractor struct {
	prober *Prober
}

func NewExtractor(prober *Prober) *Extractor {
	return &Extractor{prober: prober}
}

// Extract returns the best-effort metadata record for the file. It never
// returns an error: every failure along the way degrades to whatever could
// still be determined, ultimately the filename and file size.
func (e *Extractor) Extract(ctx context.Context, path string, libraryKind string) *Metadata {
	log := logger.FromContext(ctx).Data(logger.Data{"path": path})

	meta := &Metadata{Source: SourceFilename}
	e.fillFromFilename(meta, path)

	if stat, err := os.Stat(path); err == nil {
		meta.FilesizeBytes = stat.Size()
		meta.FileModifiedAt = stat.ModTime()
	} else {
		log.Warn("stat failed during extraction", logger.Data{"err": err.Error()})
	}

	if libraryKind != models.LibraryKindVideo {
		e.fillFromTags(log, meta, path)
	}

	// Technical parameters come from ffprobe for every kind. Probe failure
	// (missing binary, corrupt file, timeout) leaves the technical fields
	// nil; the byte size above stays accurate.
	if info, err := e.prober.Probe(ctx, path); err != nil {
		log.Warn("probe failed; technical fields unavailable", logger.Data{"err": err.Error()})
	} else {
		meta.DurationSeconds = info.DurationSeconds
		meta.Codec = info.Codec
		meta.BitrateBps = info.BitrateBps
		meta.SampleRateHz = info.SampleRateHz
		meta.Channels = info.Channels
	}

	return meta
}

func (e *Extractor) fillFromTags(log logger.Logger, meta *Metadata, path string) {
	f, err := os.Open(path)
	if err != nil {
		log.Warn("can't open file for tag parsing", logger.Data{"err": err.Error()})
		return
	}
	defer f.Close()

	tags, err := tag.ReadFrom(f)
	if err != nil {
		// Unparsable tags are a soft failure; the filename-derived fields
		// already populated stand.
		log.Warn("tag parse failed; falling back to filename", logger.Data{"err": err.Error()})
		return
	}

	meta.Source = SourceTags
	meta.Title = nonEmpty(tags.Title(), meta.Title)
	meta.Creator = nonEmpty(tags.Artist(), tags.AlbumArtist(), meta.Creator)
	meta.ContainerTitle = strings.TrimSpace(tags.Album())
	meta.Genre = strings.TrimSpace(tags.Genre())

	if n, _ := tags.Track(); n > 0 {
		meta.Position = &n
	}
	if y := tags.Year(); y > 0 {
		meta.Year = &y
	}
	if pic := tags.Picture(); pic != nil && len(pic.Data) > 0 {
		meta.CoverMimeType = pic.MIMEType
		meta.CoverData = pic.Data
	}

	raw := tags.Raw()
	for _, name := range externalIDTagNames {
		if v, ok := raw[name]; ok {
			if s, ok := v.(string); ok && s != "" {
				meta.ExternalID = s
				break
			}
		}
	}
}

// fillFromFilename derives a title and, when the filename carries a leading
// ordinal prefix, a position. "03 - A Short Rest.mp3" yields position 3 and
// title "A Short Rest".
func (e *Extractor) fillFromFilename(meta *Metadata, path string) {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	if matches := filenamePositionRE.FindStringSubmatch(name); matches != nil {
		if n, err := strconv.Atoi(matches[1]); err == nil && n > 0 {
			meta.Position = &n
			name = matches[2]
		}
	}

	meta.Title = strings.TrimSpace(name)
}
