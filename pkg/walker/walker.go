// Package walker enumerates candidate media files under a library root.
//
// Audio and audiobook libraries use a two-level grouping: each top-level
// subdirectory is one logical unit (album or book) and the files inside it are
// its ordered members. Video libraries are walked flat: every file is its own
// unit. Ordering within a group is a lexicographic sort on the path, which
// coincides with natural track/chapter order for well-named files; this is a
// documented heuristic, not a guarantee ("Chapter 10" still sorts before
// "Chapter 2").
package walker

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"

	"github.com/medleyhq/medley/pkg/models"
)

var extensionsByKind = map[string]map[string]struct{}{
	models.LibraryKindAudio: {
		".mp3": {}, ".flac": {}, ".m4a": {}, ".ogg": {}, ".opus": {}, ".wav": {}, ".aac": {},
	},
	models.LibraryKindVideo: {
		".mkv": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".webm": {},
	},
	models.LibraryKindAudiobook: {
		".m4b": {}, ".mp3": {}, ".m4a": {}, ".flac": {},
	},
}

// "<Creator> - <Title> (<Year>)" with creator and year both optional.
var dirNameRE = regexp.MustCompile(`^(?:(.+?) - )?(.+?)(?: \((\d{4})\))?$`)

// Group is one logical unit produced by a walk: an album, book, or single
// video file, with its member files in lexicographic order.
type Group struct {
	// Path is the group's directory, or the file itself for a single file
	// directly under the library root.
	Path    string
	Title   string
	Creator *string
	Year    *int
	Files   []string
}

type Result struct {
	Groups []Group
	// SoftErrors counts directories that could not be read (permissions,
	// transient IO). They are skipped, never fatal.
	SoftErrors int
}

// Walk enumerates the qualifying files under root for the given library kind.
// An unreadable root is a fatal error; unreadable subdirectories are counted
// as soft errors and skipped.
func Walk(baseLog logger.Logger, root string, kind string) (*Result, error) {
	log := baseLog.Data(logger.Data{"root": root, "kind": kind})

	result := &Result{}
	groupFiles := map[string][]string{}

	err := filepath.WalkDir(root, func(path string, info fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return errors.Wrap(err, "library root is unreadable")
			}
			log.Warn("skipping unreadable path", logger.Data{"path": path, "err": err.Error()})
			result.SoftErrors++
			if info != nil && info.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if !qualifies(log, path, kind) {
			return nil
		}

		key := groupKey(root, path, kind)
		groupFiles[key] = append(groupFiles[key], path)
		return nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	keys := make([]string, 0, len(groupFiles))
	for key := range groupFiles {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		files := groupFiles[key]
		sort.Strings(files)
		group := Group{Path: key, Files: files}
		group.Title, group.Creator, group.Year = ParseUnitName(unitName(key))
		result.Groups = append(result.Groups, group)
	}

	return result, nil
}

// qualifies applies the extension table for the kind and then verifies the
// detected mime type roughly agrees, so a renamed text file doesn't get
// scanned as media.
func qualifies(log logger.Logger, path string, kind string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := extensionsByKind[kind][ext]; !ok {
		return false
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		log.Warn("can't detect the mime type of a file with a valid extension", logger.Data{"path": path, "err": err.Error()})
		return false
	}

	detected := mtype.String()
	switch kind {
	case models.LibraryKindVideo:
		return strings.HasPrefix(detected, "video/")
	default:
		// m4a/m4b containers report as video/mp4 depending on branding.
		return strings.HasPrefix(detected, "audio/") || detected == "video/mp4"
	}
}

// groupKey maps a file to its logical unit. For grouped kinds that is the
// top-level subdirectory under root containing it; a file directly under root,
// or any file in a flat (video) library, is its own unit.
func groupKey(root, path, kind string) string {
	if kind == models.LibraryKindVideo {
		return path
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) == 1 {
		// Lone qualifying file directly under the library root.
		return path
	}
	return filepath.Join(root, parts[0])
}

// unitName returns the human-facing name of a unit: the directory basename,
// or the file basename without its extension when the unit is a lone file.
func unitName(key string) string {
	name := filepath.Base(key)
	ext := strings.ToLower(filepath.Ext(name))
	for _, table := range extensionsByKind {
		if _, ok := table[ext]; ok {
			return strings.TrimSuffix(name, filepath.Ext(name))
		}
	}
	return name
}

// ParseUnitName parses a unit (directory) name of the permissive form
// "<Creator> - <Title> (<Year>)" or "<Title> (<Year>)". A missing creator or
// year degrades to nil, never a failure.
func ParseUnitName(name string) (title string, creator *string, year *int) {
	name = strings.TrimSpace(name)
	matches := dirNameRE.FindStringSubmatch(name)
	if matches == nil {
		return name, nil, nil
	}

	if matches[1] != "" {
		c := strings.TrimSpace(matches[1])
		creator = &c
	}
	title = strings.TrimSpace(matches[2])
	if matches[3] != "" {
		if y, err := strconv.Atoi(matches[3]); err == nil {
			year = &y
		}
	}
	return title, creator, year
}

// MultiPart reports whether the group holds more than one ordered member.
func (g *Group) MultiPart() bool {
	return len(g.Files) >= 2
}
