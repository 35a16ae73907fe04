package catalog

import (
	"context"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/pkg/errors"

	"github.com/medleyhq/medley/pkg/namenorm"
)

// DefaultConfidenceFloor is the minimum score for an automatic match.
const DefaultConfidenceFloor = 0.85

// exactYearBonus rewards candidates whose release year matches the local
// container's year exactly.
const exactYearBonus = 0.1

// ErrNoMatch means no candidate cleared the confidence floor. The container
// stays unmatched and waits for manual resolution; this is an expected
// outcome, not a fault.
var ErrNoMatch = errors.New("no confident catalog match")

// Match is the accepted candidate plus the score that justified accepting
// it.
type Match struct {
	Release    Release
	Confidence float64
}

// Matcher ranks primary-catalog candidates against a local container and
// accepts the best one only when its score clears the floor.
type Matcher struct {
	client *Client
	floor  float64
	metric strutil.StringMetric
}

func NewMatcher(client *Client, floor float64) *Matcher {
	if floor == 0 {
		floor = DefaultConfidenceFloor
	}
	return &Matcher{
		client: client,
		floor:  floor,
		metric: metrics.NewJaroWinkler(),
	}
}

// Match searches the catalog and scores each candidate. It returns ErrNoMatch
// when the best candidate is below the floor; any other error is a catalog
// failure.
func (m *Matcher) Match(ctx context.Context, title, creator string, year *int) (*Match, error) {
	releases, err := m.client.SearchReleases(ctx, title, creator, year)
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return nil, errors.WithStack(ErrNoMatch)
	}

	best := -1
	bestScore := 0.0
	for i := range releases {
		score := m.score(&releases[i], title, creator, year)
		if score > bestScore {
			best = i
			bestScore = score
		}
	}

	if best < 0 || bestScore < m.floor {
		return nil, errors.WithStack(ErrNoMatch)
	}

	return &Match{Release: releases[best], Confidence: bestScore}, nil
}

// score compares normalized names, so punctuation and case differences
// ("J.R.R. Tolkien" vs "JRR Tolkien") don't drag a correct candidate below
// the floor. When both sides carry a creator the title and creator
// similarities are averaged; the exact-year bonus is added on top, capped at
// 1.
func (m *Matcher) score(candidate *Release, title, creator string, year *int) float64 {
	score := strutil.Similarity(namenorm.Normalize(title), namenorm.Normalize(candidate.Title), m.metric)

	if creator != "" && candidate.Creator != "" {
		creatorScore := strutil.Similarity(namenorm.Normalize(creator), namenorm.Normalize(candidate.Creator), m.metric)
		score = (score + creatorScore) / 2
	}

	if year != nil && candidate.Year != nil && *year == *candidate.Year {
		score += exactYearBonus
	}
	if score > 1 {
		score = 1
	}
	return score
}
