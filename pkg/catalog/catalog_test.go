package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medleyhq/medley/pkg/ratelimit"
	"github.com/medleyhq/medley/pkg/respcache"
)

func testLimiter() *ratelimit.Interval {
	return ratelimit.NewInterval(time.Millisecond)
}

func newTestClient(serverURL, secret string) *Client {
	return NewClient(ClientOptions{
		BaseURL:   serverURL,
		UserAgent: "medley-test/1.0",
		Secret:    secret,
		Limiter:   testLimiter(),
		Cache:     respcache.New(respcache.DefaultTTL),
	})
}

func TestSignIsDeterministic(t *testing.T) {
	a := url.Values{}
	a.Set("title", "The Hobbit")
	a.Set("creator", "J.R.R. Tolkien")
	a.Set("year", "1937")

	b := url.Values{}
	b.Set("year", "1937")
	b.Set("creator", "J.R.R. Tolkien")
	b.Set("title", "The Hobbit")

	sigA := sign(a, "sekrit")
	sigB := sign(b, "sekrit")

	assert.Equal(t, sigA, sigB)
	assert.Len(t, sigA, 32)
	assert.NotEqual(t, sigA, sign(a, "other-secret"))
}

func TestSearchReleasesSendsSignatureAndUserAgent(t *testing.T) {
	var gotUA string
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"releases":[{"id":"rel-1","title":"The Hobbit","creator":"J.R.R. Tolkien","year":1937}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "sekrit")
	year := 1937
	releases, err := client.SearchReleases(context.Background(), "The Hobbit", "J.R.R. Tolkien", &year)
	require.NoError(t, err)
	require.Len(t, releases, 1)
	assert.Equal(t, "rel-1", releases[0].ID)

	assert.Equal(t, "medley-test/1.0", gotUA)

	expected := url.Values{}
	expected.Set("title", "The Hobbit")
	expected.Set("creator", "J.R.R. Tolkien")
	expected.Set("year", "1937")
	assert.Equal(t, sign(expected, "sekrit"), gotQuery.Get("signature"))
}

func TestSearchReleasesCachesResponses(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"releases":[{"id":"rel-9","title":"Dune","creator":"Frank Herbert"}]}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	ctx := context.Background()

	first, err := client.SearchReleases(ctx, "Dune", "Frank Herbert", nil)
	require.NoError(t, err)
	second, err := client.SearchReleases(ctx, "Dune", "Frank Herbert", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
}

func TestSearchReleasesPropagatesCatalogErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	_, err := client.SearchReleases(context.Background(), "Dune", "", nil)
	assert.Error(t, err)
}

func TestGetRelease(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/releases/rel-42", r.URL.Path)
		w.Write([]byte(`{"id":"rel-42","title":"Heat","year":1995}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL, "")
	release, err := client.GetRelease(context.Background(), "rel-42")
	require.NoError(t, err)
	assert.Equal(t, "Heat", release.Title)
	require.NotNil(t, release.Year)
	assert.Equal(t, 1995, *release.Year)
}

func newTestArtworkClient(serverURL string) *ArtworkClient {
	return NewArtworkClient(ArtworkClientOptions{
		BaseURL:   serverURL,
		UserAgent: "medley-test/1.0",
		Backoff:   time.Millisecond,
		Limiter:   testLimiter(),
		Cache:     respcache.New(respcache.DefaultTTL),
	})
}

func TestCoverURLRetriesTransientFailures(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"images":[{"front":false,"image":"http://img.example.com/back.jpg"},{"front":true,"image":"http://img.example.com/front.jpg"}]}`))
	}))
	defer server.Close()

	coverURL, err := newTestArtworkClient(server.URL).CoverURL(context.Background(), "rel-1")
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	assert.Equal(t, "https://img.example.com/front.jpg", coverURL)
}

func TestCoverURLGivesUpAfterRetryBudget(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestArtworkClient(server.URL).CoverURL(context.Background(), "rel-1")
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestCoverURLDoesNotRetryPermanentFailures(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestArtworkClient(server.URL).CoverURL(context.Background(), "rel-1")
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCoverURLNoFrontImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"images":[{"front":false,"image":"https://img.example.com/back.jpg"}]}`))
	}))
	defer server.Close()

	_, err := newTestArtworkClient(server.URL).CoverURL(context.Background(), "rel-1")
	assert.ErrorIs(t, err, ErrNoArtwork)
}

func TestMatcherAcceptsExactMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"releases":[
			{"id":"rel-1","title":"The Hobbit","creator":"J.R.R. Tolkien","year":1937},
			{"id":"rel-2","title":"The Hobbit Companion","creator":"David Day"}
		]}`))
	}))
	defer server.Close()

	matcher := NewMatcher(newTestClient(server.URL, ""), 0)
	year := 1937
	match, err := matcher.Match(context.Background(), "The Hobbit", "J.R.R. Tolkien", &year)
	require.NoError(t, err)

	assert.Equal(t, "rel-1", match.Release.ID)
	assert.GreaterOrEqual(t, match.Confidence, DefaultConfidenceFloor)
}

func TestMatcherNormalizesNames(t *testing.T) {
	// Punctuation differences in the creator should not block a match.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"releases":[{"id":"rel-1","title":"The Hobbit","creator":"JRR Tolkien"}]}`))
	}))
	defer server.Close()

	matcher := NewMatcher(newTestClient(server.URL, ""), 0)
	match, err := matcher.Match(context.Background(), "The Hobbit", "J.R.R. Tolkien", nil)
	require.NoError(t, err)
	assert.Equal(t, "rel-1", match.Release.ID)
}

func TestMatcherRejectsBelowFloor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"releases":[{"id":"rel-1","title":"Completely Unrelated Cookbook","creator":"Somebody Else"}]}`))
	}))
	defer server.Close()

	matcher := NewMatcher(newTestClient(server.URL, ""), 0)
	_, err := matcher.Match(context.Background(), "The Hobbit", "J.R.R. Tolkien", nil)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestMatcherYearBonusBreaksTies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"releases":[
			{"id":"reissue","title":"The Hobbit","creator":"J.R.R. Tolkien","year":1997},
			{"id":"original","title":"The Hobbit","creator":"J.R.R. Tolkien","year":1937}
		]}`))
	}))
	defer server.Close()

	matcher := NewMatcher(newTestClient(server.URL, ""), 0)
	year := 1937
	match, err := matcher.Match(context.Background(), "The Hobbit", "J.R.R. Tolkien", &year)
	require.NoError(t, err)
	assert.Equal(t, "original", match.Release.ID)
}

func TestMatcherNoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"releases":[]}`))
	}))
	defer server.Close()

	matcher := NewMatcher(newTestClient(server.URL, ""), 0)
	_, err := matcher.Match(context.Background(), "The Hobbit", "", nil)
	assert.ErrorIs(t, err, ErrNoMatch)
}
