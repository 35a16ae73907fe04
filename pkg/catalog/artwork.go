package catalog

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"

	"github.com/medleyhq/medley/pkg/ratelimit"
	"github.com/medleyhq/medley/pkg/respcache"
)

const (
	// artworkRetryBudget is the number of attempts for a single artwork
	// lookup; transient failures back off linearly between attempts.
	artworkRetryBudget = 3
	// DefaultArtworkBackoff is the base delay between artwork retries; the
	// second retry waits twice this, and so on.
	DefaultArtworkBackoff = 2 * time.Second
)

// ErrNoArtwork indicates the artwork catalog has no front cover for the
// release.
var ErrNoArtwork = errors.New("no front cover for release")

type artworkResponse struct {
	Images []artworkImage `json:"images"`
}

type artworkImage struct {
	Front bool   `json:"front"`
	Image string `json:"image"`
}

// ArtworkClientOptions configures an artwork catalog client. Limiter and
// Cache are the same shared instances the primary client uses.
type ArtworkClientOptions struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// Backoff overrides the base retry delay; zero means
	// DefaultArtworkBackoff.
	Backoff time.Duration
	Limiter *ratelimit.Interval
	Cache   *respcache.Cache
}

// ArtworkClient fetches cover art URLs by release ID. Unlike the primary
// catalog, transient failures here are retried: artwork is a nicety, and the
// artwork catalog in particular sheds load with 503s that resolve on their
// own.
type ArtworkClient struct {
	baseURL   string
	userAgent string
	backoff   time.Duration
	http      *http.Client
	limiter   *ratelimit.Interval
	cache     *respcache.Cache
}

func NewArtworkClient(opts ArtworkClientOptions) *ArtworkClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	backoff := opts.Backoff
	if backoff == 0 {
		backoff = DefaultArtworkBackoff
	}
	return &ArtworkClient{
		baseURL:   opts.BaseURL,
		userAgent: opts.UserAgent,
		backoff:   backoff,
		http:      &http.Client{Timeout: timeout},
		limiter:   opts.Limiter,
		cache:     opts.Cache,
	}
}

// CoverURL returns the front cover URL for a release, upgraded to https when
// the catalog hands back an insecure scheme. ErrNoArtwork means the release
// exists but has no usable front image.
func (a *ArtworkClient) CoverURL(ctx context.Context, releaseID string) (string, error) {
	path := a.baseURL + "/release/" + url.PathEscape(releaseID)

	payload, err := a.getWithRetry(ctx, path)
	if err != nil {
		return "", err
	}

	var resp artworkResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return "", errors.WithStack(err)
	}

	for _, img := range resp.Images {
		if img.Front && img.Image != "" {
			return upgradeScheme(img.Image), nil
		}
	}
	return "", errors.WithStack(ErrNoArtwork)
}

func (a *ArtworkClient) getWithRetry(ctx context.Context, path string) ([]byte, error) {
	key := respcache.Key(path, url.Values{})
	if payload := a.cache.Get(key); payload != nil {
		return payload, nil
	}

	log := logger.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= artworkRetryBudget; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * a.backoff
			log.Data(logger.Data{"attempt": attempt, "delay": delay.String()}).Info("retrying artwork lookup")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, errors.WithStack(ctx.Err())
			}
		}

		payload, retryable, err := a.get(ctx, path)
		if err == nil {
			a.cache.Set(key, payload)
			return payload, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

// get performs one attempt. The second return value reports whether the
// failure is transient (timeout, 503, 429) and worth another attempt.
func (a *ArtworkClient) get(ctx context.Context, path string) ([]byte, bool, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, false, errors.WithStack(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, false, errors.WithStack(err)
	}
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.http.Do(req)
	if err != nil {
		// Client-side errors here are timeouts or connection resets.
		return nil, true, errors.WithStack(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return nil, true, errors.Errorf("artwork catalog returned status %s", resp.Status)
	default:
		return nil, false, errors.Errorf("artwork catalog returned status %s", resp.Status)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, errors.WithStack(err)
	}
	return payload, false, nil
}

func upgradeScheme(u string) string {
	if strings.HasPrefix(u, "http://") {
		return "https://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
