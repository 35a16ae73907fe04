// Package catalog talks to the external reference catalogs used to resolve
// local containers to canonical entries: a primary catalog (search and
// fetch-by-id) and an artwork catalog (cover lookups by release ID).
//
// Every request goes through the shared rate limiter and the response cache,
// so callers never need to coordinate etiquette between themselves.
package catalog

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"

	"github.com/medleyhq/medley/pkg/ratelimit"
	"github.com/medleyhq/medley/pkg/respcache"
)

// DefaultTimeout is the hard cap on any single catalog request.
const DefaultTimeout = 30 * time.Second

// Release is a candidate entry returned by the primary catalog.
type Release struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Creator string `json:"creator"`
	Year    *int   `json:"year"`
}

type searchResponse struct {
	Releases []Release `json:"releases"`
}

// ClientOptions configures a primary catalog client. Limiter and Cache are
// required; they are shared with every other catalog caller in the process.
type ClientOptions struct {
	BaseURL   string
	UserAgent string
	// Secret, when set, enables request signing.
	Secret  string
	Timeout time.Duration
	Limiter *ratelimit.Interval
	Cache   *respcache.Cache
}

// Client queries the primary reference catalog. Errors from the catalog are
// returned as-is to the caller; there is no retry here, a failed lookup just
// leaves the container unmatched.
type Client struct {
	baseURL   string
	userAgent string
	secret    string
	http      *http.Client
	limiter   *ratelimit.Interval
	cache     *respcache.Cache
}

func NewClient(opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:   opts.BaseURL,
		userAgent: opts.UserAgent,
		secret:    opts.Secret,
		http:      &http.Client{Timeout: timeout},
		limiter:   opts.Limiter,
		cache:     opts.Cache,
	}
}

// SearchReleases returns candidate releases for a title/creator pair. The
// year, when known, is passed along so the catalog can narrow its results.
func (c *Client) SearchReleases(ctx context.Context, title, creator string, year *int) ([]Release, error) {
	params := url.Values{}
	params.Set("title", title)
	if creator != "" {
		params.Set("creator", creator)
	}
	if year != nil {
		params.Set("year", strconv.Itoa(*year))
	}

	var resp searchResponse
	if err := c.get(ctx, "/releases/search", params, &resp); err != nil {
		return nil, err
	}
	return resp.Releases, nil
}

// GetRelease fetches a single release by its catalog identifier.
func (c *Client) GetRelease(ctx context.Context, id string) (*Release, error) {
	var release Release
	if err := c.get(ctx, "/releases/"+url.PathEscape(id), url.Values{}, &release); err != nil {
		return nil, err
	}
	return &release, nil
}

// get performs a cached, rate-limited GET against the catalog and decodes the
// JSON payload into out. The cache key is computed before signing, so a
// signed and unsigned deployment cache identically.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	key := respcache.Key(c.baseURL+path, params)
	if payload := c.cache.Get(key); payload != nil {
		return errors.WithStack(json.Unmarshal(payload, out))
	}

	if c.secret != "" {
		params.Set("signature", sign(params, c.secret))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.WithStack(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WithStack(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.WithStack(fmt.Errorf("catalog returned status %s", resp.Status))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WithStack(err)
	}

	c.cache.Set(key, payload)

	return errors.WithStack(json.Unmarshal(payload, out))
}

// sign produces the deterministic request signature: the md5 hex digest of
// the key=value pairs concatenated in key order, followed by the shared
// secret. Parameter insertion order never affects the result.
func sign(params url.Values, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := md5.New()
	for _, k := range keys {
		io.WriteString(h, k+"="+params.Get(k))
	}
	io.WriteString(h, secret)
	return hex.EncodeToString(h.Sum(nil))
}
