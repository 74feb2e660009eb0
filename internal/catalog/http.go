package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// UpstreamError reports a discovery failure at the remote listing site.
type UpstreamError struct {
	URL string
	Err error
}

func (e *UpstreamError) Error() string { return fmt.Sprintf("catalog upstream %s: %v", e.URL, e.Err) }
func (e *UpstreamError) Unwrap() error { return e.Err }

// Catalog produces content items matching a filter. Discovery has no side
// effects; callers decide what to do with the result.
type Catalog interface {
	Discover(ctx context.Context, filter Filter) ([]ContentItem, error)
}

const defaultListingTimeout = 20 * time.Second

var listingPaths = map[Kind]string{
	KindVideo: "/topvideos",
	KindImage: "/topimages",
	KindFile:  "/topfiles",
}

// Client discovers items by scanning the per-kind top listing pages.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultListingTimeout},
	}
}

// Discover fetches the listing page for each requested kind, extracts the
// entries and applies the size filter. A failed page fails the whole
// discovery; partial listings would silently hide content.
func (c *Client) Discover(ctx context.Context, filter Filter) ([]ContentItem, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	var items []ContentItem
	for _, kind := range filter.Kinds {
		page, err := c.fetchListing(ctx, kind, filter.Period)
		if err != nil {
			return nil, err
		}
		found := c.parseListing(page, kind, filter)
		log.Debug().Str("kind", string(kind)).Int("items", len(found)).Msg("listing parsed")
		items = append(items, found...)
	}
	return items, nil
}

func (c *Client) fetchListing(ctx context.Context, kind Kind, period string) (string, error) {
	listingURL := fmt.Sprintf("%s%s?lapse=%s", c.baseURL, listingPaths[kind], url.QueryEscape(period))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listingURL, nil)
	if err != nil {
		return "", &UpstreamError{URL: listingURL, Err: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", &UpstreamError{URL: listingURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &UpstreamError{URL: listingURL, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &UpstreamError{URL: listingURL, Err: err}
	}
	return string(body), nil
}

// Listing entries carry an href, a file name and a size label. The pages are
// simple enough that an anchor scan is sufficient; there is no need for a
// full HTML tree.
var entryRe = regexp.MustCompile(
	`<a[^>]+href="([^"]+)"[^>]*>\s*([^<]+?)\s*</a>[^<]*<[^>]*>\s*([\d.]+\s*[KMGT]?B)`)

func (c *Client) parseListing(page string, kind Kind, filter Filter) []ContentItem {
	now := time.Now().UTC()
	var items []ContentItem
	for _, m := range entryRe.FindAllStringSubmatch(page, -1) {
		size := ParseSize(m[3])
		if !filter.Allows(kind, size) {
			continue
		}
		href := m[1]
		if strings.HasPrefix(href, "/") {
			href = c.baseURL + href
		}
		items = append(items, ContentItem{
			URL:        href,
			Name:       strings.TrimSpace(m[2]),
			Kind:       kind,
			SizeBytes:  size,
			ObservedAt: now,
		})
	}
	return items
}
