// Package catalog assembles the candidate server list from the built-in
// fallback set and optional remote host-list sources.
package catalog

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"tdx-datafeed/internal/domain"
)

// Default configuration values.
const (
	DefaultSourceTimeout = 5 * time.Second
	DefaultMaxServers    = 200
)

// Catalog loads candidate endpoints. The built-in list is always included;
// remote sources are merged in best-effort.
type Catalog struct {
	sources       []string
	client        *http.Client
	sourceTimeout time.Duration
	maxServers    int
	remoteEnabled bool
	logger        *log.Logger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithRemoteSources sets the remote host-list URLs and enables remote loading.
func WithRemoteSources(urls ...string) Option {
	return func(c *Catalog) {
		c.sources = urls
		c.remoteEnabled = len(urls) > 0
	}
}

// WithSourceTimeout sets the per-source fetch timeout.
func WithSourceTimeout(d time.Duration) Option {
	return func(c *Catalog) {
		c.sourceTimeout = d
	}
}

// WithMaxServers caps the size of the returned candidate set.
func WithMaxServers(n int) Option {
	return func(c *Catalog) {
		c.maxServers = n
	}
}

// WithHTTPClient sets a custom http.Client for remote fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Catalog) {
		c.client = client
	}
}

// WithLogger sets the catalog logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Catalog) {
		c.logger = l
	}
}

// New creates a Catalog. Without WithRemoteSources it loads the built-in
// list only.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		client:        &http.Client{},
		sourceTimeout: DefaultSourceTimeout,
		maxServers:    DefaultMaxServers,
		logger:        log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load returns the deduplicated candidate set: built-in endpoints first (in
// tier order), then whatever the remote sources yielded, capped at
// maxServers. A remote source that times out, errors, or parses to zero
// valid entries never aborts the load.
func (c *Catalog) Load(ctx context.Context) []domain.Endpoint {
	var out []domain.Endpoint
	seen := make(map[string]bool)

	add := func(eps []domain.Endpoint) {
		for _, ep := range eps {
			if len(out) >= c.maxServers {
				return
			}
			if !ValidIPv4(ep.Host) || ep.Port <= 0 || ep.Port > 65535 {
				continue
			}
			if seen[ep.Key()] {
				continue
			}
			seen[ep.Key()] = true
			out = append(out, ep)
		}
	}

	add(builtinEndpoints)

	if c.remoteEnabled {
		for _, url := range c.sources {
			eps, err := c.fetchSource(ctx, url)
			if err != nil {
				c.logger.Printf("catalog: source %s skipped: %v", url, err)
				continue
			}
			add(eps)
		}
	}

	return out
}

// fetchSource retrieves and parses one remote host list.
func (c *Catalog) fetchSource(ctx context.Context, url string) ([]domain.Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, c.sourceTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	eps := ParseEndpoints(body)
	if len(eps) == 0 {
		return nil, fmt.Errorf("no valid entries")
	}
	return eps, nil
}
