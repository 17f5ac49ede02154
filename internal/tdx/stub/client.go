// Package stub provides a scripted in-memory tdx.Client for tests.
package stub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tdx-datafeed/internal/domain"
	"tdx-datafeed/internal/tdx"
)

// ErrConnectRefused simulates a TCP-level connect failure.
var ErrConnectRefused = errors.New("stub: connection refused")

// Backend is the shared scripted server state. All clients created by the
// same backend's Dialer read from it, so tests can model a fleet of
// interchangeable servers serving identical data.
type Backend struct {
	mu sync.Mutex

	// History holds ascending bars per "market:code".
	History map[string][]tdx.RawBar

	// Securities holds the listed instruments per market.
	Securities map[int][]domain.Security

	// Quotes holds the scripted snapshot per "market:code".
	Quotes map[string]domain.Quote

	// FailHosts lists hosts whose Connect always fails.
	FailHosts map[string]bool

	// ConnectDelay is applied inside Connect before answering.
	ConnectDelay time.Duration

	// BarsErr, when set, is returned by every SecurityBars call.
	BarsErr error

	// BarsDelay is applied inside SecurityBars before answering.
	BarsDelay time.Duration

	// BarsCalls counts SecurityBars invocations, per host.
	BarsCalls map[string]int

	// BarsOffsets records the start offset of each SecurityBars call in
	// invocation order.
	BarsOffsets []int
}

// NewBackend creates an empty scripted backend.
func NewBackend() *Backend {
	return &Backend{
		History:    make(map[string][]tdx.RawBar),
		Securities: make(map[int][]domain.Security),
		Quotes:     make(map[string]domain.Quote),
		FailHosts:  make(map[string]bool),
		BarsCalls:  make(map[string]int),
	}
}

// LoadHistory installs ascending bars for an instrument.
func (b *Backend) LoadHistory(market int, code string, bars []tdx.RawBar) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.History[symbolKey(market, code)] = bars
}

// GenerateHistory installs n synthetic daily bars for an instrument, oldest
// first, starting at the given date.
func (b *Backend) GenerateHistory(market int, code string, n int, start time.Time) {
	bars := make([]tdx.RawBar, n)
	for i := range bars {
		ts := start.AddDate(0, 0, i)
		price := 10.0 + float64(i%50)*0.1
		bars[i] = tdx.RawBar{
			Datetime: ts.Format("2006-01-02 15:04"),
			Open:     price,
			High:     price + 0.2,
			Low:      price - 0.2,
			Close:    price + 0.1,
			Volume:   1000 + float64(i),
			Amount:   10000 + float64(i)*10,
		}
	}
	b.LoadHistory(market, code, bars)
}

// SetBarsErr changes the forced SecurityBars error while clients may be
// active.
func (b *Backend) SetBarsErr(err error) {
	b.mu.Lock()
	b.BarsErr = err
	b.mu.Unlock()
}

// TotalBarsCalls returns the number of SecurityBars calls across all hosts.
func (b *Backend) TotalBarsCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, n := range b.BarsCalls {
		total += n
	}
	return total
}

// Dialer returns a tdx.Dialer producing clients bound to this backend.
func (b *Backend) Dialer() tdx.Dialer {
	return func() tdx.Client {
		return &Client{backend: b}
	}
}

func symbolKey(market int, code string) string {
	return fmt.Sprintf("%d:%s", market, code)
}

// Client implements tdx.Client against a Backend.
type Client struct {
	backend   *Backend
	host      string
	port      int
	connected bool
}

// Connect binds the client to a host. Fails for hosts listed in FailHosts.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	c.backend.mu.Lock()
	refused := c.backend.FailHosts[host]
	delay := c.backend.ConnectDelay
	c.backend.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if refused {
		return fmt.Errorf("connect %s:%d: %w", host, port, ErrConnectRefused)
	}
	c.host = host
	c.port = port
	c.connected = true
	return nil
}

// Disconnect clears the session.
func (c *Client) Disconnect() error {
	c.connected = false
	return nil
}

// Ping reports liveness of the scripted session.
func (c *Client) Ping(_ context.Context) error {
	if !c.connected {
		return tdx.ErrNotConnected
	}
	return nil
}

// SecurityCount returns the scripted instrument count for a market.
func (c *Client) SecurityCount(_ context.Context, market int) (int, error) {
	if !c.connected {
		return 0, tdx.ErrNotConnected
	}
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	return len(c.backend.Securities[market]), nil
}

// SecurityList returns one page of scripted instruments.
func (c *Client) SecurityList(_ context.Context, market, start int) ([]domain.Security, error) {
	if !c.connected {
		return nil, tdx.ErrNotConnected
	}
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	all := c.backend.Securities[market]
	if start >= len(all) {
		return nil, nil
	}
	end := start + tdx.SecurityListPageSize
	if end > len(all) {
		end = len(all)
	}
	page := make([]domain.Security, end-start)
	copy(page, all[start:end])
	return page, nil
}

// SecurityBars serves one backwards-offset page out of the scripted history.
// Offset 0 is the newest page; pages are returned ascending within the page.
func (c *Client) SecurityBars(ctx context.Context, _ domain.Period, market int, code string, start, count int) ([]tdx.RawBar, error) {
	if !c.connected {
		return nil, tdx.ErrNotConnected
	}

	c.backend.mu.Lock()
	c.backend.BarsCalls[c.host]++
	c.backend.BarsOffsets = append(c.backend.BarsOffsets, start)
	history := c.backend.History[symbolKey(market, code)]
	forced := c.backend.BarsErr
	delay := c.backend.BarsDelay
	c.backend.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if forced != nil {
		return nil, forced
	}

	hi := len(history) - start
	if hi <= 0 {
		return nil, nil
	}
	lo := hi - count
	if lo < 0 {
		lo = 0
	}
	page := make([]tdx.RawBar, hi-lo)
	copy(page, history[lo:hi])
	return page, nil
}

// SecurityQuotes returns scripted snapshots for the requested symbols,
// skipping unknown ones.
func (c *Client) SecurityQuotes(_ context.Context, symbols []tdx.SymbolRef) ([]domain.Quote, error) {
	if !c.connected {
		return nil, tdx.ErrNotConnected
	}
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()

	var out []domain.Quote
	for _, s := range symbols {
		if q, ok := c.backend.Quotes[symbolKey(s.Market, s.Code)]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}
