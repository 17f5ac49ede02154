// Package tdx defines the client interface for the proprietary binary TCP
// market-data protocol. The wire format itself is opaque to this module; each
// upstream server is an interchangeable implementer of the same operations.
package tdx

import (
	"context"
	"errors"
	"time"

	"tdx-datafeed/internal/domain"
)

// MaxBarsPerRequest is the hard protocol cap on rows returned by a single
// SecurityBars call. Requests for more rows must be split into multiple
// offset pages.
const MaxBarsPerRequest = 800

// MaxQuotesPerRequest is the protocol cap on symbols per SecurityQuotes call.
const MaxQuotesPerRequest = 80

// SecurityListPageSize is the fixed page size of SecurityList responses.
const SecurityListPageSize = 1000

// Protocol-level errors.
var (
	// ErrNotConnected is returned by data calls on a disconnected client.
	ErrNotConnected = errors.New("tdx: client not connected")
	// ErrMalformedResponse is returned when a server reply fails to decode.
	ErrMalformedResponse = errors.New("tdx: malformed server response")
)

// RawBar is one undecoded candle as returned by the wire protocol before
// normalization. Datetime is the server-formatted time string; its format
// varies between servers and periods.
type RawBar struct {
	Datetime string
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Amount   float64
}

// Client is the black-box protocol handle bound to one server. Offsets in
// SecurityBars count backwards from the most recent bar: offset 0 is the
// newest page.
type Client interface {
	// Connect establishes the TCP session. Calling Connect on a connected
	// client is an error.
	Connect(ctx context.Context, host string, port int) error

	// Disconnect tears down the session. Safe to call when not connected.
	Disconnect() error

	// Ping performs a cheap liveness round trip.
	Ping(ctx context.Context) error

	// SecurityCount returns the number of listed instruments for a market.
	SecurityCount(ctx context.Context, market int) (int, error)

	// SecurityList returns one page of instruments starting at start.
	SecurityList(ctx context.Context, market, start int) ([]domain.Security, error)

	// SecurityBars returns at most count bars (count <= MaxBarsPerRequest)
	// for the instrument, starting at the given backwards offset.
	SecurityBars(ctx context.Context, category domain.Period, market int, code string, start, count int) ([]RawBar, error)

	// SecurityQuotes returns live snapshots for up to MaxQuotesPerRequest
	// (market, code) pairs.
	SecurityQuotes(ctx context.Context, symbols []SymbolRef) ([]domain.Quote, error)
}

// SymbolRef addresses one instrument on the wire.
type SymbolRef struct {
	Market int
	Code   string
}

// Dialer constructs a fresh, unconnected Client. The pool owns the returned
// client and is responsible for Connect/Disconnect.
type Dialer func() Client

// ConnectTimeout is the default per-connect deadline applied by callers that
// do not carry their own.
const ConnectTimeout = 5 * time.Second
