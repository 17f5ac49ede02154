package pool

import (
	"time"

	"tdx-datafeed/internal/domain"
	"tdx-datafeed/internal/tdx"
)

// Lease is a checked-out connection. The holder must call Release exactly
// once, on both the success and failure branches; the outcome feeds health
// bookkeeping so that failures occurring after the connection left the
// pool's own scope are still tallied.
type Lease struct {
	pool      *Pool
	entry     *entry
	client    tdx.Client
	acquired  time.Time
	temporary bool
	released  bool
}

// Client returns the protocol handle for this lease.
func (l *Lease) Client() tdx.Client {
	return l.client
}

// Endpoint returns the endpoint the lease is bound to.
func (l *Lease) Endpoint() domain.Endpoint {
	return l.entry.endpoint
}

// Release reports the outcome of the checkout. A nil err records a success
// with the observed round-trip time; a non-nil err records a failure and may
// quarantine the endpoint. A pooled connection rejoins its entry; temporary
// connections are closed unconditionally. Release is idempotent.
func (l *Lease) Release(err error) {
	if l.released {
		return
	}
	l.released = true

	if l.temporary {
		l.client.Disconnect()
	} else {
		l.pool.returnClient(l.entry, l.client)
	}

	l.pool.settle(l.entry, err, l.pool.now().Sub(l.acquired))
}
