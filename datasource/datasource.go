// Package datasource is the public surface consumed by the surrounding
// application. It assembles catalog, probe, pool, fetcher and normalizer
// behind the data-source plugin contract: stock list, historical klines,
// live quotes and a health check. All collaborators are constructor-injected;
// there are no process-wide singletons, so callers (and tests) can hold
// several independent instances.
package datasource

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"tdx-datafeed/internal/catalog"
	"tdx-datafeed/internal/domain"
	"tdx-datafeed/internal/fetch"
	"tdx-datafeed/internal/observability"
	"tdx-datafeed/internal/pool"
	"tdx-datafeed/internal/storage"
	"tdx-datafeed/internal/tdx"
)

// Config assembles a DataSource. Dialer is required; everything else has a
// working default or is optional.
type Config struct {
	// Dialer produces protocol clients for the pool.
	Dialer tdx.Dialer

	// Pool overrides the pool configuration; zero value uses defaults.
	Pool pool.Config

	// RemoteSources are optional remote host-list URLs merged into the
	// built-in catalog.
	RemoteSources []string

	// StaticEndpoints, when non-empty, replaces the catalog as the candidate
	// source. Registry records are still merged in first.
	StaticEndpoints []domain.Endpoint

	// Registry, when set, receives write-through endpoint state and
	// contributes prioritized candidates on Initialize.
	Registry storage.ServerRegistryStore

	// Archive, when set, receives fetched bars best-effort.
	Archive storage.KlineArchiveStore

	// SerialFetch disables concurrent batch dispatch.
	SerialFetch bool

	// Metrics attaches Prometheus instrumentation.
	Metrics *observability.Metrics

	// Logger defaults to log.Default().
	Logger *log.Logger
}

// DataSource implements the stock-data plugin contract on top of the
// connection pool.
type DataSource struct {
	catalog  *catalog.Catalog
	static   []domain.Endpoint
	pool     *pool.Pool
	fetcher  *fetch.Fetcher
	registry storage.ServerRegistryStore
	archive  storage.KlineArchiveStore
	logger   *log.Logger
}

// New validates the configuration and builds an uninitialized DataSource.
// Configuration problems surface here, not on first use.
func New(cfg Config) (*DataSource, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("datasource: nil dialer")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	poolCfg := cfg.Pool
	if poolCfg.Size == 0 {
		poolCfg = pool.DefaultConfig()
	}

	poolOpts := []pool.Option{pool.WithLogger(logger)}
	if cfg.Metrics != nil {
		poolOpts = append(poolOpts, pool.WithMetrics(cfg.Metrics))
	}
	p, err := pool.New(poolCfg, cfg.Dialer, poolOpts...)
	if err != nil {
		return nil, fmt.Errorf("datasource: %w", err)
	}

	fetchOpts := []fetch.Option{fetch.WithLogger(logger)}
	if cfg.SerialFetch {
		fetchOpts = append(fetchOpts, fetch.WithSerialOnly())
	}
	if cfg.Metrics != nil {
		fetchOpts = append(fetchOpts, fetch.WithMetrics(cfg.Metrics))
	}
	f, err := fetch.New(p, fetchOpts...)
	if err != nil {
		return nil, fmt.Errorf("datasource: %w", err)
	}

	catOpts := []catalog.Option{catalog.WithLogger(logger)}
	if len(cfg.RemoteSources) > 0 {
		catOpts = append(catOpts, catalog.WithRemoteSources(cfg.RemoteSources...))
	}

	return &DataSource{
		catalog:  catalog.New(catOpts...),
		static:   cfg.StaticEndpoints,
		pool:     p,
		fetcher:  f,
		registry: cfg.Registry,
		archive:  cfg.Archive,
		logger:   logger,
	}, nil
}

// Initialize loads candidates (registry first when available, always merged
// with the catalog), brings up the pool and writes endpoint state back to
// the registry best-effort.
func (ds *DataSource) Initialize(ctx context.Context) error {
	candidates := ds.loadCandidates(ctx)
	if err := ds.pool.Initialize(ctx, candidates); err != nil {
		return err
	}
	ds.saveRegistry(ctx)
	return nil
}

// loadCandidates merges prioritized registry records with the catalog,
// registry entries first.
func (ds *DataSource) loadCandidates(ctx context.Context) []domain.Endpoint {
	var out []domain.Endpoint
	seen := make(map[string]bool)

	if ds.registry != nil {
		records, err := ds.registry.List(ctx, true)
		if err != nil {
			ds.logger.Printf("datasource: registry list failed, using catalog only: %v", err)
		} else {
			for _, rec := range records {
				ep := domain.Endpoint{Host: rec.Host, Port: rec.Port}
				if !seen[ep.Key()] {
					seen[ep.Key()] = true
					out = append(out, ep)
				}
			}
		}
	}

	fromCatalog := ds.static
	if len(fromCatalog) == 0 {
		fromCatalog = ds.catalog.Load(ctx)
	}
	for _, ep := range fromCatalog {
		if !seen[ep.Key()] {
			seen[ep.Key()] = true
			out = append(out, ep)
		}
	}
	return out
}

// saveRegistry writes current pool endpoint state through to the registry.
// Failures are logged, never surfaced: persistence is an optimization.
func (ds *DataSource) saveRegistry(ctx context.Context) {
	if ds.registry == nil {
		return
	}
	for i, st := range ds.pool.GetPoolInfo().Endpoints {
		status := "active"
		if st.Status != domain.StatusHealthy {
			status = "inactive"
		}
		rec := &domain.ServerRecord{
			Host:         st.Endpoint.Host,
			Port:         st.Endpoint.Port,
			Status:       status,
			ResponseTime: st.AvgResponse,
			Source:       "probe",
			Priority:     i,
		}
		if err := ds.registry.Save(ctx, rec); err != nil {
			ds.logger.Printf("datasource: registry save %s failed: %v", st.Endpoint.Key(), err)
		}
	}
}

// GetStockList returns the full instrument listing across both markets.
func (ds *DataSource) GetStockList(ctx context.Context) ([]domain.Security, error) {
	var all []domain.Security
	for _, market := range []int{0, 1} {
		secs, err := ds.listMarket(ctx, market)
		if err != nil {
			return nil, fmt.Errorf("stock list market %d: %w", market, err)
		}
		all = append(all, secs...)
	}
	return all, nil
}

// listMarket pages the full listing for one market through a single lease.
func (ds *DataSource) listMarket(ctx context.Context, market int) ([]domain.Security, error) {
	lease, err := ds.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	var out []domain.Security
	total, err := lease.Client().SecurityCount(ctx, market)
	if err != nil {
		lease.Release(err)
		return nil, err
	}
	for start := 0; start < total; {
		page, err := lease.Client().SecurityList(ctx, market, start)
		if err != nil {
			lease.Release(err)
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		out = append(out, page...)
		start += len(page)
	}
	lease.Release(nil)
	return out, nil
}

// GetKlineData returns normalized ascending bars for a symbol. count bounds
// the number of rows fetched from upstream; start/end apply the lenient
// date-range rules. Fetched bars are archived best-effort.
func (ds *DataSource) GetKlineData(ctx context.Context, symbol string, period domain.Period, start, end time.Time, count int) ([]domain.KlineBar, error) {
	ref, err := parseSymbol(symbol)
	if err != nil {
		return nil, err
	}

	var dateRange *fetch.Range
	if !start.IsZero() || !end.IsZero() {
		dateRange = &fetch.Range{Start: start, End: end}
	}

	bars, err := ds.fetcher.Fetch(ctx, ref, period, count, dateRange)
	if err != nil {
		return nil, err
	}

	if ds.archive != nil && len(bars) > 0 {
		if err := ds.archive.InsertBulk(ctx, symbol, period, bars); err != nil {
			ds.logger.Printf("datasource: archive %s failed: %v", symbol, err)
		}
	}
	return bars, nil
}

// GetRealTimeData returns live snapshots, batching the wire calls at the
// protocol's per-request symbol cap.
func (ds *DataSource) GetRealTimeData(ctx context.Context, symbols []string) ([]domain.Quote, error) {
	refs := make([]tdx.SymbolRef, 0, len(symbols))
	for _, s := range symbols {
		ref, err := parseSymbol(s)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	var out []domain.Quote
	for len(refs) > 0 {
		chunk := refs
		if len(chunk) > tdx.MaxQuotesPerRequest {
			chunk = chunk[:tdx.MaxQuotesPerRequest]
		}
		refs = refs[len(chunk):]

		lease, err := ds.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		quotes, err := lease.Client().SecurityQuotes(ctx, chunk)
		lease.Release(err)
		if err != nil {
			return nil, fmt.Errorf("quotes: %w", err)
		}
		out = append(out, quotes...)
	}
	return out, nil
}

// HealthStatus is the health-check report consumed by the application layer.
type HealthStatus struct {
	IsHealthy      bool
	Message        string
	ResponseTimeMs int64
}

// HealthCheck acquires one connection, measures a liveness round trip, and
// reports the outcome. It never panics or hangs; an unusable pool reports
// unhealthy with the failure message.
func (ds *DataSource) HealthCheck(ctx context.Context) HealthStatus {
	lease, err := ds.pool.Acquire(ctx)
	if err != nil {
		return HealthStatus{IsHealthy: false, Message: fmt.Sprintf("no connection available: %v", err)}
	}

	start := time.Now()
	err = lease.Client().Ping(ctx)
	elapsed := time.Since(start)
	lease.Release(err)

	if err != nil {
		return HealthStatus{
			IsHealthy:      false,
			Message:        fmt.Sprintf("ping %s failed: %v", lease.Endpoint().Key(), err),
			ResponseTimeMs: elapsed.Milliseconds(),
		}
	}
	return HealthStatus{
		IsHealthy:      true,
		Message:        fmt.Sprintf("connected to %s", lease.Endpoint().Key()),
		ResponseTimeMs: elapsed.Milliseconds(),
	}
}

// PoolInfo exposes the pool's observability snapshot.
func (ds *DataSource) PoolInfo() pool.Info {
	return ds.pool.GetPoolInfo()
}

// Close releases every pooled connection. Idempotent.
func (ds *DataSource) Close() {
	ds.pool.CloseAll()
}

// parseSymbol resolves "sh600000" / "sz000001" (or a bare code) into a wire
// reference. Shanghai codes start with 6; everything else defaults to
// Shenzhen.
func parseSymbol(symbol string) (tdx.SymbolRef, error) {
	s := strings.ToLower(strings.TrimSpace(symbol))
	switch {
	case strings.HasPrefix(s, "sh"):
		return tdx.SymbolRef{Market: 1, Code: s[2:]}, nil
	case strings.HasPrefix(s, "sz"):
		return tdx.SymbolRef{Market: 0, Code: s[2:]}, nil
	}
	if len(s) != 6 {
		return tdx.SymbolRef{}, fmt.Errorf("datasource: unrecognized symbol %q", symbol)
	}
	if strings.HasPrefix(s, "6") {
		return tdx.SymbolRef{Market: 1, Code: s}, nil
	}
	return tdx.SymbolRef{Market: 0, Code: s}, nil
}
