// Command serverscan probes every cataloged market-data endpoint and prints
// a latency-ranked table. With -postgres-dsn the results are also written
// through to the server registry; with -watch the scan repeats on an
// interval, and -metrics-addr exposes Prometheus metrics while it runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tdx-datafeed/internal/catalog"
	"tdx-datafeed/internal/domain"
	"tdx-datafeed/internal/observability"
	"tdx-datafeed/internal/probe"
	"tdx-datafeed/internal/storage/migrations"
	"tdx-datafeed/internal/storage/postgres"
)

type config struct {
	sources      string
	concurrency  int
	probeTimeout time.Duration
	batchTimeout time.Duration
	postgresDSN  string
	watch        time.Duration
	metricsAddr  string
}

func main() {
	var cfg config
	flag.StringVar(&cfg.sources, "sources", "", "comma-separated remote host-list URLs")
	flag.IntVar(&cfg.concurrency, "concurrency", probe.DefaultConcurrency, "probe worker count")
	flag.DurationVar(&cfg.probeTimeout, "probe-timeout", probe.DefaultProbeTimeout, "per-connect timeout")
	flag.DurationVar(&cfg.batchTimeout, "batch-timeout", probe.DefaultBatchTimeout, "overall probe budget")
	flag.StringVar(&cfg.postgresDSN, "postgres-dsn", "", "write results to this server registry (optional)")
	flag.DurationVar(&cfg.watch, "watch", 0, "re-scan on this interval instead of exiting (0 = one shot)")
	flag.StringVar(&cfg.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (optional)")
	flag.Parse()

	logger := log.New(os.Stderr, "serverscan: ", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Fatal(err)
	}
}

func run(ctx context.Context, logger *log.Logger, cfg config) error {
	var metrics *observability.Metrics
	if cfg.metricsAddr != "" {
		metrics = observability.NewMetrics("", nil)
		go serveMetrics(logger, cfg.metricsAddr)
	}

	var catOpts []catalog.Option
	catOpts = append(catOpts, catalog.WithLogger(logger))
	if cfg.sources != "" {
		catOpts = append(catOpts, catalog.WithRemoteSources(strings.Split(cfg.sources, ",")...))
	}
	cat := catalog.New(catOpts...)

	probeOpts := []probe.Option{
		probe.WithConcurrency(cfg.concurrency),
		probe.WithProbeTimeout(cfg.probeTimeout),
		probe.WithBatchTimeout(cfg.batchTimeout),
		probe.WithLogger(logger),
	}
	if metrics != nil {
		probeOpts = append(probeOpts, probe.WithMetrics(metrics))
	}
	prober := probe.New(probeOpts...)

	var store *postgres.ServerRegistryStore
	if cfg.postgresDSN != "" {
		pool, err := postgres.NewPool(ctx, cfg.postgresDSN)
		if err != nil {
			return fmt.Errorf("open registry: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("migrate registry: %w", err)
		}
		store = postgres.NewServerRegistryStore(pool)
	}

	for {
		if err := scanOnce(ctx, logger, cat, prober, store); err != nil {
			return err
		}
		if cfg.watch <= 0 {
			return nil
		}
		logger.Printf("next scan in %s", cfg.watch)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.watch):
		}
	}
}

// scanOnce loads the catalog, probes every candidate, prints the ranked
// table and writes results through to the registry when one is configured.
func scanOnce(ctx context.Context, logger *log.Logger, cat *catalog.Catalog, prober *probe.Prober, store *postgres.ServerRegistryStore) error {
	candidates := cat.Load(ctx)
	logger.Printf("probing %d candidates", len(candidates))

	results := prober.Probe(ctx, candidates)

	available := 0
	fmt.Printf("%-22s %-12s %s\n", "ENDPOINT", "LATENCY", "STATUS")
	for _, r := range results {
		if r.Available {
			available++
			fmt.Printf("%-22s %-12s ok\n", r.Endpoint.Key(), r.ResponseTime.Round(time.Millisecond))
		} else {
			fmt.Printf("%-22s %-12s unreachable\n", r.Endpoint.Key(), "-")
		}
	}
	fmt.Printf("\n%d/%d endpoints available\n", available, len(results))

	if store == nil {
		return nil
	}

	saved := 0
	for i, r := range results {
		status := "inactive"
		if r.Available {
			status = "active"
		}
		rec := &domain.ServerRecord{
			Host:         r.Endpoint.Host,
			Port:         r.Endpoint.Port,
			Status:       status,
			ResponseTime: r.ResponseTime,
			Source:       "probe",
			Priority:     i,
		}
		if err := store.Save(ctx, rec); err != nil {
			logger.Printf("save %s failed: %v", r.Endpoint.Key(), err)
			continue
		}
		saved++
	}
	logger.Printf("saved %d records to registry", saved)
	return nil
}

// serveMetrics exposes the Prometheus registry and a liveness endpoint.
func serveMetrics(logger *log.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	logger.Printf("metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Printf("metrics server: %v", err)
	}
}
