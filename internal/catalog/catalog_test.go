package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"tdx-datafeed/internal/domain"
)

func TestLoad_BuiltinOnly(t *testing.T) {
	c := New()
	eps := c.Load(context.Background())

	builtin := BuiltinEndpoints()
	if len(eps) != len(builtin) {
		t.Fatalf("Expected %d built-in endpoints, got %d", len(builtin), len(eps))
	}
	// Tier order is preserved.
	if eps[0] != builtin[0] {
		t.Errorf("First endpoint: got %v, want %v", eps[0], builtin[0])
	}
}

func TestLoad_MergesRemoteAfterBuiltin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"host": "203.0.113.10", "port": 7709}, {"host": "203.0.113.11", "port": 7709}]`)
	}))
	defer srv.Close()

	c := New(WithRemoteSources(srv.URL))
	eps := c.Load(context.Background())

	builtin := BuiltinEndpoints()
	if len(eps) != len(builtin)+2 {
		t.Fatalf("Expected %d endpoints, got %d", len(builtin)+2, len(eps))
	}
	last := eps[len(eps)-1]
	if last.Host != "203.0.113.11" {
		t.Errorf("Remote endpoints should come after built-ins, last was %v", last)
	}
}

func TestLoad_RemoteFailureFallsBackToBuiltin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(WithRemoteSources(srv.URL, "http://127.0.0.1:1/nothing"))
	eps := c.Load(context.Background())

	if len(eps) != len(BuiltinEndpoints()) {
		t.Fatalf("Failing sources must not abort the load, got %d endpoints", len(eps))
	}
}

func TestLoad_RemoteEmptyPayloadSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := New(WithRemoteSources(srv.URL))
	eps := c.Load(context.Background())
	if len(eps) != len(BuiltinEndpoints()) {
		t.Fatalf("Zero-entry source must be skipped, got %d endpoints", len(eps))
	}
}

func TestLoad_DedupesAcrossSources(t *testing.T) {
	builtin := BuiltinEndpoints()
	dup := builtin[0]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"host": %q, "port": %d}, {"host": "203.0.113.10", "port": 7709}]`, dup.Host, dup.Port)
	}))
	defer srv.Close()

	c := New(WithRemoteSources(srv.URL))
	eps := c.Load(context.Background())

	if len(eps) != len(builtin)+1 {
		t.Fatalf("Duplicate of a built-in must be dropped, got %d endpoints", len(eps))
	}
	counts := make(map[string]int)
	for _, ep := range eps {
		counts[ep.Key()]++
	}
	for k, n := range counts {
		if n > 1 {
			t.Errorf("Endpoint %s appears %d times", k, n)
		}
	}
}

func TestLoad_MaxServersCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[`)
		for i := 0; i < 50; i++ {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"host": "203.0.113.%d", "port": 7709}`, i+1)
		}
		fmt.Fprint(w, `]`)
	}))
	defer srv.Close()

	c := New(WithRemoteSources(srv.URL), WithMaxServers(10))
	eps := c.Load(context.Background())
	if len(eps) != 10 {
		t.Fatalf("Expected cap of 10, got %d", len(eps))
	}
	// Built-ins fill the cap before any remote entry is admitted.
	if eps[0] != BuiltinEndpoints()[0] {
		t.Errorf("Built-ins should be admitted first")
	}
}

func TestBuiltinEndpoints_ReturnsCopy(t *testing.T) {
	a := BuiltinEndpoints()
	a[0] = domain.Endpoint{Host: "10.0.0.1", Port: 1}
	b := BuiltinEndpoints()
	if b[0].Host == "10.0.0.1" {
		t.Error("Mutating the returned slice must not affect the built-in list")
	}
}
