package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/ims/internal/health"
)

func freeAddr(t *testing.T) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := lis.Addr().String()
	_ = lis.Close()
	return addr
}

func waitForHTTP(t *testing.T, url string) *http.Response {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			return resp
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStartMetricsServer_ServesEndpoints(t *testing.T) {
	logger := log.WithField("component", "test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := freeAddr(t)
	healthHandler := healthcheck.NewHandler("test")
	srv := startMetricsServer(ctx, addr, logger, healthHandler)
	defer shutdownHTTP(srv, logger)

	resp := waitForHTTP(t, fmt.Sprintf("http://%s/livez", addr))
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/livez status = %d, want 200", resp.StatusCode)
	}

	for _, path := range []string{"/metrics", "/healthz"} {
		resp, err := http.Get(fmt.Sprintf("http://%s%s", addr, path))
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestStartMetricsServer_StopsOnContextCancel(t *testing.T) {
	logger := log.WithField("component", "test")
	ctx, cancel := context.WithCancel(context.Background())

	addr := freeAddr(t)
	healthHandler := healthcheck.NewHandler("test")
	_ = startMetricsServer(ctx, addr, logger, healthHandler)

	resp := waitForHTTP(t, fmt.Sprintf("http://%s/livez", addr))
	_ = resp.Body.Close()

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := http.Get(fmt.Sprintf("http://%s/livez", addr))
		if err != nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("metrics server still serving after context cancellation")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRun_FailsWithoutPostgresDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PostgresDSN = ""

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := Run(ctx, cfg); err == nil {
		t.Fatal("expected error when postgres dsn is missing")
	}
}
