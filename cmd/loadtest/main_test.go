package main

import (
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func withCLIArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"loadtest"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

func TestParseMode(t *testing.T) {
	cases := []struct {
		value   string
		want    loadMode
		wantErr bool
	}{
		{"reserve", modeReserve, false},
		{" reserve-fulfill ", modeReserveFulfill, false},
		{"reserve-release", modeReserveRelease, false},
		{"create-pay", "", true},
		{"", "", true},
	}

	for _, tc := range cases {
		got, err := parseMode(tc.value)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseMode(%q) expected error", tc.value)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseMode(%q) unexpected error: %v", tc.value, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseMode(%q) = %s, want %s", tc.value, got, tc.want)
		}
	}
}

func TestParseConfig(t *testing.T) {
	withCLIArgs(t, []string{
		"-addr=http://localhost:9999",
		"-total=10",
		"-concurrency=2",
		"-timeout=2s",
		"-mode=reserve-fulfill",
		"-release-rate=25",
		"-qty=3",
		"-ttl-seconds=60",
		"-physical=1000",
		"-product-tag=LT",
	}, func() {
		cfg, err := parseConfig()
		if err != nil {
			t.Fatalf("parseConfig failed: %v", err)
		}
		if cfg.baseURL != "http://localhost:9999" {
			t.Fatalf("unexpected baseURL: %s", cfg.baseURL)
		}
		if cfg.total != 10 || !cfg.totalSet {
			t.Fatalf("unexpected total: %d set=%v", cfg.total, cfg.totalSet)
		}
		if cfg.mode != modeReserveFulfill {
			t.Fatalf("unexpected mode: %s", cfg.mode)
		}
		if cfg.releaseRate != 25 || cfg.qty != 3 || cfg.ttlSeconds != 60 || cfg.physical != 1000 {
			t.Fatalf("unexpected parsed config: %+v", cfg)
		}
		if cfg.timeout != 2*time.Second {
			t.Fatalf("unexpected timeout: %s", cfg.timeout)
		}
	})

	invalidCases := [][]string{
		{"-total=0"},
		{"-concurrency=0"},
		{"-timeout=0s"},
		{"-mode=bogus"},
		{"-release-rate=101"},
		{"-qty=0"},
		{"-ttl-seconds=0"},
		{"-physical=0"},
		{"-product-tag= "},
		{"-duration=-1s"},
	}
	for _, args := range invalidCases {
		withCLIArgs(t, args, func() {
			if _, err := parseConfig(); err == nil {
				t.Errorf("expected validation error for args %v", args)
			}
		})
	}
}

func TestDispatchJobs(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{total: 5})

		var got []int
		for id := range jobs {
			got = append(got, id)
		}
		if len(got) != 5 {
			t.Fatalf("expected 5 jobs, got %d", len(got))
		}
	})

	t.Run("duration mode with explicit total cap", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{duration: time.Second, total: 3, totalSet: true})

		count := 0
		for range jobs {
			count++
		}
		if count != 3 {
			t.Fatalf("expected 3 jobs, got %d", count)
		}
	})

	t.Run("duration mode stops on timer", func(t *testing.T) {
		jobs := make(chan int)
		var wg sync.WaitGroup
		wg.Add(1)
		count := 0
		go func() {
			defer wg.Done()
			for range jobs {
				count++
			}
		}()

		dispatchJobs(jobs, config{duration: 30 * time.Millisecond})
		wg.Wait()
		if count == 0 {
			t.Fatal("expected at least one job before timer fired")
		}
	})
}

func TestCollectorAndReport(t *testing.T) {
	col := newCollector()
	col.record("Reserve", 10*time.Millisecond, "201", true)
	col.record("Reserve", 20*time.Millisecond, "409", false)
	col.record("scenario", 30*time.Millisecond, "200", true)
	col.record("scenario", 40*time.Millisecond, "409", false)

	snap, ok := col.snapshot("Reserve")
	if !ok {
		t.Fatal("expected Reserve snapshot")
	}
	if snap.Calls != 2 || snap.Success != 1 || snap.Failed != 1 {
		t.Fatalf("unexpected Reserve snapshot: %+v", snap)
	}
	if snap.Codes["201"] != 1 || snap.Codes["409"] != 1 {
		t.Fatalf("unexpected Reserve codes: %+v", snap.Codes)
	}
	if _, ok := col.snapshot("missing"); ok {
		t.Fatal("expected missing snapshot to be absent")
	}

	result := col.buildReport(time.Now(), 2*time.Second)
	if result.TotalScenarios != 2 || result.SuccessScenarios != 1 || result.FailedScenarios != 1 {
		t.Fatalf("unexpected scenario totals: %+v", result)
	}
	if result.ErrorRate != 0.5 {
		t.Fatalf("unexpected error rate: %f", result.ErrorRate)
	}
	if result.RPS != 1.0 {
		t.Fatalf("unexpected rps: %f", result.RPS)
	}
}

func TestUtilityFunctions(t *testing.T) {
	if got := percentile(nil, 95); got != 0 {
		t.Fatalf("percentile(nil) = %f", got)
	}
	if got := percentile([]float64{7}, 95); got != 7 {
		t.Fatalf("percentile single = %f", got)
	}
	if got := percentile([]float64{1, 2, 3, 4}, 50); got != 2.5 {
		t.Fatalf("percentile p50 = %f", got)
	}

	summary := buildLatencySummary([]float64{1, 2, 3})
	if summary.Min != 1 || summary.Max != 3 || summary.Avg != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if empty := buildLatencySummary(nil); empty != (latencySummary{}) {
		t.Fatalf("expected zero summary, got %+v", empty)
	}

	if ratio(1, 0) != 0 {
		t.Fatal("ratio with zero total must be 0")
	}
	if ratio(1, 4) != 0.25 {
		t.Fatal("unexpected ratio")
	}

	if shouldReleaseScenario(5, 0) {
		t.Fatal("release-rate 0 must never release")
	}
	if !shouldReleaseScenario(5, 100) {
		t.Fatal("release-rate 100 must always release")
	}
	if !shouldReleaseScenario(10, 25) || shouldReleaseScenario(80, 25) {
		t.Fatal("unexpected release distribution")
	}

	if got := runTarget(config{total: 7}); got != "count:7" {
		t.Fatalf("unexpected runTarget: %s", got)
	}
	if got := runTarget(config{duration: time.Minute}); got != "duration:1m0s" {
		t.Fatalf("unexpected runTarget: %s", got)
	}
	if got := runTarget(config{duration: time.Minute, total: 5, totalSet: true}); got != "duration:1m0s,max-total:5" {
		t.Fatalf("unexpected runTarget: %s", got)
	}
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	result := report{TotalScenarios: 3, SuccessScenarios: 3}
	if err := writeJSONReport(path, result); err != nil {
		t.Fatalf("writeJSONReport failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report failed: %v", err)
	}
	var decoded report
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode report failed: %v", err)
	}
	if decoded.TotalScenarios != 3 {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}

	if err := writeJSONReport(".", result); err == nil {
		t.Fatal("expected error for directory path")
	}
	if err := writeJSONReport("../outside.json", result); err == nil {
		t.Fatal("expected error for path outside current directory")
	}
}

type stubAPI struct {
	mu       sync.Mutex
	reserves int
	fulfills int
	releases int
	seeds    int

	failReserve bool
}

func (s *stubAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/stock", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.seeds++
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"product_id":"p"}`))
	})
	mux.HandleFunc("/v1/reservations", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			s.reserves++
			if s.failReserve {
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write([]byte(`{"error":{"code":"insufficient_stock"}}`))
				return
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"r-1"}`))
		case http.MethodDelete:
			s.releases++
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":"r-1","status":"released"}`))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/v1/reservations/fulfill", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.fulfills++
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"r-1","status":"fulfilled"}`))
	})
	return mux
}

func TestSeedStockAndRunScenario(t *testing.T) {
	api := &stubAPI{}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	client := server.Client()
	col := newCollector()
	cfg := config{baseURL: server.URL, qty: 1, ttlSeconds: 60, physical: 100}

	if err := seedStock(client, cfg, "LT-run-0", col); err != nil {
		t.Fatalf("seedStock failed: %v", err)
	}

	cfg.mode = modeReserve
	if err := runScenario(client, cfg, "LT-run-0", 0, "run", col); err != nil {
		t.Fatalf("reserve scenario failed: %v", err)
	}

	cfg.mode = modeReserveFulfill
	if err := runScenario(client, cfg, "LT-run-0", 1, "run", col); err != nil {
		t.Fatalf("reserve-fulfill scenario failed: %v", err)
	}

	cfg.mode = modeReserveRelease
	if err := runScenario(client, cfg, "LT-run-0", 2, "run", col); err != nil {
		t.Fatalf("reserve-release scenario failed: %v", err)
	}

	if api.seeds != 1 || api.reserves != 3 || api.fulfills != 1 || api.releases != 1 {
		t.Fatalf("unexpected call counts: seeds=%d reserves=%d fulfills=%d releases=%d",
			api.seeds, api.reserves, api.fulfills, api.releases)
	}

	snap, ok := col.snapshot("scenario")
	if !ok || snap.Calls != 3 || snap.Failed != 0 {
		t.Fatalf("unexpected scenario snapshot: %+v", snap)
	}
}

func TestRunScenario_ReserveFailure(t *testing.T) {
	api := &stubAPI{failReserve: true}
	server := httptest.NewServer(api.handler())
	defer server.Close()

	col := newCollector()
	cfg := config{baseURL: server.URL, qty: 1, ttlSeconds: 60, mode: modeReserveFulfill}

	if err := runScenario(server.Client(), cfg, "LT-run-0", 0, "run", col); err == nil {
		t.Fatal("expected scenario error on reserve conflict")
	}

	snap, ok := col.snapshot("scenario")
	if !ok || snap.Failed != 1 {
		t.Fatalf("unexpected scenario snapshot: %+v", snap)
	}
	if snap.Codes["409"] != 1 {
		t.Fatalf("expected scenario code 409, got %+v", snap.Codes)
	}
	if api.fulfills != 0 {
		t.Fatal("fulfill must not be called after failed reserve")
	}
}

func TestRunScenario_TransportError(t *testing.T) {
	col := newCollector()
	client := &http.Client{Timeout: 50 * time.Millisecond}
	cfg := config{baseURL: "http://127.0.0.1:1", qty: 1, ttlSeconds: 60, mode: modeReserve}

	if err := runScenario(client, cfg, "LT-run-0", 0, "run", col); err == nil {
		t.Fatal("expected transport error")
	}

	snap, _ := col.snapshot("scenario")
	if snap.Codes[codeTransportErr] != 1 {
		t.Fatalf("expected transport_error code, got %+v", snap.Codes)
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("create pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()
	_ = w.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	return string(out)
}

func TestPrintReport(t *testing.T) {
	result := report{
		TotalScenarios:   10,
		SuccessScenarios: 9,
		FailedScenarios:  1,
		ErrorRate:        0.1,
		RPS:              5,
		Methods: map[string]methodReport{
			"scenario": {Calls: 10},
			"Reserve":  {Calls: 10, Success: 9, Failed: 1, ErrorRate: 0.1},
		},
	}

	out := captureStdout(t, func() {
		printReport(result, config{mode: modeReserve, total: 10})
	})

	if !strings.Contains(out, "Load test summary") {
		t.Fatalf("missing summary header: %s", out)
	}
	if !strings.Contains(out, "Reserve: calls=10") {
		t.Fatalf("missing method line: %s", out)
	}
	if strings.Contains(out, "scenario: calls=") {
		t.Fatalf("scenario must be excluded from method lines: %s", out)
	}
}
