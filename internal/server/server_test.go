package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/zarlcorp/connectid/internal/connectid"
	"github.com/zarlcorp/connectid/internal/kv"
	"github.com/zarlcorp/connectid/internal/metrics"
	"github.com/zarlcorp/connectid/internal/state"
	"github.com/zarlcorp/connectid/internal/ups"
)

const hashEmail = "14ec5aa499e3a65bd81086a272bef2aa4a22d65fd313a453b19aecf2b2f9a9d4"

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeFetcher) Fetch(context.Context, int, url.Values) (ups.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return ups.Response{ConnectID: "fresh", TTL: 24}, nil
}

type testEnv struct {
	srv     *httptest.Server
	client  *connectid.Client
	fetcher *fakeFetcher
	storage *kv.Memory
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	env := &testEnv{fetcher: &fakeFetcher{}, storage: kv.NewMemory()}
	env.client = connectid.New(connectid.Config{
		Storage: env.storage,
		Fetcher: env.fetcher,
		Metrics: opts.Metrics,
	})

	ctx, cancel := context.WithCancel(context.Background())
	env.srv = httptest.NewServer(NewRouter(ctx, env.client, opts))

	t.Cleanup(func() {
		env.srv.Close()
		cancel()
		env.client.Close()
	})
	return env
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestGetIDsServesCachedAndSyncsOnce(t *testing.T) {
	env := newTestEnv(t, Options{AllowedOrigins: []string{"*"}})
	state.New(env.storage, nil).Set(state.Record{HashedEmail: hashEmail, ConnectID: "cached"})

	resp, err := http.Get(env.srv.URL + "/ids?pixelId=12345&email=abc@foo.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d", resp.StatusCode)
	}

	var got connectid.Result
	decode(t, resp, &got)
	if got.ConnectID != "cached" {
		t.Errorf("connectId: got %q, want cached", got.ConnectID)
	}

	env.client.Wait()
	if env.fetcher.calls != 1 {
		t.Errorf("syncs: got %d, want 1", env.fetcher.calls)
	}
	if r := env.client.Record(); r.ConnectID != "fresh" {
		t.Errorf("record after sync: got %+v", r)
	}
}

func TestGetIDsEmptyResult(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp, err := http.Get(env.srv.URL + "/ids")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if strings.TrimSpace(string(body)) != "{}" {
		t.Errorf("body: got %s, want {}", body)
	}
}

func TestGetIDsBadParams(t *testing.T) {
	env := newTestEnv(t, Options{})

	for _, q := range []string{"pixelId=abc", "pixelId=1&yahoo1p=maybe"} {
		resp, err := http.Get(env.srv.URL + "/ids?" + q)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status got %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestPostIDs(t *testing.T) {
	env := newTestEnv(t, Options{})

	body := `{"pixelId":12345,"email":"abc@foo.com","yahoo1p":true}`
	resp, err := http.Post(env.srv.URL+"/ids", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var got connectid.Result
	decode(t, resp, &got)
	if got.ConnectID != "" {
		t.Errorf("first call: got %q, want empty", got.ConnectID)
	}

	env.client.Wait()
	if r := env.client.Record(); r.HashedEmail != hashEmail || r.ConnectID != "fresh" {
		t.Errorf("record: got %+v", r)
	}

	resp, err = http.Post(env.srv.URL+"/ids", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body: got %d, want 400", resp.StatusCode)
	}
}

func TestOptOutFlow(t *testing.T) {
	env := newTestEnv(t, Options{})
	state.New(env.storage, nil).Set(state.Record{HashedEmail: hashEmail, ConnectID: "cached"})

	resp, err := http.Post(env.srv.URL+"/optout", "", nil)
	if err != nil {
		t.Fatalf("opt out: %v", err)
	}
	var status map[string]bool
	decode(t, resp, &status)
	if !status["optedOut"] {
		t.Fatal("expected optedOut true")
	}

	resp, err = http.Get(env.srv.URL + "/ids?pixelId=1&email=abc@foo.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var got connectid.Result
	decode(t, resp, &got)
	if got.ConnectID != "" {
		t.Errorf("opted out: got %q, want empty", got.ConnectID)
	}
	env.client.Wait()
	if env.fetcher.calls != 0 {
		t.Errorf("opted out: %d syncs, want 0", env.fetcher.calls)
	}

	resp, err = http.Post(env.srv.URL+"/optin", "", nil)
	if err != nil {
		t.Fatalf("opt in: %v", err)
	}
	decode(t, resp, &status)
	if status["optedOut"] {
		t.Error("expected optedOut false after opt in")
	}
}

func TestRecordEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})
	state.New(env.storage, nil).Set(state.Record{HashedEmail: hashEmail, ConnectID: "cached", TTL: 12})

	resp, err := http.Get(env.srv.URL + "/record")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var got state.Record
	decode(t, resp, &got)
	if got.ConnectID != "cached" || got.TTL != 12 {
		t.Errorf("record: got %+v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{Metrics: metrics.New()})

	resp, err := http.Get(env.srv.URL + "/ids")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(env.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if !strings.Contains(string(body), `connectid_resolutions_total{result="miss"} 1`) {
		t.Errorf("metrics missing resolution counter:\n%s", body)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Options{RateLimit: 0.001, RateBurst: 1})

	resp, err := http.Get(env.srv.URL + "/ids")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first: got %d", resp.StatusCode)
	}

	resp, err = http.Get(env.srv.URL + "/ids")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second: got %d, want 429", resp.StatusCode)
	}

	// health checks are not limited
	resp, err = http.Get(env.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: got %d", resp.StatusCode)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, Options{AllowedOrigins: []string{"https://publisher.example"}})

	req, _ := http.NewRequest(http.MethodOptions, env.srv.URL+"/ids", nil)
	req.Header.Set("Origin", "https://publisher.example")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://publisher.example" {
		t.Errorf("allow origin: got %q", got)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.1.1:54321"
	if got := clientIP(r); got != "192.168.1.1" {
		t.Errorf("got %q", got)
	}

	r.RemoteAddr = "garbage"
	if got := clientIP(r); got != "garbage" {
		t.Errorf("got %q", got)
	}
}
