package cli

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zarlcorp/connectid/internal/config"
	"github.com/zarlcorp/connectid/internal/connectid"
	"github.com/zarlcorp/connectid/internal/state"
)

func TestDataDir(t *testing.T) {
	tests := []struct {
		name string
		xdg  string
		want string
	}{
		{
			name: "xdg set",
			xdg:  "/custom/data",
			want: "/custom/data/connectid",
		},
		{
			name: "xdg empty falls back to home",
			xdg:  "",
			want: "/.local/share/connectid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XDG_DATA_HOME", tt.xdg)

			got := DataDir()
			if tt.xdg != "" {
				if got != tt.want {
					t.Errorf("DataDir() = %s, want %s", got, tt.want)
				}
			} else {
				if !strings.HasSuffix(got, tt.want) {
					t.Errorf("DataDir() = %s, want suffix %s", got, tt.want)
				}
			}
		})
	}
}

func TestHasFlag(t *testing.T) {
	tests := []struct {
		name string
		args []string
		flag string
		want bool
	}{
		{"present", []string{"--json", "--record"}, "--json", true},
		{"absent", []string{"--record"}, "--json", false},
		{"empty", nil, "--json", false},
		{"case insensitive", []string{"--JSON"}, "--json", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := hasFlag(tt.args, tt.flag)
			if got != tt.want {
				t.Errorf("hasFlag(%v, %s) = %v, want %v", tt.args, tt.flag, got, tt.want)
			}
		})
	}
}

func TestFlagValue(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		want   string
		wantOK bool
	}{
		{"separate", []string{"--pixel", "12345"}, "12345", true},
		{"equals", []string{"--pixel=12345"}, "12345", true},
		{"missing value", []string{"--pixel"}, "", false},
		{"absent", []string{"--email", "a@b.c"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := flagValue(tt.args, "--pixel")
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("flagValue(%v) = %q, %v; want %q, %v", tt.args, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseParams(t *testing.T) {
	p, err := parseParams([]string{"--pixel", "12345", "--email=abc@foo.com", "--puid", "p1", "--1p", "true"})
	if err != nil {
		t.Fatal(err)
	}
	if p.PixelID != 12345 || p.Email != "abc@foo.com" || p.PUID != "p1" {
		t.Errorf("got %+v", p)
	}
	if p.Yahoo1P == nil || !*p.Yahoo1P {
		t.Error("expected yahoo1p true")
	}

	bad := [][]string{
		{"--pixel", "abc"},
		{"--1p", "maybe"},
	}
	for _, args := range bad {
		if _, err := parseParams(args); err == nil {
			t.Errorf("parseParams(%v): expected error", args)
		}
	}
}

func TestIsFirstRun(t *testing.T) {
	dir := t.TempDir()
	if !IsFirstRun(dir) {
		t.Error("expected first run for empty dir")
	}

	os.WriteFile(dir+"/salt", []byte("test"), 0o600)
	if IsFirstRun(dir) {
		t.Error("expected not first run after salt exists")
	}
}

// upsServer answers every request with connectID and counts calls.
func upsServer(t *testing.T, connectID string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"connectId":%q,"ttl":24}`, connectID)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testEnv(t *testing.T, endpoint string) (Env, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return Env{
		Config: config.Config{
			Endpoint:        endpoint,
			DataDir:         t.TempDir(),
			PUIDReuseWindow: 720 * time.Hour,
			HTTPTimeout:     5 * time.Second,
			Passphrase:      "test-passphrase",
		},
		Stdout: &out,
		Stderr: &bytes.Buffer{},
	}, &out
}

func TestCmdResolvePersistsRecord(t *testing.T) {
	srv, calls := upsServer(t, "abc_connectId")
	e, out := testEnv(t, srv.URL)

	args := []string{"--pixel", "12345", "--email", "abc@foo.com", "--record"}
	if err := CmdResolve(context.Background(), e, args); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("ups calls: got %d, want 1", calls.Load())
	}

	dec := json.NewDecoder(out)
	var res connectid.Result
	if err := dec.Decode(&res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.ConnectID != "" {
		t.Errorf("first call result: got %q, want empty", res.ConnectID)
	}
	var rec state.Record
	if err := dec.Decode(&rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.ConnectID != "abc_connectId" || rec.HashedEmail == "" {
		t.Errorf("record: got %+v", rec)
	}

	// the record survives reopening the store
	out.Reset()
	if err := CmdResolve(context.Background(), e, args[:4]); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	res = connectid.Result{}
	if err := json.NewDecoder(out).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.ConnectID != "abc_connectId" {
		t.Errorf("cached result: got %q", res.ConnectID)
	}
	if calls.Load() != 1 {
		t.Errorf("fresh record should not sync again, calls = %d", calls.Load())
	}
}

func TestCmdShowAndReset(t *testing.T) {
	srv, _ := upsServer(t, "abc_connectId")
	e, out := testEnv(t, srv.URL)

	if err := CmdShow(e, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "no stored record") {
		t.Errorf("got %q", out.String())
	}

	if err := CmdResolve(context.Background(), e, []string{"--pixel", "1", "--puid", "p1"}); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	if err := CmdShow(e, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "abc_connectId") {
		t.Errorf("show: got %q", out.String())
	}

	out.Reset()
	if err := CmdReset(e, nil); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	if err := CmdShow(e, []string{"--json"}); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out.String()) != "{}" {
		t.Errorf("after reset: got %q", out.String())
	}
}

func TestCmdOptOutSuppressesResolve(t *testing.T) {
	srv, calls := upsServer(t, "abc_connectId")
	e, out := testEnv(t, srv.URL)

	if err := CmdOptOut(e); err != nil {
		t.Fatal(err)
	}
	if err := CmdResolve(context.Background(), e, []string{"--pixel", "1", "--email", "abc@foo.com"}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 0 {
		t.Errorf("opted out: ups calls = %d", calls.Load())
	}

	out.Reset()
	if err := CmdOptIn(e); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "opted in") {
		t.Errorf("opt in: got %q", out.String())
	}
}

func TestCmdResetAll(t *testing.T) {
	e, out := testEnv(t, "http://127.0.0.1:1")

	if err := CmdOptOut(e); err != nil {
		t.Fatal(err)
	}
	if err := CmdReset(e, []string{"--all"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "storage cleared") {
		t.Errorf("got %q", out.String())
	}

	s, err := e.open(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.client.OptedOut() {
		t.Error("reset --all should remove the opt-out flag")
	}
}

func TestCmdHash(t *testing.T) {
	var out bytes.Buffer
	e := Env{Stdout: &out}

	if err := CmdHash(context.Background(), e, []string{"  ABC@foo.com "}); err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256([]byte("abc@foo.com"))
	want := hex.EncodeToString(sum[:])
	if got := strings.TrimSpace(out.String()); got != want {
		t.Errorf("hash: got %s, want %s", got, want)
	}

	if err := CmdHash(context.Background(), e, nil); err == nil {
		t.Error("expected usage error")
	}
}
