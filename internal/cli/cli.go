// Package cli implements connectid's command-line subcommands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/zarlcorp/core/pkg/zcrypto"
	"github.com/zarlcorp/core/pkg/zfilesystem"
	"golang.org/x/term"

	"github.com/zarlcorp/connectid/internal/config"
	"github.com/zarlcorp/connectid/internal/connectid"
	"github.com/zarlcorp/connectid/internal/hasher"
	"github.com/zarlcorp/connectid/internal/kv"
	"github.com/zarlcorp/connectid/internal/metrics"
	"github.com/zarlcorp/connectid/internal/server"
	"github.com/zarlcorp/connectid/internal/ups"
)

// DataDir returns the default data directory for connectid.
func DataDir() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return d + "/connectid"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".connectid"
	}
	return home + "/.local/share/connectid"
}

// ReadPassword prompts for a passphrase on w and reads it without echo.
func ReadPassword(prompt string, w io.Writer) (string, error) {
	fmt.Fprint(w, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(b), nil
}

// ReadNewPassword prompts for a new passphrase with confirmation.
func ReadNewPassword(w io.Writer) (string, error) {
	pass, err := ReadPassword("storage passphrase: ", w)
	if err != nil {
		return "", err
	}
	confirm, err := ReadPassword("confirm passphrase: ", w)
	if err != nil {
		return "", err
	}
	if pass != confirm {
		return "", fmt.Errorf("passphrases do not match")
	}
	return pass, nil
}

// IsFirstRun checks whether the storage has been initialized.
func IsFirstRun(dir string) bool {
	_, err := os.Stat(dir + "/salt")
	return err != nil
}

// OpenStorage opens the encrypted storage in dir with passphrase. The
// passphrase bytes are wiped once the storage is open.
func OpenStorage(dir, passphrase string) (*kv.Encrypted, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	pass := []byte(passphrase)
	defer zcrypto.Erase(pass)

	return kv.OpenEncrypted(zfilesystem.NewOSFileSystem(dir), pass)
}

// NewClient wires a resolver over storage using cfg.
func NewClient(cfg config.Config, storage kv.KV, log *slog.Logger, m *metrics.Metrics) *connectid.Client {
	return connectid.New(connectid.Config{
		Storage: storage,
		Fetcher: ups.NewClient(ups.Config{
			Endpoint: cfg.Endpoint,
			Timeout:  cfg.HTTPTimeout,
		}),
		PageURL:         cfg.PageURL,
		PUIDReuseWindow: cfg.PUIDReuseWindow,
		Logger:          log,
		Metrics:         m,
	})
}

// Env carries what every command needs.
type Env struct {
	Config config.Config
	Logger *slog.Logger
	Stdout io.Writer
	Stderr io.Writer
}

// Dir returns the configured data directory, or DataDir.
func (e Env) Dir() string {
	if e.Config.DataDir != "" {
		return e.Config.DataDir
	}
	return DataDir()
}

// session is an open storage plus a resolver on top of it.
type session struct {
	storage *kv.Encrypted
	client  *connectid.Client
}

func (s *session) Close() {
	s.client.Close()
	s.storage.Close()
}

func (e Env) open(m *metrics.Metrics) (*session, error) {
	dir := e.Dir()

	pass := e.Config.Passphrase
	if pass == "" {
		var err error
		if IsFirstRun(dir) {
			pass, err = ReadNewPassword(e.Stderr)
		} else {
			pass, err = ReadPassword("storage passphrase: ", e.Stderr)
		}
		if err != nil {
			return nil, err
		}
	}

	storage, err := OpenStorage(dir, pass)
	if err != nil {
		return nil, err
	}

	return &session{
		storage: storage,
		client:  NewClient(e.Config, storage, e.Logger, m),
	}, nil
}

// CmdResolve runs one GetIDs call, prints the result and waits for the
// background sync. With --record the stored record is printed afterwards.
func CmdResolve(ctx context.Context, e Env, args []string) error {
	p, err := parseParams(args)
	if err != nil {
		return err
	}

	s, err := e.open(nil)
	if err != nil {
		return err
	}
	defer s.Close()

	res := s.client.GetIDs(ctx, p)
	if err := printJSON(e.Stdout, res); err != nil {
		return err
	}

	s.client.Wait()

	if hasFlag(args, "--record") {
		return printJSON(e.Stdout, s.client.Record())
	}
	return nil
}

// CmdShow prints the stored identity record.
func CmdShow(e Env, args []string) error {
	s, err := e.open(nil)
	if err != nil {
		return err
	}
	defer s.Close()

	rec := s.client.Record()

	if hasFlag(args, "--json") {
		return printJSON(e.Stdout, rec)
	}

	if rec.Empty() {
		fmt.Fprintln(e.Stdout, "no stored record")
		return nil
	}

	fmt.Fprintf(e.Stdout, "  connectId:  %s\n", rec.ConnectID)
	fmt.Fprintf(e.Stdout, "  he:         %s\n", rec.HashedEmail)
	fmt.Fprintf(e.Stdout, "  puid:       %s\n", rec.HashedPUID)
	fmt.Fprintf(e.Stdout, "  lastSynced: %d\n", rec.LastSynced)
	fmt.Fprintf(e.Stdout, "  ttl:        %g\n", rec.TTL)
	fmt.Fprintf(e.Stdout, "  lastUsed:   %d\n", rec.LastUsed)
	return nil
}

// CmdReset removes the stored record. With --all every key in local
// storage is removed, opt-out flags included.
func CmdReset(e Env, args []string) error {
	s, err := e.open(nil)
	if err != nil {
		return err
	}
	defer s.Close()

	if hasFlag(args, "--all") {
		if err := s.storage.Clear(); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		fmt.Fprintln(e.Stdout, "storage cleared")
		return nil
	}

	s.client.Reset()
	fmt.Fprintln(e.Stdout, "record removed")
	return nil
}

// CmdOptOut sets the local opt-out flag.
func CmdOptOut(e Env) error {
	s, err := e.open(nil)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.client.OptOut(); err != nil {
		return fmt.Errorf("opt out: %w", err)
	}
	fmt.Fprintln(e.Stdout, "opted out")
	return nil
}

// CmdOptIn removes the local opt-out flag.
func CmdOptIn(e Env) error {
	s, err := e.open(nil)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.client.OptIn(); err != nil {
		return fmt.Errorf("opt in: %w", err)
	}
	if s.client.OptedOut() {
		fmt.Fprintln(e.Stdout, "still opted out by another identity framework")
		return nil
	}
	fmt.Fprintln(e.Stdout, "opted in")
	return nil
}

// CmdHash prints the identifier as it would be sent: normalized and
// SHA-256 hex encoded, or unchanged if already a digest.
func CmdHash(ctx context.Context, e Env, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: connectid hash <identifier>")
	}

	h := hasher.New(hasher.SHA256).Hash(ctx, args[0])
	if h == "" {
		return fmt.Errorf("hash: no digest produced")
	}
	fmt.Fprintln(e.Stdout, h)
	return nil
}

// CmdServe serves the local HTTP API until ctx is done.
func CmdServe(ctx context.Context, e Env) error {
	m := metrics.New()

	s, err := e.open(m)
	if err != nil {
		return err
	}
	defer s.Close()

	router := server.NewRouter(ctx, s.client, server.Options{
		AllowedOrigins: e.Config.AllowedOrigins,
		RateLimit:      e.Config.RateLimit,
		RateBurst:      e.Config.RateBurst,
		Metrics:        m,
		Logger:         e.Logger,
	})

	return server.Serve(ctx, e.Config.ListenAddr, router, e.Logger)
}

// parseParams reads --pixel, --email, --puid and --1p.
func parseParams(args []string) (connectid.Params, error) {
	var p connectid.Params

	if v, ok := flagValue(args, "--pixel"); ok {
		id, err := strconv.Atoi(v)
		if err != nil {
			return connectid.Params{}, fmt.Errorf("--pixel: %q is not a number", v)
		}
		p.PixelID = id
	}

	p.Email, _ = flagValue(args, "--email")
	p.PUID, _ = flagValue(args, "--puid")

	if v, ok := flagValue(args, "--1p"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return connectid.Params{}, fmt.Errorf("--1p: %q is not a boolean", v)
		}
		p.Yahoo1P = &b
	}

	return p, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if strings.EqualFold(a, flag) {
			return true
		}
	}
	return false
}

// flagValue returns the value of flag given as "--flag value" or
// "--flag=value".
func flagValue(args []string, flag string) (string, bool) {
	for i, a := range args {
		if v, ok := strings.CutPrefix(a, flag+"="); ok {
			return v, true
		}
		if a == flag && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}
