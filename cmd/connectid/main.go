package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/zarlcorp/core/pkg/zapp"

	"github.com/zarlcorp/connectid/internal/cli"
	"github.com/zarlcorp/connectid/internal/config"
	"github.com/zarlcorp/connectid/internal/connectid"
	"github.com/zarlcorp/connectid/internal/kv"
	"github.com/zarlcorp/connectid/internal/tui"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	app := zapp.New(zapp.WithName("connectid"))

	ctx, cancel := zapp.SignalContext(context.Background())
	defer cancel()

	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "connectid: %v\n", err)
		os.Exit(1)
	}

	log := cfg.Logger(os.Stderr)
	slog.SetDefault(log)

	e := cli.Env{
		Config: cfg,
		Logger: log,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}

	if len(os.Args) > 1 && os.Args[1] != "demo" {
		err = runCLI(ctx, e, os.Args[1], os.Args[2:])
	} else {
		err = runTUI(e)
	}

	if cerr := app.Close(); cerr != nil {
		slog.Error("shutdown", "err", cerr)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "connectid: %v\n", err)
		os.Exit(1)
	}
}

func runCLI(ctx context.Context, e cli.Env, cmd string, args []string) error {
	switch cmd {
	case "version":
		fmt.Printf("connectid %s\n", version)
		return nil
	case "resolve":
		return cli.CmdResolve(ctx, e, args)
	case "show":
		return cli.CmdShow(e, args)
	case "reset":
		return cli.CmdReset(e, args)
	case "optout":
		return cli.CmdOptOut(e)
	case "optin":
		return cli.CmdOptIn(e)
	case "hash":
		return cli.CmdHash(ctx, e, args)
	case "serve":
		return cli.CmdServe(ctx, e)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runTUI(e cli.Env) error {
	dataDir := e.Dir()

	var (
		storage *kv.Encrypted
		client  *connectid.Client
	)
	defer func() {
		if client != nil {
			client.Close()
		}
		if storage != nil {
			storage.Close()
		}
	}()

	open := func(passphrase string) (tui.Resolver, error) {
		s, err := cli.OpenStorage(dataDir, passphrase)
		if err != nil {
			return nil, err
		}
		storage = s
		// stderr output would tear the terminal UI
		client = cli.NewClient(e.Config, s, slog.New(slog.DiscardHandler), nil)
		return client, nil
	}

	m := tui.New(version, open, cli.IsFirstRun(dataDir))
	_, err := tea.NewProgram(m).Run()
	return err
}
