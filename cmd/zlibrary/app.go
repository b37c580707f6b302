package main

import (
	"os"

	"github.com/banux/zlibrary/internal/apperr"
	"github.com/banux/zlibrary/internal/catalog"
	"github.com/banux/zlibrary/internal/catalog/sqlite"
	"github.com/banux/zlibrary/internal/config"
	"github.com/banux/zlibrary/internal/credential"
	"github.com/banux/zlibrary/internal/orchestrator"
	"github.com/banux/zlibrary/internal/session"
	"github.com/banux/zlibrary/internal/upstream"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds every long-lived component a subcommand needs: the Credential
// Store -> Manager -> Session Pool -> Orchestrator chain, and the Catalog
// Service over its Repositories, composed in the order spec.md §6.4
// describes. One app is built per invocation; nothing here is a
// package-level global (spec.md §9 "Global process state").
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	backend *sqlite.Backend
	catalog *catalog.Service
	orch    *orchestrator.Orchestrator
}

// buildApp loads configuration, validates credentials, and wires the full
// dependency chain. The returned close function must run before the process
// exits so the catalog database is closed cleanly.
func buildApp(cmd *cobra.Command) (*app, func(), error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		cfgPath = config.FindConfigFile()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, apperr.Config("load configuration", err)
	}

	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}

	log := newLogger(cfg.LogLevel)

	credsPath, _ := cmd.Flags().GetString("credentials")
	if credsPath == "" {
		credsPath = cfg.CredentialsFile
	}
	src := credential.DetectSource(credsPath)
	loaded, err := credential.Load(src)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Int("total_seen", loaded.TotalSeen).Int("enabled", len(loaded.Credentials)).Msg("credentials loaded")

	client := upstream.NewHTTPClient(cfg.UpstreamBaseURL, cfg.RequestTimeout)

	mgr, err := credential.NewManager(loaded.Credentials, cfg.StateFile, client, log)
	if err != nil {
		return nil, nil, err
	}

	pool := session.New(client, mgr)

	backend, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() {
		if cerr := backend.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("closing catalog backend")
		}
	}

	if err := pool.ValidateAll(cmd.Context()); err != nil {
		closeFn()
		return nil, nil, err
	}

	svc := catalog.NewService(backend)
	orch := orchestrator.New(pool, svc, log)

	return &app{cfg: cfg, log: log, backend: backend, catalog: svc, orch: orch}, closeFn, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(lvl).
		With().Timestamp().Logger()
}
