package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"canvas/api/internal/app"
	"canvas/api/internal/auth"
	"canvas/api/internal/authpw"
	"canvas/api/internal/blob"
	"canvas/api/internal/config"
	"canvas/api/internal/email"
	"canvas/api/internal/repository"
	"canvas/api/internal/search"
	"canvas/api/internal/session"
	"canvas/api/internal/state"
	"canvas/api/internal/store"
)

// wiring holds everything serve builds, plus the cleanup to run on exit.
type wiring struct {
	db       *sql.DB
	records  store.RecordStore
	ready    app.Pinger
	table    string
	blobs    blob.Store
	sessions *session.Manager
	state    *state.Store
	search   *search.Service
	closers  []func()
}

func (r *wiring) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func openRecords(ctx context.Context, cfg config.Config, migrate bool, rt *wiring) error {
	switch strings.ToLower(strings.TrimSpace(cfg.RecordStore)) {
	case config.RecordStoreMemory:
		slog.Warn("using in-memory record store; data is lost on exit")
		rt.records = store.NewMemoryStore(store.DefaultTables(cfg.WorkspaceTables[0])...)
		return nil
	case config.RecordStorePostgres, "":
	default:
		return fmt.Errorf("unknown record store %q", cfg.RecordStore)
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	rt.closers = append(rt.closers, func() { _ = db.Close() })

	if migrate {
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	}
	pg := store.NewPostgresStore(db)
	rt.db = db
	rt.records = pg
	rt.ready = pg
	return nil
}

func openSessions(cfg config.Config, rt *wiring) (session.Store, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		slog.Info("using in-memory session store")
		return session.NewMemoryStore(), nil
	}
	slog.Info("using redis for session storage")
	redisStore, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	rt.closers = append(rt.closers, func() { _ = redisStore.Close() })
	return redisStore, nil
}

// build wires the record store, sessions, local blobs, search and the state
// store, then restores the theme and starts auth.
func build(ctx context.Context, cfg config.Config, migrate bool) (*wiring, error) {
	rt := &wiring{}
	logger := slog.Default()

	if len(cfg.WorkspaceTables) == 0 {
		return nil, &repository.SchemaResolutionError{}
	}
	if err := openRecords(ctx, cfg, migrate, rt); err != nil {
		rt.Close()
		return nil, err
	}

	table, err := repository.ResolveWorkspaceTable(ctx, rt.records, cfg.WorkspaceTables)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.table = table
	logger.Info("workspace table resolved", "table", table)

	sessionStore, err := openSessions(cfg, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}
	accounts := authpw.NewService(authpw.NewRecordUserStore(rt.records))
	manager := session.NewManager(accounts, sessionStore, auth.NewSigner(cfg.JWTSecret, cfg.AccessTTL), cfg.SessionTTL)
	rt.sessions = manager
	rt.closers = append(rt.closers, manager.Close)

	blobs, err := blob.Open(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open local state (%s): %w", cfg.BlobBackend, err)
	}
	rt.blobs = blobs
	if closer, ok := blobs.(io.Closer); ok {
		rt.closers = append(rt.closers, func() { _ = closer.Close() })
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}, logger)

	st := state.New(state.Options{
		Repository:  repository.New(rt.records, table),
		Sessions:    manager,
		Blobs:       blobs,
		Invites:     mailer,
		Logger:      logger,
		BaseContext: ctx,
	})
	rt.state = st
	rt.closers = append(rt.closers, st.Close)

	rt.search = buildSearch(ctx, cfg, rt, logger)
	rt.closers = append(rt.closers, rt.search.Wait)
	st.Subscribe(rt.search.Listen)

	if err := st.RestoreTheme(ctx); err != nil {
		logger.Warn("restore theme failed", "error", err)
	}
	if err := st.InitializeAuth(ctx); err != nil {
		logger.Warn("initialize auth failed", "error", err)
	}
	return rt, nil
}

func buildSearch(ctx context.Context, cfg config.Config, rt *wiring, logger *slog.Logger) *search.Service {
	var fallback search.Searcher
	var pgfts *search.PgFTS
	if rt.db != nil {
		pgfts = search.NewPgFTS(rt.db, rt.table)
		fallback = pgfts
	} else {
		fallback = search.NewLocal(func() []search.Record {
			return search.RecordsFromState(rt.state.Snapshot(), "")
		})
	}

	if strings.TrimSpace(cfg.MeiliURL) == "" {
		return search.NewService(nil, fallback, logger)
	}
	meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	rt.closers = append(rt.closers, meili.Close)
	svc := search.NewService(meili, fallback, logger)
	if pgfts != nil {
		go svc.Reindex(ctx, pgfts)
	}
	return svc
}
