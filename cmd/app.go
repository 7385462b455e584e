package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/stevemurr/list-sync-server/auth"
	"github.com/stevemurr/list-sync-server/config"
	"github.com/stevemurr/list-sync-server/handler"
	"github.com/stevemurr/list-sync-server/lists"
	"github.com/stevemurr/list-sync-server/schema"
	"github.com/stevemurr/list-sync-server/store"
)

// app is the assembled HTTP stack and what must be released after it.
type app struct {
	handler http.Handler
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// build wires store, service, validation, authentication and middleware
// from cfg. Watchers started here stop with ctx.
func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	if cfg.StoreBackend == "json" || cfg.StoreBackend == "sqlite" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	s, err := store.New(ctx, store.Options{
		Backend:        cfg.StoreBackend,
		DataDir:        cfg.DataDir,
		DynamoTable:    cfg.DynamoTable,
		DynamoRegion:   cfg.DynamoRegion,
		DynamoEndpoint: cfg.DynamoEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store (backend=%s): %w", cfg.StoreBackend, err)
	}
	if c, ok := s.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	sch, err := schema.Resolve(cfg.SchemaFile)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("load schema: %w", err)
	}
	opts := []handler.Option{
		handler.WithSchema(sch),
		handler.WithMaxBodyBytes(int64(cfg.MaxBodyBytes)),
	}

	if cfg.UserFile == "" {
		slog.WarnContext(ctx, "No user-file configured, authentication is disabled")
	} else {
		users, err := auth.Load(cfg.UserFile)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		if err := users.Watch(ctx); err != nil {
			slog.WarnContext(ctx, "Users file will not be reloaded", "err", err)
		}
		slog.InfoContext(ctx, "Loaded users", "path", users.Path(), "count", users.Len())
		opts = append(opts, handler.WithAuth(users))
	}

	mws := []handler.Middleware{handler.RequestID, handler.AccessLog, handler.CORS(cfg.AllowedOrigins)}
	if cfg.RateLimit > 0 {
		l := handler.NewLimiter(float64(cfg.RateLimit), cfg.RateBurst)
		a.closers = append(a.closers, func() error { l.Stop(); return nil })
		mws = append(mws, handler.RateLimit(l))
	}

	svc := lists.New(s)
	a.handler = handler.Chain(handler.New(svc, opts...), mws...)
	return a, nil
}
