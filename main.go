package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"example.com/playchat/auth"
	"example.com/playchat/config"
	"example.com/playchat/internal/api"
	"example.com/playchat/pkg/server"
	"example.com/playchat/store"
)

func main() {
	serverCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", cfg.SQLite.File))
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	goose.SetBaseFS(os.DirFS(cfg.SQLite.Migrations))

	if err := goose.SetDialect("sqlite3"); err != nil {
		log.Fatalf("dialect: %v", err)
	}

	if err := goose.Up(db, "."); err != nil {
		log.Fatalf("migrate up: %v", err)
	}

	feed := store.NewFeed(store.WithLogger(logger))
	st := store.NewSQLiteStore(db, feed)

	tokenOptions := auth.TokenOptions{
		Secret: cfg.Auth.Secret,
		Exp:    24 * time.Hour,
	}
	identity := auth.NewStoreIdentity(st, tokenOptions)

	_api := api.NewApi(st, identity, logger, api.ApiConfig{
		AllowedOrigins: cfg.AllowedOrigins,
	})

	r := chi.NewRouter()
	r.Mount("/api", _api.Mux())

	srv := server.Server{
		Server: &http.Server{
			Handler: r,
			Addr:    fmt.Sprintf("%s:%d", cfg.Hostname, cfg.Port),
		},
		Logger: logger,
		CleanUpFuncs: []func(ctx context.Context){
			func(ctx context.Context) { feed.Close() },
		},
	}

	srv.Start(serverCtx)
}
