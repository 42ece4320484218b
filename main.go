package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pagechat/pagechat/internal/api"
	"github.com/pagechat/pagechat/internal/config"
	"github.com/pagechat/pagechat/pkg/auth"
	"github.com/pagechat/pagechat/pkg/docstore"
	"github.com/pagechat/pagechat/pkg/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "err", err)
		os.Exit(1)
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		slog.Error("loading config", "err", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	serverCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer stop()

	db, err := docstore.Open(cfg.DataDir, log)
	if err != nil {
		log.Error("opening document store", "err", err)
		os.Exit(1)
	}

	_api := api.NewApi(db, log, api.ApiConfig{
		TokenOptions: auth.TokenOptions{
			Secret: []byte(cfg.TokenSecret),
			Exp:    cfg.TokenTTL,
		},
		PageCapacity:   cfg.PageCapacity,
		MaxCatchUp:     cfg.MaxCatchUp,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	r := chi.NewRouter()
	r.Mount("/api", _api.Mux())

	srv := server.Server{
		Server: &http.Server{
			Handler:           r,
			Addr:              cfg.Addr,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Log: log,
		CleanUpFuncs: []func(ctx context.Context){
			func(_ context.Context) {
				if err := db.Close(); err != nil {
					log.Error("closing document store", "err", err)
				}
			},
		},
	}

	srv.Start(serverCtx)
}
