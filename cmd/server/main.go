package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"spacechat/internal/app"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", envOrDefault("SPACECHAT_ADDR", ":8080"), "server listen address")
	path := flag.String("path", envOrDefault("SPACECHAT_PATH", "/join"), "websocket join path")
	db := flag.String("db", envOrDefault("SPACECHAT_DB_PATH", ""), "sqlite database path")
	multiDevice := flag.Bool("multi-device", os.Getenv("SPACECHAT_MULTI_DEVICE") == "1", "allow the same user id to hold several live connections")
	flag.Parse()

	cfg := app.ServerConfig{
		Addr:        *addr,
		Path:        app.NormalizeJoinPath(*path),
		DBPath:      *db,
		MultiDevice: *multiDevice,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = app.DefaultDBPath()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("SpaceChat server listening on %s (ws path %s, db %s)", handle.Addr(), cfg.Path, cfg.DBPath)
	if err := handle.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("server error: %v", err)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
