package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"spacechat/internal/app"
)

func main() {
	_ = godotenv.Load()

	defaultServer := envOrDefault("SPACECHAT_SERVER", "ws://localhost:8080/join")
	defaultUser := envOrDefault("SPACECHAT_USER", "")

	serverJoinURL := flag.String("server", defaultServer, "WebSocket join URL (e.g., ws://localhost:8080/join)")
	userID := flag.String("user", defaultUser, "default 5-digit code for the login prompt")
	cacheDir := flag.String("cache-dir", envOrDefault("SPACECHAT_CACHE_DIR", ""), "directory for the per-user message cache")
	flag.Parse()

	cfg := app.ClientConfig{
		ServerURL: *serverJoinURL,
		UserID:    *userID,
		CacheDir:  *cacheDir,
	}

	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
