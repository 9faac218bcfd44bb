package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	intrnl "spacechat/internal"
	"spacechat/internal/storage"
)

// RunClient launches the Bubble Tea TUI with the provided configuration. Each
// user gets their own durable cache database under cfg.CacheDir.
func RunClient(cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = DefaultCacheDir()
	}
	openCache := func(userID string) (intrnl.Cache, error) {
		if err := os.MkdirAll(cacheDir, 0o700); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		return storage.NewCacheStore(filepath.Join(cacheDir, userID+".db"))
	}
	return intrnl.RunClient(cfg.ServerURL, cfg.UserID, openCache)
}
