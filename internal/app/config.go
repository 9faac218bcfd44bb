package app

import (
	"os"
	"path/filepath"
	"runtime"
)

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr        string
	Path        string
	DBPath      string
	MultiDevice bool
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL string
	UserID    string
	CacheDir  string
}

// DefaultDBPath returns a per-user data path for the server's SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("SPACECHAT_DB_PATH"); env != "" {
		return env
	}
	return filepath.Join(defaultDataDir(), "spacechat.db")
}

// DefaultCacheDir returns where per-user client caches live.
func DefaultCacheDir() string {
	if env := os.Getenv("SPACECHAT_CACHE_DIR"); env != "" {
		return env
	}
	return filepath.Join(defaultDataDir(), "cache")
}

func defaultDataDir() string {
	if env := os.Getenv("SPACECHAT_DATA_DIR"); env != "" {
		return env
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "spacechat")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Spacechat")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Spacechat")
		}
		return filepath.Join(home, ".local", "share", "spacechat")
	}
	return filepath.Join(".", ".spacechat")
}

// NormalizeJoinPath guarantees the websocket join path starts with '/' and
// falls back to /join when empty.
func NormalizeJoinPath(path string) string {
	if path == "" {
		return "/join"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
