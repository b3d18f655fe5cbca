package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/vincentbai/browsetrace-recorder/internal/config"
	"github.com/vincentbai/browsetrace-recorder/internal/coordinator"
	"github.com/vincentbai/browsetrace-recorder/internal/database"
	"github.com/vincentbai/browsetrace-recorder/internal/platform"
	"github.com/vincentbai/browsetrace-recorder/internal/server"
	"github.com/vincentbai/browsetrace-recorder/internal/transport"
)

func main() {
	cfg, err := config.Load(os.Getenv("BROWSETRACE_CONFIG"))
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	databasePath := cfg.DatabasePath
	if databasePath == "" {
		databasePath = defaultDatabasePath()
	}

	// Initialize database
	db, err := database.NewDatabase(databasePath)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	hub := transport.NewHub(transport.HubConfig{
		PingInterval:   cfg.WebSocket.PingInterval,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}, nil, logger)
	host := platform.NewRemote(hub, cfg.HostContext, cfg.Coordinator.RequestTimeout)
	coord := coordinator.New(cfg.Coordinator, hub, host, db, logger)
	hub.SetHandler(coord)
	hub.OnClose(func(id string) {
		go coord.ConnectionLost(context.Background(), id)
	})

	// Initialize and start server
	srv := server.NewServer(db, coord, hub, cfg.Address, logger)
	if err := srv.Start(); err != nil {
		log.Fatal(err)
	}
}

// defaultDatabasePath returns the per-user application data location.
func defaultDatabasePath() string {
	homeDirectory, err := os.UserHomeDir()
	if err != nil {
		log.Fatal("Failed to get user home directory:", err)
	}

	var applicationDirectory string
	switch runtime.GOOS {
	case "darwin":
		applicationDirectory = filepath.Join(homeDirectory, "Library", "Application Support", "BrowserTrace")
	case "windows":
		applicationDirectory = filepath.Join(homeDirectory, "AppData", "Roaming", "BrowserTrace")
	default: // linux and others
		applicationDirectory = filepath.Join(homeDirectory, ".local", "share", "BrowserTrace")
	}
	if err := os.MkdirAll(applicationDirectory, 0o755); err != nil {
		log.Fatal("Failed to create application directory:", err)
	}
	return filepath.Join(applicationDirectory, "recorder.db")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
