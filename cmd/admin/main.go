// Package main runs the admin web view.
//
// One user list controller is shared by every browser tab: the page renders
// its snapshot and posts intents back to it, and /api/stream pushes each
// change so open tabs stay current.
package main

import (
	"log/slog"
	"os"

	"github.com/sakif/user-admin/internal/config"
	"github.com/sakif/user-admin/internal/directory"
	"github.com/sakif/user-admin/internal/server"
	"github.com/sakif/user-admin/internal/userlist"
)

func main() {
	cfg, err := config.LoadAdmin()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	// === 1. ACCESS CLIENT ===
	access, err := directory.New(cfg.DirectoryURL, directory.WithLogger(logger))
	if err != nil {
		logger.Error("invalid DIRECTORY_URL",
			slog.String("value", cfg.DirectoryURL),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// === 2. CONTROLLER ===
	// Mount starts the initial load; the page shows "Loading" until it lands.
	ctl := userlist.New(access, logger, userlist.WithCallTimeout(cfg.CallTimeout))
	ctl.Mount()

	// === 3. SERVER ===
	srv, err := server.NewAdmin(cfg, logger, ctl)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		ctl.Close()
		os.Exit(1)
	}

	err = srv.Start()
	ctl.Close()
	<-ctl.Done()
	if err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
