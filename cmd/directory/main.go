// Package main runs the reference directory service: the HTTP endpoint the
// admin view and console load accounts from and delete accounts through.
//
// It owns the SQLite store and serves:
//
//	GET    /users   all accounts, oldest first
//	POST   /users   register an account
//	DELETE /users   delete by {"email": "..."}
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/user-admin/internal/config"
	"github.com/sakif/user-admin/internal/server"
)

func main() {
	// === 1. CONFIGURATION ===
	cfg, err := config.LoadDirectory()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	// === 2. DATABASE DIRECTORY ===
	// os.MkdirAll is `mkdir -p`; a no-op when the directory already exists.
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 3. SERVER ===
	srv, users, err := server.NewDirectory(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 4. OPTIONAL SEED ===
	if cfg.SeedFile != "" {
		if err := seed(users.Seed, cfg.SeedFile); err != nil {
			logger.Error("failed to seed store",
				slog.String("file", cfg.SeedFile),
				slog.String("error", err.Error()),
			)
			srv.Close()
			os.Exit(1)
		}
	}

	// Start() blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func seed(fn func(context.Context, io.Reader) (int, error), path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fn(context.Background(), f)
	return err
}
