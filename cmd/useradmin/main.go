// Package main is the terminal front end of the user list: the same
// controller as the admin web view, driven line by line from stdin.
//
//	DIRECTORY_URL=http://localhost:8080 useradmin
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/sakif/user-admin/internal/config"
	"github.com/sakif/user-admin/internal/console"
	"github.com/sakif/user-admin/internal/directory"
	"github.com/sakif/user-admin/internal/userlist"
)

func main() {
	cfg, err := config.LoadConsole()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	// Logs go to stderr so they never mix with table output.
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	access, err := directory.New(cfg.DirectoryURL, directory.WithLogger(logger))
	if err != nil {
		logger.Error("invalid DIRECTORY_URL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctl := userlist.New(access, logger, userlist.WithCallTimeout(cfg.CallTimeout))
	defer func() {
		ctl.Close()
		<-ctl.Done()
	}()
	ctl.Mount()

	// Ctrl+C ends the process as usual; Ctrl+D or "exit" end it cleanly.
	if err := console.New(ctl, os.Stdin, os.Stdout).Run(context.Background()); err != nil {
		logger.Error("console error", slog.String("error", err.Error()))
	}
}
