// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// context-syncd is the editor context synchronization daemon.
//
// It listens for cursor, viewport, and buffer events from the editor
// plugin, resolves each settled position to code intelligence facts
// through language servers, and streams the results to the display
// client over a unix socket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/star-lance/nvim-hoverfloat/pkg/logging"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync"
	"github.com/star-lance/nvim-hoverfloat/services/contextsync/config"
)

// Populated via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

var (
	configPath    string
	logLevel      string
	logDir        string
	quiet         bool
	displaySocket string
	eventsSocket  string
	rootPath      string

	rootCmd = &cobra.Command{
		Use:   "context-syncd",
		Short: "Editor context synchronization daemon",
		Long: `context-syncd keeps an external display window in sync with the
editor cursor: hover documentation, definitions, references, and type
information, cached and prefetched so the display updates without
waiting on language servers.`,
		RunE: runDaemon,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("context-syncd %s (%s)\n", version, commit)
		},
	}
)

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&logDir, "log-dir", "", "directory for JSON log files")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "disable stderr logging")
	rootCmd.Flags().StringVar(&displaySocket, "display-socket", "", "unix socket of the display client")
	rootCmd.Flags().StringVar(&eventsSocket, "events-socket", "", "unix socket for editor events")
	rootCmd.Flags().StringVar(&rootPath, "root", "", "workspace root for language servers")

	rootCmd.AddCommand(versionCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Flags beat file and environment.
	if displaySocket != "" {
		cfg.Display.SocketPath = displaySocket
	}
	if eventsSocket != "" {
		cfg.Events.SocketPath = eventsSocket
	}
	if rootPath != "" {
		cfg.LSP.RootPath = rootPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logDir != "" {
		cfg.Logging.Dir = logDir
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "context-syncd",
		JSON:    cfg.Logging.JSON,
		Quiet:   quiet,
	})
	defer logger.Close()

	svc, err := contextsync.NewService(cfg, logger.Slog())
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return svc.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
