// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command forged is Forge's CI/CD automation daemon (spec.md §1):
// webhook ingress, event processing, workflow execution, and validation.
// Grounded on the teacher's cmd/conductord (flag parsing, signal-driven
// graceful shutdown, drain-before-close ordering).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/forgecd/forge/internal/config"
	"github.com/forgecd/forge/internal/core"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to a YAML config file (defaults applied for anything unset)")
		host        = flag.String("host", "", "override server.host")
		port        = flag.Int("port", 0, "override server.port")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("forged %s (commit %s)\n", version, commit)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	c, err := core.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build core: %v\n", err)
		os.Exit(1)
	}
	logger := c.Logger
	slog.SetDefault(logger)

	c.Start()

	addr := net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      c.Server().Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("forged starting", slog.String("addr", addr), slog.String("version", version))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdown(httpServer, c, cfg, logger)
	case err := <-errCh:
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

// shutdown drains in-flight requests (server.drain_timeout, default 30s)
// before closing listeners, then tells Core to cancel active workflows
// and release its subsystems (server.shutdown_timeout, default 30s) -
// grounded on the teacher's Daemon.Shutdown drain-then-close ordering.
func shutdown(httpServer *http.Server, c *core.Core, cfg *config.Config, logger *slog.Logger) {
	httpServer.SetKeepAlivesEnabled(false)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeout)
	defer cancel()
	if err := httpServer.Shutdown(drainCtx); err != nil {
		logger.Warn("drain timeout exceeded, forcing close", slog.Any("error", err))
		_ = httpServer.Close()
	}

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel2()
	if err := c.Shutdown(shutdownCtx); err != nil {
		logger.Error("core shutdown error", slog.Any("error", err))
	}
}
