// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ffutop/modbuskit/internal/config"
	"github.com/ffutop/modbuskit/internal/router"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured slaves",
		Long: `Serve every server of the configuration file: listen on its upstreams
and answer each unit ID from a local slave or a forwarded remote slave.

Press Ctrl+C to stop.`,
		Example: `  modbuskit serve --config /etc/modbuskit/config.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	slog.Info("Starting modbuskit...")

	var routers []*router.Router
	for _, srvCfg := range cfg.Servers {
		r, err := router.FromConfig(srvCfg)
		if err != nil {
			slog.Error("Skipping server", "name", srvCfg.Name, "err", err)
			continue
		}
		routers = append(routers, r)
	}
	if len(routers) == 0 {
		return errors.New("no valid servers configured")
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var wg sync.WaitGroup
	for _, r := range routers {
		wg.Add(1)
		go func(r *router.Router) {
			defer wg.Done()
			if err := r.Start(ctx); err != nil {
				slog.Error("Server stopped with error", "name", r.Name, "err", err)
			}
		}(r)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	cancel()
	wg.Wait()
	slog.Info("Goodbye.")
	return nil
}
