// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/qrng/services/rngd"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:         "serve",
		Short:       "Serve random values over HTTP",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationTelemetry: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Server
			if addr != "" {
				cfg.Addr = addr
			}

			opts, err := a.engineOptions("", false)
			if err != nil {
				return err
			}
			engine, err := rngd.NewEngine(a.logger.Slog(), opts...)
			if err != nil {
				return err
			}
			defer engine.Close()

			server, err := rngd.NewServer(cfg, engine, a.observer, a.logger.Slog())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Fprintf(cmd.OutOrStdout(), "rngd listening on %s\n", cfg.Addr)
			return server.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
