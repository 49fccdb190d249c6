// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/docudactyl/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the parse engine over HTTP",
	Long: `Serve exposes parse, stats and cache maintenance as a JSON API on
server.addr. When server.jwt_secret (or the server-jwt-secret secret) is set,
every /v1 route except /v1/version requires an HS256 bearer token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		return server.New(e, cfg.Server, logger).ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default: server.addr)")
	rootCmd.AddCommand(serveCmd)
}
