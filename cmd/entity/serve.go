package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/susom/redcap-entity/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the entity HTTP API",
	Long: `Serve exposes registered types and their records over JSON HTTP.
Callers authenticate with an HS256 bearer token whose subject is a
directory user; the project claim selects the owning project.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		eng, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer eng.Close()

		handler, err := server.New(server.Config{
			Registry:  eng.Registry,
			Directory: eng.Directory,
			BasePath:  cfg.GetString(cfgKeyServerBasePath),
			Auth: server.AuthConfig{
				JWTSecret:      cfg.GetString(cfgKeyJWTSecret),
				AllowAnonymous: cfg.GetBool(cfgKeyAllowAnonymous),
			},
			Logger:  logger,
			Version: version,
		})
		if err != nil {
			return err
		}

		addr := cfg.GetString(cfgKeyServerAddr)
		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			logger.Info("listening", "addr", addr)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default 127.0.0.1:8080)")
	serveCmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	serveCmd.Flags().Bool("allow-anonymous", false, "accept requests without a token")
}
