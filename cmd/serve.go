package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaman1990/SisCoreApi/cmd/cmdutil"
	"github.com/xaman1990/SisCoreApi/internal/auth"
	"github.com/xaman1990/SisCoreApi/internal/server"
	"github.com/xaman1990/SisCoreApi/internal/services/catalog"
	"github.com/xaman1990/SisCoreApi/internal/services/permissions"
	"github.com/xaman1990/SisCoreApi/internal/services/roles"
	"github.com/xaman1990/SisCoreApi/internal/services/session"
	"github.com/xaman1990/SisCoreApi/internal/services/users"
	"github.com/xaman1990/SisCoreApi/internal/telemetry"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the SisCore API server",
	Long:  `Starts the HTTP server exposing the tenant-scoped back office API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.ValidateServe(); err != nil {
			return err
		}
		ctx := cmd.Context()

		shutdownTracing, err := telemetry.Init(ctx, cfg.Observability, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(sctx); err != nil {
				logger.Warn("telemetry shutdown failed", zap.Error(err))
			}
		}()

		b, err := cmdutil.NewBundle(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer b.Close()
		logger.Info("connected to master database")

		tokens, err := auth.NewTokenService(auth.TokenConfig{
			Secret:   cfg.JWT.Secret,
			Issuer:   cfg.JWT.Issuer,
			Audience: cfg.JWT.Audience,
		})
		if err != nil {
			return fmt.Errorf("configure token service: %w", err)
		}
		passwords := auth.NewPasswordService(auth.DefaultBcryptCost)
		metrics := telemetry.NewMetrics()

		corsOpts := server.DefaultCORSOptions(cfg.CORS.AllowedOrigins)
		r := server.NewRouter(server.RouterOptions{
			Resolver: tenancy.NewResolver(b.Registry, cfg.Tenancy, metrics, logger),
			Tokens:   tokens,
			Registry: b.Registry,
			Sessions: session.NewService(b.Stores, tokens, passwords, session.Config{
				AccessTTL:  cfg.JWT.AccessTTL,
				RefreshTTL: cfg.JWT.RefreshTTL,
			}, metrics, logger),
			Permissions: permissions.NewEngine(b.Stores, metrics, logger),
			Catalog:     catalog.NewManager(b.Stores, logger),
			Roles:       roles.NewService(b.Stores, b.Authority, logger),
			Users:       users.NewService(b.Stores, passwords, logger),
			Master:      b.Authority,
			Metrics:     metrics,
			Logger:      logger,
			CORSOptions: &corsOpts,
		})

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting server", zap.String("addr", cfg.ServerAddr))
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			logger.Info("shutting down gracefully", zap.String("signal", sig.String()))

			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			logger.Info("server stopped")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
