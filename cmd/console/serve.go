package main

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

	"messenger-console/cache"
	"messenger-console/db"
	"messenger-console/handlers"
	"messenger-console/logger"
	"messenger-console/pkg/auth"
	"messenger-console/pkg/media"
	"messenger-console/pkg/meta"
	"messenger-console/pkg/push"
	"messenger-console/pkg/realtime"
	"messenger-console/pkg/telemetry"
	"messenger-console/services"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, webhook and realtime server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		logger.LogInfo("🚀 Starting Messenger console %s", version)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry)
		if err != nil {
			logger.LogWarn("Tracing not started: %v", err)
		}
		defer shutdownTracing(context.Background())

		gdb, err := db.Connect(cfg.Database)
		if err != nil {
			return err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		defer sqlDB.Close()
		if err := db.Migrate(gdb); err != nil {
			return err
		}

		users := db.NewUserRepository(gdb)
		if _, err := db.SeedAdmin(ctx, users, cfg.Auth.DefaultAdminUser, cfg.Auth.DefaultAdminPassword); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		pages := db.NewPageRepository(gdb)
		customers := db.NewCustomerRepository(gdb)
		ledger := db.NewLedger(gdb)

		profiles := cache.NewProfileCache(ctx, cfg.Redis)
		defer profiles.Close()

		store, err := media.Open(ctx, cfg.Media.BucketURL, cfg.Media.PublicPrefix)
		if err != nil {
			return err
		}
		defer store.Close()

		pusher, err := push.NewClient(ctx, cfg.Push)
		if err != nil {
			logger.LogWarn("Push notifications unavailable: %v", err)
			pusher = &push.Client{}
		}

		graph := meta.NewClient(cfg.Meta.GraphURL, nil)
		creds := services.NewPageCredentials(pages, nil)
		identity := services.NewIdentityResolver(customers, ledger, graph, profiles)
		hub := realtime.NewHub()

		policy, err := auth.NewPolicy()
		if err != nil {
			return err
		}
		authenticator := auth.NewAuthenticator(
			auth.NewTokenIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL),
			policy,
			cfg.Auth.CookieName,
			cfg.Auth.SecureCookie,
		)

		if cfg.Archive.Enabled {
			archiver, err := services.NewArchiver(ledger, cfg.Archive.Cron, cfg.Archive.Days)
			if err != nil {
				return err
			}
			archiver.Start(ctx)
		}

		base := handlers.NewBaseHandler(handlers.Deps{
			Config:      cfg,
			Auth:        authenticator,
			Users:       users,
			Pages:       pages,
			Customers:   customers,
			Ledger:      ledger,
			Notes:       db.NewNoteRepository(gdb),
			MediaIndex:  db.NewMediaRepository(gdb),
			Media:       store,
			Credentials: creds,
			Profiles:    profiles,
			Pipeline:    services.NewPipeline(creds, ledger, identity, hub, pusher, users),
			Outbound:    services.NewOutbound(ledger, creds, graph, cfg.Server.PublicURL, cfg.Media.PublicPrefix),
			Hub:         hub,
			Graph:       graph,
			Ping:        sqlDB.PingContext,
		})

		srv := &http.Server{
			Addr:              ":" + cfg.Server.Port,
			Handler:           handlers.NewRouter(base),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.LogInfo("🌐 Server starting on port %s", cfg.Server.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.LogInfo("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr := srv.Shutdown(shutdownCtx)
		if err := base.Drain(shutdownCtx); err != nil {
			logger.LogWarn("Webhook work still running at shutdown: %v", err)
		}
		if shutdownErr != nil {
			return fmt.Errorf("shutdown: %w", shutdownErr)
		}
		logger.LogInfo("✅ Server stopped")
		return nil
	},
}
