package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/escra-platform/portal/api"
	"github.com/escra-platform/portal/internal/config"
	"github.com/escra-platform/portal/internal/db"
	"github.com/escra-platform/portal/internal/gate"
	"github.com/escra-platform/portal/internal/identity"
	"github.com/escra-platform/portal/internal/repository"
	"github.com/escra-platform/portal/internal/status"
	"github.com/escra-platform/portal/internal/ws"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the portal gateway",
	Long: `Start the portal gateway.

Settings come from the optional --config YAML file, overridden by the
PORT, DB_PATH, JWT_SECRET, TOKEN_TTL, REDIS_ADDR and REDIS_PASSWORD
environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file")
}

func serve(ctx context.Context, cfg *config.Config) error {
	// Ensure data directories exist
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.CloseDB()

	revoker, closeRevoker, err := newRevoker(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeRevoker()

	secret, err := resolveSecret(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}

	users := repository.NewUserRepository(database)
	idSvc, err := identity.NewService(users, identity.NewTokenIssuer(secret, cfg.Auth.TokenTTL), revoker, identity.Config{})
	if err != nil {
		return fmt.Errorf("failed to initialize identity service: %w", err)
	}

	statusRepo := repository.NewStatusRepository(database)
	realtime := ws.NewService(statusRepo, cfg.Realtime.AllowedOrigins)
	defer realtime.Close()

	r := api.NewRouter(api.Dependencies{
		Policy:      gate.NewPolicy(cfg.Routes, cfg.Auth),
		Identity:    idSvc,
		Status:      status.NewService(statusRepo, realtime),
		Realtime:    realtime,
		TokenTTL:    cfg.Auth.TokenTTL,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// newRevoker connects the shared revocation list when redis is configured
// and falls back to an in-process list otherwise.
func newRevoker(ctx context.Context, cfg config.RedisConfig) (identity.Revoker, func(), error) {
	if cfg.Addr == "" {
		return identity.NewMemoryRevoker(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	log.Printf("Using redis revocation list at %s", cfg.Addr)
	return identity.NewRedisRevoker(rdb, cfg.Prefix), func() { rdb.Close() }, nil
}

// resolveSecret returns the configured signing secret, or a random one
// when none is set. Tokens signed with a random secret do not survive a
// restart.
func resolveSecret(configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate signing secret: %w", err)
	}
	log.Println("WARNING: JWT_SECRET is not set, using a random secret; sessions end on restart")
	return []byte(hex.EncodeToString(buf)), nil
}
