package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"caisse/backend/internal/app"
	"caisse/backend/internal/config"
	"caisse/backend/internal/httpapi"
	"caisse/backend/internal/logging"
)

const (
	minIngestSecretLen = 16
	// bcrypt ignores everything past 72 bytes.
	maxIngestSecretLen = 72
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cfg.LogOutput})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	application, err := app.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("ledger unavailable; refusing to start", zap.Error(err))
	}

	api := httpapi.New(application.Service, application.Auth, logger)
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("revenue ledger listening", zap.String("addr", cfg.Address()), zap.String("backend", application.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if err := application.Close(); err != nil {
		logger.Error("close error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.IngestSecret) < minIngestSecretLen {
		return fmt.Errorf("INGEST_SECRET must be set and at least %d characters", minIngestSecretLen)
	}
	if len(cfg.IngestSecret) > maxIngestSecretLen {
		return fmt.Errorf("INGEST_SECRET must be at most %d bytes", maxIngestSecretLen)
	}
	if err := validateSecretStrength(cfg.IngestSecret); err != nil {
		return fmt.Errorf("INGEST_SECRET is too weak: %w", err)
	}
	if cfg.IngestSecret == cfg.AuthSecret {
		return fmt.Errorf("INGEST_SECRET must differ from AUTH_SECRET")
	}
	return nil
}

// validateSecretStrength rejects secrets made of one repeated character or
// containing a well-known placeholder.
func validateSecretStrength(secret string) error {
	lower := strings.ToLower(secret)
	for _, weak := range []string{"changeme", "password", "secret123", "1234567890"} {
		if strings.Contains(lower, weak) {
			return fmt.Errorf("placeholder value not allowed")
		}
	}

	allSame := true
	for i := 1; i < len(secret); i++ {
		if secret[i] != secret[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("repeated-character secret not allowed")
	}
	return nil
}
