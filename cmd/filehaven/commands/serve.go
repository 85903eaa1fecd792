package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/filehaven/filehaven/internal/api"
	"github.com/filehaven/filehaven/internal/logger"
	"github.com/filehaven/filehaven/pkg/audit"
	"github.com/filehaven/filehaven/pkg/config"
	"github.com/filehaven/filehaven/pkg/identity"
	"github.com/filehaven/filehaven/pkg/s3config"
	"github.com/filehaven/filehaven/pkg/s3conn"
	"github.com/filehaven/filehaven/pkg/session"
	"github.com/filehaven/filehaven/pkg/storage/local"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the FileHaven server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("configuration loaded", "source", configSource())

	users, err := identity.Load(identity.LoadOptions{
		FileRoot:      cfg.Files.Root,
		UsersFile:     cfg.Auth.UsersFile,
		UsersJSON:     cfg.Auth.UsersJSON,
		AdminPassword: cfg.Auth.AdminPassword,
	})
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}
	logger.Info("users loaded", "count", users.Len())

	authority, err := session.New(session.Config{
		Secret:       cfg.Auth.SessionSecret,
		TTL:          cfg.Auth.SessionTTL,
		RotateWindow: cfg.Auth.RotateWindow,
	}, users)
	if err != nil {
		return fmt.Errorf("failed to create session authority: %w", err)
	}

	// Repair trash state left behind by interrupted deletions.
	for _, user := range users.All() {
		if err := local.New(user.RootReal).Reconcile(); err != nil {
			logger.Warn("trash reconcile failed",
				logger.KeyUsername, user.Username, logger.KeyError, err)
		}
	}

	auditLog, err := audit.Open(cfg.Audit.LogPath)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() {
		if err := auditLog.Close(); err != nil {
			logger.Error("audit log close error", logger.KeyError, err)
		}
	}()

	profiles := s3config.NewStore(cfg.Files.SettingsPath)
	conns := s3conn.NewRegistry(cfg.S3.MaxConnections, nil)

	server := api.NewServer(api.Deps{
		Config:    cfg,
		Users:     users,
		Authority: authority,
		Profiles:  profiles,
		Conns:     conns,
		Audit:     auditLog,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("server is running", "addr", server.Addr())

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()
		if err := <-serverDone; err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		logger.Info("server stopped gracefully")
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("server stopped")
	}
	return nil
}

func configSource() string {
	if cfgFile != "" {
		return cfgFile
	}
	return "defaults and environment"
}
