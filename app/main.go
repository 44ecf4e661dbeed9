package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/feedloom/feedloom/app/api"
	"github.com/feedloom/feedloom/app/cfg"
	"github.com/feedloom/feedloom/app/database"
	"github.com/feedloom/feedloom/app/feed"
	"github.com/feedloom/feedloom/app/sources"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Feedloom server", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	itemRepo := database.NewItemRepository(db)
	sourceRepo := database.NewSourceRepository(db)
	emailRepo := database.NewEmailRepository(db)
	migrationRepo := database.NewMigrationRepository(db)

	httpClient := &http.Client{Timeout: 30 * time.Second}

	registry := sources.NewRegistry()
	for _, source := range []sources.Source{
		sources.NewZotero(httpClient, appCfg.UserAgent),
		sources.NewNewsletter(emailRepo, appCfg.WorkerCount),
		sources.NewRSS(appCfg.UserAgent),
	} {
		if err := registry.Register(source); err != nil {
			slog.Error("Failed to register source", "type", source.Type(), "error", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()

	if err := seedSourceConfigs(ctx, registry, sourceRepo, appCfg.SourcesFile); err != nil {
		slog.Error("Failed to seed source configurations", "error", err)
		os.Exit(1)
	}

	backfill := feed.NewBackfill(itemRepo, migrationRepo)
	if _, err := backfill.Run(ctx); err != nil {
		// A failed backfill is recorded and retried on next start; normal
		// operation continues with whatever rows were already rewritten.
		slog.Error("Legacy ID backfill failed", "error", err)
	}

	service := feed.NewService(registry, itemRepo, sourceRepo,
		feed.WithFetchTimeout(time.Duration(appCfg.FetchTimeout)*time.Second),
		feed.WithWorkerCount(appCfg.WorkerCount),
	)

	handler := api.NewHandler(service, registry, itemRepo, sourceRepo, emailRepo, db)
	server := api.NewServer(handler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Connection pool is closed via defer
	slog.Info("Shutdown complete")
}

type seedSource struct {
	Type     string            `yaml:"type"`
	Enabled  bool              `yaml:"enabled"`
	Settings map[string]string `yaml:"settings"`
}

type seedFile struct {
	Sources []seedSource `yaml:"sources"`
}

// seedSourceConfigs ensures one source_configs row per registered source
// type. Rows are created from the optional seed file or schema defaults;
// existing rows are left alone so operator edits survive restarts.
func seedSourceConfigs(ctx context.Context, registry *sources.Registry,
	sourceRepo *database.SourceRepository, seedPath string) error {

	seeds := make(map[string]seedSource)
	if data, err := os.ReadFile(seedPath); err == nil {
		var parsed seedFile
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("failed to parse seed file %s: %w", seedPath, err)
		}
		for _, seed := range parsed.Sources {
			seeds[seed.Type] = seed
		}
		slog.Info("Loaded source seed file", "path", seedPath, "sources", len(seeds))
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read seed file %s: %w", seedPath, err)
	}

	for _, sourceType := range registry.Types() {
		existing, err := sourceRepo.Get(ctx, sourceType)
		if err != nil {
			return fmt.Errorf("failed to check source config %s: %w", sourceType, err)
		}
		if existing != nil {
			continue
		}

		config := database.SourceConfig{
			SourceType: sourceType,
			Settings:   map[string]string{},
		}

		source, _ := registry.Get(sourceType)
		for _, field := range source.ConfigSchema().Fields {
			if field.Default != "" {
				config.Settings[field.Name] = field.Default
			}
		}

		if seed, ok := seeds[sourceType]; ok {
			config.Enabled = seed.Enabled
			for name, value := range seed.Settings {
				config.Settings[name] = value
			}
		}

		if err := sourceRepo.Save(ctx, config); err != nil {
			return fmt.Errorf("failed to seed source config %s: %w", sourceType, err)
		}
		slog.Info("Seeded source configuration", "type", sourceType, "enabled", config.Enabled)
	}

	return nil
}
