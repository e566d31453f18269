package main

import (
	"context"
	"flag"

	"ollamachat/internal/pkg/factory"
	"ollamachat/internal/pkg/logutil"
	"ollamachat/pkg/config"
)

func main() {
	var (
		configPath string
		vacuum     bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&vacuum, "vacuum", false, "Compact the database after migrating")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		logutil.Fatal("Failed to load configuration", logutil.Fields{"error": err.Error()})
	}

	logger := factory.NewLogger(cfg.Logging)
	logger.Info("Running database migrations", logutil.Fields{"path": cfg.Storage.Path})

	ctx := context.Background()
	storage, err := factory.OpenSQLite(ctx, cfg.Storage.Path, logger)
	if err != nil {
		logger.Fatal("Migration failed", logutil.Fields{"error": err.Error()})
	}
	defer storage.Close()

	if vacuum {
		if err := storage.Vacuum(ctx); err != nil {
			logger.Fatal("Vacuum failed", logutil.Fields{"error": err.Error()})
		}
		logger.Info("Database compacted")
	}

	logger.Info("Migrations completed successfully")
}
