package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HenriqueDutra22/Mycash/internal/domain/import/aiextract"
	importhandler "github.com/HenriqueDutra22/Mycash/internal/domain/import/handler"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/normalizer"
	"github.com/HenriqueDutra22/Mycash/internal/domain/import/parser"
	importrepo "github.com/HenriqueDutra22/Mycash/internal/domain/import/repository"
	importservice "github.com/HenriqueDutra22/Mycash/internal/domain/import/service"

	"github.com/HenriqueDutra22/Mycash/pkg/config"
	"github.com/HenriqueDutra22/Mycash/pkg/db"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	ImportRepo importrepo.ImportRepository

	// Services
	AIExtractor   importservice.AIExtractor
	Orchestrator  *importservice.Orchestrator
	ImportService *importservice.ImportService

	// Handlers
	ImportHandler *importhandler.ImportHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	// Initialize repositories
	deps.initRepositories()

	// Initialize services
	if err := deps.initServices(ctx); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	// Initialize handlers
	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	// Run migrations
	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() {
	d.ImportRepo = importrepo.NewPostgresImportRepository(d.DB.Pool, d.Config.Import.Currency)

	d.Logger.Info("repositories initialized")
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices(ctx context.Context) error {
	locale, err := normalizer.LocaleByName(d.Config.Import.Locale)
	if err != nil {
		return err
	}

	extractor, err := aiextract.NewGeminiExtractor(ctx, d.Config.AI.GeminiAPIKey, d.Config.AI.Model, d.Logger)
	switch {
	case errors.Is(err, aiextract.ErrNotConfigured):
		d.Logger.Warn("GEMINI_API_KEY missing; AI extraction disabled")
	case err != nil:
		return fmt.Errorf("failed to init AI extractor: %w", err)
	default:
		extractor.Timeout = d.Config.AI.Timeout
		d.AIExtractor = extractor
	}

	d.Orchestrator = importservice.NewOrchestrator(parser.Options{
		Locale:     locale,
		Classifier: normalizer.NewKeywordClassifier(),
		PDFWorkers: d.Config.Import.PDFWorkers,
	}, d.AIExtractor, d.Config.Import.AutoAIFallback, d.Logger)

	d.ImportService = importservice.NewImportService(d.ImportRepo, d.Orchestrator, d.Config.Import.MaxUploadBytes, d.Logger)

	d.Logger.Info("services initialized", slog.Bool("ai_enabled", d.Orchestrator.AIEnabled()))
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() {
	d.ImportHandler = importhandler.NewImportHandler(d.ImportService)

	d.Logger.Info("handlers initialized")
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
