// Command server runs the experiment ledger service.
//
// Startup order:
//  1. Load configuration from environment (.env supported)
//  2. Initialize logger and the ledger database
//  3. Wire the event bus, token ledger client and experiment service
//  4. Start the HTTP server and maintenance scheduler
//  5. Wait for SIGINT/SIGTERM and shut down gracefully
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apothes/labledger/internal/backup"
	"github.com/apothes/labledger/internal/clients/tokenledger"
	"github.com/apothes/labledger/internal/config"
	"github.com/apothes/labledger/internal/database"
	"github.com/apothes/labledger/internal/domain"
	"github.com/apothes/labledger/internal/events"
	"github.com/apothes/labledger/internal/modules/analytics"
	analyticshandlers "github.com/apothes/labledger/internal/modules/analytics/handlers"
	"github.com/apothes/labledger/internal/modules/experiments"
	experimenthandlers "github.com/apothes/labledger/internal/modules/experiments/handlers"
	"github.com/apothes/labledger/internal/scheduler"
	"github.com/apothes/labledger/internal/server"
	"github.com/apothes/labledger/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting labledger")

	db, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := experiments.EnsureSchema(db.Conn()); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize schema")
	}

	// Event bus with a persistent journal alongside the database
	bus := events.NewBus(log)
	journal, err := events.NewJournal(cfg.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open event journal")
	}
	defer journal.Close()
	bus.SubscribeAll(journal.Append)

	assets := tokenledger.NewClient(cfg.TokenLedgerURL, cfg.PoolAddress, log)
	access := experiments.NewAccessControl(cfg.PrimaryAddress, cfg.SecondaryAddress)
	repo := experiments.NewRepository(db.Conn(), log)

	experimentService := experiments.NewService(
		db.Conn(),
		repo,
		assets,
		access,
		bus,
		domain.RealClock{},
		experiments.Config{
			MinUnit:      cfg.MinUnit,
			PoolAddress:  cfg.PoolAddress,
			UnbetTimeout: cfg.UnbetTimeout,
		},
		log,
	)

	analyticsService := analytics.NewService(experimentService, log)

	srv := server.New(server.Config{
		Log:                log,
		DB:                 db,
		Config:             cfg,
		Port:               cfg.Port,
		DevMode:            cfg.DevMode,
		EventBus:           bus,
		ExperimentHandlers: experimenthandlers.NewHandler(experimentService, log),
		AnalyticsHandlers:  analyticshandlers.NewHandler(analyticsService, log),
	})

	sched := scheduler.New(log)
	if err := sched.AddJob("@hourly", scheduler.NewWALCheckpointJob(db, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register WAL checkpoint job")
	}
	if err := sched.AddJob("0 4 * * *", scheduler.NewIntegrityCheckJob(db, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register integrity check job")
	}

	if cfg.Backup != nil && cfg.Backup.Enabled {
		uploader, err := backup.NewUploader(context.Background(), db, backup.Config{
			Bucket:   cfg.Backup.Bucket,
			Prefix:   cfg.Backup.Prefix,
			Region:   cfg.Backup.Region,
			Endpoint: cfg.Backup.Endpoint,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup uploader")
		}
		if err := sched.AddJob(cfg.Backup.Schedule, backup.NewJob(uploader)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register backup job")
		}
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("S3 backups enabled")
	}

	sched.Start()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
