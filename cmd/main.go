package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/cmd/buildCFG"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/api/api"
	rabbitReader "github.com/SadakovDmitry/Regestration-FPMI-bot/internal/consumerWorker"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/mailer"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/notifier"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/rabbit"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/repo"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/service"
	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/sweeper"
)

func main() {
	zlog.Init()
	log := zlog.Logger

	cfg := config.New()
	if err := cfg.Load("config.yaml", "", "'"); err != nil {
		log.Fatal().Msgf("failed to load configuration: %v", err)
	}
	serverCfg := buildCFG.BuildServerConfig(cfg, &log)
	appCfg := buildCFG.BuildAppConfig(cfg, &log)

	var repository repo.Repository
	switch appCfg.StorageDriver {
	case "memory":
		repository = repo.NewMemory()
		log.Info().Msg("Using in-memory storage")
	default:
		masterDSN, slaveDSNs, poolOptions, err := buildCFG.BuildDBConfig(cfg, &log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build DB config")
		}
		db, err := dbpg.New(masterDSN, slaveDSNs, poolOptions)
		if err != nil {
			log.Fatal().Msgf("failed to connect to DB: %v", err)
		}
		if err := db.Master.Ping(); err != nil {
			log.Fatal().Msgf("DB ping failed: %v", err)
		}
		log.Info().Msg("Database connected successfully")

		pg, err := repo.NewPostgres(db, &log)
		if err != nil {
			log.Fatal().Msgf("failed to initialize repository: %v", err)
		}
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatal().Err(err).Msg("cannot get working directory")
		}
		migrationPath := filepath.Join(cwd, "migrations/postgres")
		if err := pg.MigrateUp(migrationPath); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		log.Info().Msg("Migrations applied successfully")
		repository = pg
	}

	rabbitCfg, err := buildCFG.BuildRabbitConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load RabbitMQ config")
	}
	rmq, err := rabbit.NewRabbit(rabbitCfg.Url, rabbitCfg.Exchange, rabbitCfg.Queue)
	if err != nil {
		log.Fatal().Msgf("Failed to connect to RabbitMQ: %v", err)
	}
	defer rmq.Close()

	ledger := service.NewLedgerService(repository)
	registrations := service.NewRegistrationService(repository, &log, appCfg.ConsentVersion)
	events := service.NewEventService(repository, &log)
	notify := notifier.New(repository, ledger, rmq, &log)
	mail := mailer.New(buildCFG.BuildSMTPConfig(cfg), &log)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())

	reader := rabbitReader.NewReader(rmq, ledger, mail)
	reader.Start(workerCtx)

	sweep := sweeper.New(buildCFG.BuildSweeperConfig(cfg), repository, registrations, events, notify, &log)
	go sweep.Run(workerCtx)

	handlers := api.NewHandlers(events, registrations, notify, appCfg.AdminIDs, &log)
	app := api.NewRouters(&api.Routers{Handlers: handlers, AdminIDs: appCfg.AdminIDs})

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info().Msgf("Starting server on %s", serverCfg.Port)
		if err := app.Run(":" + serverCfg.Port); err != nil {
			serverErrChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		log.Info().Msgf("Received signal %s. Initiating shutdown...", sig)
	case err := <-serverErrChan:
		log.Error().Msgf("Server error: %v", err)
	}

	cancelWorkers()
	reader.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if closer, ok := interface{}(app).(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(shutdownCtx); err != nil {
			log.Error().Msgf("Error shutting down server: %v", err)
		}
	}
	log.Info().Msg("Shutdown complete")
}
