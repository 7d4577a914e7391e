// Package main is the entry point of the application
package main

import (
	"flag"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tecu23/ban-chess-server/internal/auth"
	"github.com/tecu23/ban-chess-server/pkg/abandon"
	"github.com/tecu23/ban-chess-server/pkg/config"
	"github.com/tecu23/ban-chess-server/pkg/events"
	"github.com/tecu23/ban-chess-server/pkg/game"
	"github.com/tecu23/ban-chess-server/pkg/presence"
	"github.com/tecu23/ban-chess-server/pkg/rules"
	"github.com/tecu23/ban-chess-server/pkg/server"
	"github.com/tecu23/ban-chess-server/pkg/store"
)

// application encapsulates global dependencies
type application struct {
	Auth      *auth.APIKeyAuth
	Logger    *zap.Logger
	Config    *config.Config
	Publisher *events.Publisher
	Store     *store.MemoryStore
	Workflow  *abandon.Workflow
	Hub       *server.Hub
	Server    *http.Server

	StartTime time.Time
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.String("port", "", "server port (overrides PORT)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}
	if *debug {
		cfg.Debug = true
	}
	if *port != "" {
		cfg.Port = *port
	}

	// Initialize logger
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	// Initialize event publisher
	publisher := events.NewPublisher()

	// Initialize the rules machine and the authoritative store
	machine := game.NewMachine(rules.NewChessOracle(), cfg.GameConfig())
	st := store.NewMemoryStore(machine, cfg.StoreConfig(), publisher, logger)

	// Initialize the abandonment sweep
	workflow := abandon.NewWorkflow(st, cfg.AbandonConfig(), logger)

	hub := server.NewHub(st, workflow, publisher,
		cfg.PresenceConfig(), presence.DefaultClassifier{}, logger)

	app := &application{
		Auth:      auth.NewAPIKeyAuth(cfg.APIKeys),
		Logger:    logger,
		Config:    cfg,
		Publisher: publisher,
		Store:     st,
		Workflow:  workflow,
		Hub:       hub,
		StartTime: time.Now(),
	}

	go app.Hub.Run()
	go app.Workflow.Run()

	if err := app.serve(); err != nil {
		logger.Fatal("error serving", zap.Error(err))
	}
}

func initLogger(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	return logger
}

// Shutdown cleans up resources
func (app *application) Shutdown() {
	if app.Workflow != nil {
		app.Workflow.Stop()
	}
	if app.Hub != nil {
		app.Hub.Shutdown()
	}

	app.Logger.Info("All components shut down successfully")
}
