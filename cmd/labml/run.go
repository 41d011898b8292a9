package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oiime/logrusbun"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"github.com/labmanager/labml/config"
	"github.com/labmanager/labml/pkg/app"
	"github.com/labmanager/labml/pkg/auth"
	"github.com/labmanager/labml/pkg/server"
	"github.com/labmanager/labml/pkg/store/postgres"
	"github.com/labmanager/labml/pkg/tasks"
)

// run is the entrypoint for the labml server
func run() {
	cfg := loadConfig()

	log.Infof("Starting labml server version %s", config.VersionString)

	appState := NewAppState(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	setupSignalHandler(appState, cancel)

	if cfg.Tasks.Enabled {
		if err := tasks.RunTaskRouter(ctx, appState); err != nil {
			log.Fatalf("failed to start task router: %v", err)
		}
	} else {
		log.Info("task router disabled, async requests will be rejected")
	}

	srv, err := server.Create(appState)
	if err != nil {
		log.Fatal(err)
	}

	log.Infof("Listening on: %s", srv.Addr)
	err = srv.ListenAndServe()
	if err != nil {
		log.Fatal(err)
	}
}

// NewAppState connects to the database, makes sure the tables exist and builds the ML
// components from the config file / ENV
func NewAppState(cfg *config.Config) *app.AppState {
	db, err := postgres.NewPostgresConn(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Log.Level == "debug" {
		pgDebugLogging(db)
	}
	if err := postgres.CreateSchema(context.Background(), db); err != nil {
		log.Fatalf("Failed to create schema: %v", err)
	}

	appState, err := app.NewAppState(context.Background(), cfg, postgres.NewStore(db))
	if err != nil {
		log.Fatalf("Failed to initialize models: %v", err)
	}
	return appState
}

func closeAppState(appState *app.AppState) {
	if err := appState.Close(); err != nil {
		log.Errorf("Error closing app state: %v", err)
	}
}

// handleCLIOptions handles CLI options that don't require the server to run
func handleCLIOptions(cfg *config.Config) {
	if showVersion {
		fmt.Println(config.VersionString)
		os.Exit(0)
	}
	if generateKey {
		token, err := auth.GenerateJWT(cfg, tokenTTL)
		if err != nil {
			log.Fatalf("Error generating auth token: %v", err)
		}
		fmt.Println(token)
		os.Exit(0)
	}
}

func pgDebugLogging(db *bun.DB) {
	db.AddQueryHook(logrusbun.NewQueryHook(logrusbun.QueryHookOptions{
		LogSlow:         time.Second,
		Logger:          log,
		QueryLevel:      logrus.DebugLevel,
		ErrorLevel:      logrus.ErrorLevel,
		SlowLevel:       logrus.WarnLevel,
		MessageTemplate: "{{.Operation}}[{{.Duration}}]: {{.Query}}",
		ErrorTemplate:   "{{.Operation}}[{{.Duration}}]: {{.Query}}: {{.Error}}",
	}))
}

// setupSignalHandler sets up a signal handler to stop the task router and close the
// database connection on termination
func setupSignalHandler(appState *app.AppState, cancel context.CancelFunc) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalCh
		cancel()
		closeAppState(appState)
		os.Exit(0)
	}()
}
