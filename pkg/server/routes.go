// Package server exposes the three ML components over a chi HTTP API.
package server

import (
	"fmt"
	"net/http"
	"time"

	httpLogger "github.com/chi-middleware/logrus-logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"

	"github.com/labmanager/labml/internal"
	"github.com/labmanager/labml/pkg/app"
	"github.com/labmanager/labml/pkg/auth"
	"github.com/labmanager/labml/pkg/server/apihandlers"
)

var log = internal.GetLogger()

const ReadHeaderTimeout = 5 * time.Second

// Create creates a new HTTP server with the given app state
func Create(appState *app.AppState) (*http.Server, error) {
	router, err := setupRouter(appState)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", appState.Config.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: ReadHeaderTimeout,
	}, nil
}

// @title						labml REST API
// @version					0.x
// @BasePath					/api/v1
// @schemes					http https
// @securityDefinitions.apikey	Bearer
// @in							header
// @name						Authorization
// @description				Type "Bearer" followed by a space and JWT token.
func setupRouter(appState *app.AppState) (*chi.Mux, error) {
	router := chi.NewRouter()
	router.Use(httpLogger.Logger("router", log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(SendVersion)
	router.Use(middleware.Heartbeat("/healthz"))
	if len(appState.Config.Server.CustomHeaders) > 0 {
		router.Use(ApplyCustomHeaders(appState.Config.Server.CustomHeaders))
	}

	if appState.Config.Auth.Required {
		log.Info("JWT authentication required")
		verifier, err := auth.JWTVerifier(appState.Config)
		if err != nil {
			return nil, err
		}
		router.Use(verifier)
		router.Use(jwtauth.Authenticator)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/intent", func(r chi.Router) {
			r.Post("/classify", apihandlers.ClassifyIntentHandler(appState))
			r.Get("/status", apihandlers.GetIntentStatusHandler(appState))
			r.Post("/retrain", apihandlers.RetrainIntentHandler(appState))
		})
		r.Route("/recognition", func(r chi.Router) {
			r.Post("/identify", apihandlers.IdentifyHandler(appState))
			r.Post("/validate", apihandlers.ValidateImageHandler(appState))
			r.Post("/train", apihandlers.TrainRecognitionHandler(appState))
			r.Get("/status", apihandlers.GetRecognitionStatusHandler(appState))
		})
		r.Route("/maintenance", func(r chi.Router) {
			r.Post("/train", apihandlers.TrainMaintenanceHandler(appState))
			r.Get("/predict/{equipmentId}", apihandlers.PredictFailureHandler(appState))
			r.Post("/analyze", apihandlers.AnalyzeHandler(appState))
			r.Get("/alerts", apihandlers.ListAlertsHandler(appState))
			r.Get("/status", apihandlers.GetMaintenanceStatusHandler(appState))
		})
		r.Get("/metrics", apihandlers.GetMetricsHandler(appState))
	})

	return router, nil
}
