package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/username/binnaculum/backend/src/config"
	"github.com/username/binnaculum/backend/src/database"
	"github.com/username/binnaculum/backend/src/handlers"
	"github.com/username/binnaculum/backend/src/logger"
	"github.com/username/binnaculum/backend/src/processors"
	"github.com/username/binnaculum/backend/src/services"
	"github.com/username/binnaculum/backend/src/store"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded", "path", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Binnaculum backend server starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	if err := database.RunMigrations(database.DB); err != nil {
		logger.L.Error("Failed to run database migrations", "error", err)
		stdlog.Fatalf("Failed to run database migrations: %v", err)
	}

	recordCache := cache.New(config.Cfg.SnapshotCacheTTL, 2*config.Cfg.SnapshotCacheTTL)

	logger.L.Info("Initializing services and handlers...")
	st := store.NewSQLiteStore(database.DB)

	aggregator := processors.NewCurrencyAggregator()
	snapshotService := services.NewSnapshotService(st, aggregator, recordCache)

	optionLinker := processors.NewOptionLinker()
	cascadeEngine := processors.NewSnapshotCascadeEngine(st, snapshotService)
	importService := services.NewImportService(
		st, optionLinker, cascadeEngine,
		config.Cfg.ImportScratchDir, config.Cfg.ChunkMovementLimit,
	)

	accountHandler := handlers.NewAccountHandler(st)
	importHandler := handlers.NewImportHandler(importService)
	snapshotHandler := handlers.NewSnapshotHandler(snapshotService)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(enableCORS)
	r.Use(rateLimitMiddleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Binnaculum Backend is running"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/accounts", accountHandler.HandleListAccounts)
		r.Post("/accounts", accountHandler.HandleCreateAccount)
		r.Get("/accounts/{accountID}", accountHandler.HandleGetAccount)

		r.Post("/accounts/{accountID}/imports", importHandler.HandleImport)
		r.Post("/accounts/{accountID}/imports/resume", importHandler.HandleResume)
		r.Get("/imports/status", importHandler.HandleStatus)
		r.Delete("/imports/current", importHandler.HandleCancel)

		r.Get("/financial-records", snapshotHandler.HandleGetFinancialRecord)
		r.Get("/financial-records/series", snapshotHandler.HandleGetFinancialSeries)
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}
