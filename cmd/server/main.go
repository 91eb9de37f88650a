package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/fairsettle/fairsettle/internal/auth"
	"github.com/fairsettle/fairsettle/internal/engine"
	"github.com/fairsettle/fairsettle/internal/events"
	"github.com/fairsettle/fairsettle/internal/metrics"
	"github.com/fairsettle/fairsettle/internal/middleware"
	"github.com/fairsettle/fairsettle/internal/priceguard"
	"github.com/fairsettle/fairsettle/internal/service"
	"github.com/fairsettle/fairsettle/internal/storage/sqlite"
	"github.com/fairsettle/fairsettle/pkg/logging"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		slog.Warn("ignoring non-numeric env value", "key", key, "value", value)
	}
	return fallback
}

func main() {
	logging.Setup()

	dbPath := getEnv("DB_PATH", "./data/fairsettle.db")
	port := getEnv("PORT", "8080")
	jwtSecret := getEnv("JWT_SECRET", "dev-secret-change-me")
	tokenTTL := time.Duration(getEnvInt("TOKEN_TTL_HOURS", 24)) * time.Hour
	guardURL := os.Getenv("PRICE_GUARD_URL")
	minConfidence := getEnvInt("PRICE_CONFIDENCE_MIN", 80)

	// Initialize SQLite storage
	store, err := sqlite.New(dbPath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", dbPath)

	// Outbound notifications: every successful mutating operation emits
	// one event; the log subscriber is the built-in consumer.
	bus := events.NewBus()
	bus.Subscribe(events.LogHandler())

	m := metrics.New(prometheus.DefaultRegisterer)

	var guard priceguard.Guard
	if guardURL != "" {
		guard = priceguard.NewClient(guardURL)
		slog.Info("Price guard configured", "url", guardURL, "min_confidence", minConfidence)
	} else {
		slog.Warn("No PRICE_GUARD_URL set; price-denominated settlements cannot initiate")
	}

	eng := engine.New(store, bus, m, engine.Options{
		Guard:         guard,
		MinConfidence: minConfidence,
	})

	jwtManager := auth.NewJWTManager(jwtSecret, tokenTTL)
	authenticator := auth.NewPasswordAuthenticator(store)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	service.NewAuthService(authenticator, jwtManager).Register(api)

	authed := api.Group("", middleware.RequireAuth(jwtManager))
	service.NewSettlementService(eng).Register(authed)

	// HTTP/2 without TLS so local and in-cluster clients can multiplex.
	h2cHandler := h2c.NewHandler(router, &http2.Server{})

	addr := fmt.Sprintf(":%s", port)
	slog.Info("Server starting", "address", addr, "url", fmt.Sprintf("http://localhost%s", addr))
	if err := http.ListenAndServe(addr, h2cHandler); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
