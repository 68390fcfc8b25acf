package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"checkin/internal/attendance"
	"checkin/internal/audit"
	"checkin/internal/config"
	"checkin/internal/detector"
	"checkin/internal/fraud"
	"checkin/internal/handler"
	"checkin/internal/httpmiddleware"
	"checkin/internal/imagestore"
	"checkin/internal/queue"
	"checkin/internal/scan"
	"checkin/internal/selfie"
	"checkin/internal/session"
	"checkin/internal/settings"
	"checkin/internal/store"
	"checkin/internal/student"
	"checkin/internal/token"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(db.Client); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "checkin:jobs")
	}

	cfgStore := settings.NewStore(settings.NewPostgresRepo(db.Client))

	sessions := session.NewService(session.NewPostgresStore(db.Client))
	tokens := token.NewIssuer(token.NewPostgresStore(db.Client), cfgStore)
	students := student.NewRepository(db.Client)
	logs := attendance.NewPostgresStore(db.Client)
	auditor := audit.NewRecorder(audit.NewPostgresStore(db.Client))
	selfies := selfie.NewService(selfie.NewPostgresStore(db.Client), logs)

	// Cloudinary client (nil when not configured)
	var uploader scan.Uploader
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		uploader = imagestore.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("image storage configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("image storage not configured, selfie uploads disabled")
	}

	det := detector.New(cfg.DetectorURL, cfg.DetectorAPIKey, cfg.DetectorSkip, cfg.DetectorTimeout)
	scans := scan.NewService(sessions, students, tokens, logs, selfies, auditor, cfgStore,
		det, scan.DetectorOptions{
			MinConfidence: cfg.DetectorMinConf,
			Label:         cfg.DetectorLabel,
			Maintenance:   cfg.DetectorMaintenance,
		}, uploader)

	fraudStore := fraud.NewPostgresStore(db.Client)
	fraudDet := fraud.NewDetector(fraudStore, fraudStore)

	h := handler.New(sessions, tokens, scans, selfies, fraudDet, cfgStore,
		audit.NewPostgresStore(db.Client), logs, students, q, redisClient,
		cfg.JWTSigningKey, cfg.JWTIssuer)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin).Middleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
