// Package main runs the interview signaling server with WebSocket transport and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hirelink/interview-backend/config"
	"github.com/hirelink/interview-backend/internal/auth"
	"github.com/hirelink/interview-backend/internal/interviews"
	"github.com/hirelink/interview-backend/internal/middleware"
	"github.com/hirelink/interview-backend/internal/session"
	"github.com/hirelink/interview-backend/internal/signaling"
	"github.com/hirelink/interview-backend/pkg/database"
	"github.com/hirelink/interview-backend/pkg/queue"
	"github.com/hirelink/interview-backend/pkg/redis"
	"github.com/hirelink/interview-backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// Redis backs the optional shared room store and the analytics queue;
	// the server still runs without it on the in-memory store.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("redis disabled", zap.Error(err))
			rdb = nil
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	iceServers := buildICEServers(cfg.WebRTC)

	// Interviews
	interviewRepo := interviews.NewRepository(pool)
	interviewHandler := interviews.NewHandler(interviewRepo)

	// Session lifecycle
	sessionRepo := session.NewPostgresRepository(pool)
	controller := session.NewController(sessionRepo, interviewRepo, iceServers, logger)
	sessionHandler := session.NewHandler(controller)

	// Signaling core
	registry := signaling.NewRegistry(logger)
	rooms := signaling.NewRoomIndex(registry, logger)

	var store signaling.RoomStore = signaling.NewMemoryStore()
	if cfg.Signaling.Store == "redis" && rdb != nil {
		store = signaling.NewRedisStore(rdb.Client)
		logger.Info("signaling room store: redis")
	}

	var jobs *queue.Queue
	if rdb != nil {
		jobs = queue.NewQueue(rdb.Client, logger)
	}

	relay := signaling.NewRelay(registry, rooms, store, controller, jobs, logger)
	signalingHandler := signaling.NewHandler(relay, registry, rooms)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Public: joining is authorized by the session token itself.
	router.POST("/sessions/:token/join", sessionHandler.Join)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/interviews", interviewHandler.List)
		api.POST("/interviews", middleware.RequireRole("recruiter", "admin"), interviewHandler.Create)
		api.GET("/interviews/:id", interviewHandler.GetByID)
		api.POST("/interviews/:id/session", middleware.RequireRole("recruiter", "admin"), sessionHandler.Create)

		api.POST("/sessions/rooms/:room_id/end", signalingHandler.End)
		api.POST("/sessions/rooms/:room_id/cancel", sessionHandler.Cancel)

		api.GET("/signaling/stats", middleware.RequireRole("admin"), signalingHandler.Stats)
		api.GET("/signaling/rooms/:room_id/participants", middleware.RequireRole("admin"), signalingHandler.Participants)
	}

	// WebSocket (session token + peer id in query; no Authorization header required)
	router.GET("/ws", signaling.ServeWs(registry, rooms, relay, controller, cfg.Signaling.SendBuffer, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Idle-session reaper
	reaperCtx, reaperCancel := context.WithCancel(context.Background())
	defer reaperCancel()
	go runReaper(reaperCtx, relay, cfg.Signaling, logger)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	reaperCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// buildICEServers maps config to the ICE server list handed to joining peers.
// TURN credentials apply only to turn:/turns: entries.
func buildICEServers(cfg config.WebRTCConfig) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEUrls))
	for _, u := range cfg.ICEUrls {
		if u == "" {
			continue
		}
		s := webrtc.ICEServer{URLs: []string{u}}
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			s.Username = cfg.Username
			s.Credential = cfg.Credential
		}
		servers = append(servers, s)
	}
	return servers
}

func runReaper(ctx context.Context, relay *signaling.Relay, cfg config.SignalingConfig, logger *zap.Logger) {
	interval := time.Duration(cfg.ReapIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	idleFor := time.Duration(cfg.IdleTimeoutMin) * time.Minute
	if idleFor <= 0 {
		return
	}
	logger.Info("idle-session reaper started",
		zap.Duration("interval", interval), zap.Duration("idle_timeout", idleFor))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			relay.ReapIdle(ctx, idleFor)
		}
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
