package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gc-lover/necpgame-monorepo-sub002/internal/api/handlers"
	"github.com/gc-lover/necpgame-monorepo-sub002/internal/api/middleware"
	"github.com/gc-lover/necpgame-monorepo-sub002/internal/config"
	"github.com/gc-lover/necpgame-monorepo-sub002/internal/models"
	"github.com/gc-lover/necpgame-monorepo-sub002/internal/repository"
	"github.com/gc-lover/necpgame-monorepo-sub002/internal/service"
	"github.com/gc-lover/necpgame-monorepo-sub002/internal/websocket"
	"github.com/gc-lover/necpgame-monorepo-sub002/pkg/database"
	"github.com/gc-lover/necpgame-monorepo-sub002/pkg/distributed"
	"github.com/gc-lover/necpgame-monorepo-sub002/pkg/ratelimit"
)

// SetupRouter wires repositories, services, and handlers and returns the
// engine together with a shutdown function that stops the background loops.
func SetupRouter(cfg *config.Config, db *database.DB, redisClient *redis.Client, log *zap.Logger) (*gin.Engine, func()) {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Repositories
	ticketStore := repository.NewTicketStore()
	ratingRepo := repository.NewRatingRepository(db)
	matchRepo := repository.NewMatchRepository(db)

	// Distributed infrastructure
	sessionPool := distributed.NewReservationPool(redisClient, "session-servers", cfg.ReservationTTL)
	voicePool := distributed.NewReservationPool(redisClient, "voice-lobbies", cfg.ReservationTTL)
	eventBus := distributed.NewEventBus(redisClient, log)
	retryQueue := distributed.NewRetryQueue(redisClient, "webhooks", cfg.DeliveryBackoff)
	enqueueLimiter := ratelimit.NewRedisRateLimiter(redisClient, "ratelimit:enqueue:")

	// WebSocket hub
	wsHub := websocket.NewHub(log)
	go wsHub.Run()

	// Services
	notificationService := service.NewNotificationService(
		wsHub,
		eventBus,
		retryQueue,
		cfg.WebhookSinkURL,
		cfg.DeliveryMaxAttempts,
		log,
	)
	notificationService.Start()

	ratingService := service.NewRatingService(matchRepo, ratingRepo, cfg, log)

	lockService := service.NewMatchLockService(sessionPool, voicePool, matchRepo, cfg, log)
	if err := lockService.RegisterResources(context.Background()); err != nil {
		log.Error("Failed to register resource pools", zap.Error(err))
	}

	queueService := service.NewQueueService(ticketStore, ratingService, notificationService, cfg, log)
	readyCheckService := service.NewReadyCheckService(lockService, queueService, notificationService, cfg, log)

	queueService.OnCandidate(func(candidate *models.MatchCandidate) {
		readyCheckService.Initiate(candidate)
	})
	queueService.Start()

	// Handlers
	matchmakingHandler := handlers.NewMatchmakingHandler(queueService, readyCheckService)
	ratingHandler := handlers.NewRatingHandler(ratingService)
	wsHandler := handlers.NewWebSocketHandler(wsHub, log)

	// Health check
	router.GET("/health", handlers.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		// WebSocket endpoint
		v1.GET("/ws", middleware.Auth(cfg), wsHandler.HandleWebSocket)

		// Matchmaking routes
		matchmaking := v1.Group("/matchmaking")
		matchmaking.Use(middleware.Auth(cfg))
		{
			matchmaking.POST("/tickets", middleware.RedisEnqueueRateLimit(enqueueLimiter), matchmakingHandler.CreateTicket)
			matchmaking.DELETE("/tickets/:id", matchmakingHandler.CancelTicket)
			matchmaking.GET("/ready-checks/:id", matchmakingHandler.GetReadyCheck)
			matchmaking.POST("/ready-checks/:id/respond", matchmakingHandler.RespondReadyCheck)
			matchmaking.POST("/matches/:id/lock", matchmakingHandler.LockMatch)
			matchmaking.GET("/matches/:id/lock", matchmakingHandler.GetLockResult)
			matchmaking.GET("/queues/status", matchmakingHandler.QueueStatus)
		}

		// Rating routes
		rating := v1.Group("/rating")
		rating.Use(middleware.Auth(cfg))
		{
			rating.POST("/matches/:id/result", middleware.ResultReportRateLimit(), ratingHandler.ApplyMatchResult)
			rating.GET("/players/:id", ratingHandler.GetRating)
			rating.GET("/players/:id/placement", ratingHandler.GetPlacement)
		}
	}

	shutdown := func() {
		queueService.Stop()
		notificationService.Stop()
	}

	return router, shutdown
}
