package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/talkbase/realtime-api/internal/config"
	"github.com/talkbase/realtime-api/internal/database"
	"github.com/talkbase/realtime-api/internal/handler"
	"github.com/talkbase/realtime-api/internal/middleware"
	"github.com/talkbase/realtime-api/internal/models"
	"github.com/talkbase/realtime-api/internal/repository"
	"github.com/talkbase/realtime-api/internal/router"
	"github.com/talkbase/realtime-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Room{}, &models.Participant{}, &models.Message{}, &models.Reaction{}, &models.Presence{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	// Redis and NATS are optional; without them events stay node-local.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis url not configured, cross-node fan-out over redis disabled")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	} else {
		logger.Warn().Msg("nats url not configured, cross-node fan-out over nats disabled")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	roomRepo := repository.NewRoomRepository(db)
	messageRepo := repository.NewMessageRepository(db, cfg.HistoryPageSize)
	reactionRepo := repository.NewReactionRepository(db)
	presenceRepo := repository.NewPresenceRepository(db)

	messageService := service.NewMessageService(messageRepo, roomRepo, validate, logger)
	roomService := service.NewRoomService(roomRepo, messageService, validate, logger)
	reactionService := service.NewReactionService(reactionRepo, messageRepo, roomRepo, messageService, validate, logger)
	presenceService := service.NewPresenceService(presenceRepo, cfg.PresenceWindow, logger)

	gateway := service.NewGateway(roomService, messageService, reactionService, presenceService, redisClient, natsConn, service.GatewayConfig{
		EventsChannel: cfg.EventsChannel,
		SendBuffer:    cfg.SendBufferSize,
		PingInterval:  cfg.PingInterval,
	}, validate, logger)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway.Start(runCtx)

	roomHandler := handler.NewRoomHandler(gateway, logger)
	messageHandler := handler.NewMessageHandler(gateway, logger)
	presenceHandler := handler.NewPresenceHandler(gateway, logger)
	gatewayHandler := handler.NewGatewayHandler(gateway, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		RoomHandler:     roomHandler,
		MessageHandler:  messageHandler,
		PresenceHandler: presenceHandler,
		GatewayHandler:  gatewayHandler,
		JWTMiddleware:   middleware.JWTProtected(cfg.JWTSecret),
		SocketAuth:      middleware.WebsocketAuth(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(runCtx, app)
}

func waitForShutdown(runCtx context.Context, app *fiber.App) {
	<-runCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
