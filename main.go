package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"portal-chat/internal/config"
	"portal-chat/internal/db"
	"portal-chat/internal/handlers"
	"portal-chat/internal/middleware"
	"portal-chat/internal/observability"
	"portal-chat/internal/rabbitmq"
	"portal-chat/internal/repositories"
	"portal-chat/internal/telemetry"
	"portal-chat/internal/ws"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownTracing, err := observability.InitTracing(context.Background(), cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Printf("event publisher mode=%s", rabbitmq.PublisherMode(publisher))

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub()
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment)

	chatHandler := handlers.NewChatHandler(roomRepo, messageRepo, hub, audit)
	chatWS := ws.NewChatWebSocketHandler(hub, roomRepo, messageRepo, cfg.RecentMessages, cfg.HeartbeatPeriod)

	router := gin.Default()

	// middlewares
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/chat")
	if cfg.RequireSession {
		api.Use(middleware.SessionMiddleware(cfg.SessionCookie))
	}
	handlers.RegisterChatRoutes(api, chatHandler)

	router.GET("/ws/chat/:room_id/", chatWS.Handle)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
