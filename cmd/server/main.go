package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"marketchat/pkg/ads"
	"marketchat/pkg/config"
	"marketchat/pkg/db"
	"marketchat/pkg/hub"
	"marketchat/pkg/logging"
	"marketchat/pkg/rooms"
	"marketchat/pkg/users"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.Log)
	logger := logging.L()

	ctx := context.Background()

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connect")
	}
	defer pool.Close()

	unread, err := rooms.NewUnreadCounter(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connect")
	}
	defer unread.Close()

	usersRepo := users.NewPostgresUserRepository(pool)
	usersHandler := users.NewUserHandler(usersRepo)

	adsRepo := ads.NewPostgresAdRepository(pool)
	adsHandler := ads.NewAdHandler(adsRepo)

	roomsRepo := rooms.NewPostgresRoomRepository(pool)
	roomsService := rooms.NewRoomService(roomsRepo, unread)
	roomsHandler := rooms.NewRoomHandler(roomsService)

	manager := hub.NewConnectionManager()
	wsHandler := hub.NewHandler(manager, roomsRepo, usersRepo, unread, cfg.WebSocket)

	router := gin.New()
	router.Use(logging.GinMiddleware(logger), gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Server.AllowedOrigins,
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	usersHandler.RegisterRoutes(router)
	adsHandler.RegisterRoutes(router)
	roomsHandler.RegisterRoutes(router)

	router.GET("/ws/chat", wsHandler.HandleWebSocketGin)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("forced shutdown")
	}

	logger.Info().Msg("server exiting")
}
