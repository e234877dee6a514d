package main

import (
	"log"
	"net/http"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"studydeck/internal/api"
	"studydeck/internal/config"
	"studydeck/internal/db"
	"studydeck/internal/services"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	conn, err := db.Open(cfg.Database)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer conn.Close()

	deckService := services.NewDeckService(conn)
	aiService := services.NewAIService(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIEndpoint, logger)
	pipelineService := services.NewPipelineService(deckService, aiService, logger)
	quizService := services.NewQuizService(conn, deckService)
	chatService := services.NewChatService(conn, deckService, aiService, cfg.DemoMode, logger)
	reviewService := services.NewReviewService(conn, deckService)

	server := api.NewServer(deckService, pipelineService, quizService, chatService, reviewService, cfg.UploadDir, logger)

	handler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}).Handler(server.Handler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 180 * time.Second,
	}

	logger.Info("listening", zap.String("port", cfg.Port), zap.Bool("demo_mode", cfg.DemoMode))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
}
