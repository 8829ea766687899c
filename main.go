package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"fabot/config"
	"fabot/database"
	"fabot/handlers"
	"fabot/middleware"
	"fabot/services"
	"fabot/store"
)

func main() {
	cfg := config.Load()

	// Database
	database.Connect(cfg)
	database.Migrate()
	database.ConnectRedis(cfg)

	sessions := store.New(database.DB)
	snapshot := sessions.Load()
	log.Printf("Loaded %d chats (current: %v, language: %s)",
		len(snapshot.Chats), snapshot.CurrentChatID, snapshot.Language)

	// Services
	baseURL, apiKey, model := cfg.Provider()
	completion := services.NewCompletionService(baseURL, apiKey, model)
	analyzer := services.NewAnalyzerService(completion)
	events := services.NewRedisPublisher(database.RDB)
	conversation := services.NewConversationService(sessions, completion, analyzer, events)
	defer conversation.Close()

	// Handlers
	chatHandler := handlers.NewChatHandler(cfg, completion, analyzer)
	chatsHandler := handlers.NewChatsHandler(sessions, conversation)
	syncHandler := handlers.NewSyncHandler(cfg)

	// Router
	r := gin.Default()
	r.Use(middleware.CORS(cfg))
	r.Use(middleware.SecurityHeaders())

	// Rate limiter for the gateway proxy endpoints
	gatewayLimiter := middleware.NewRateLimiter(30, 1*time.Minute)

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Gateway proxy endpoints
	proxy := r.Group("/api")
	proxy.Use(gatewayLimiter.Middleware())
	{
		proxy.POST("/chat", chatHandler.Chat)
		proxy.POST("/analyze", chatHandler.Analyze)
	}

	// Session API
	api := r.Group("/api")
	{
		api.GET("/chats", chatsHandler.List)
		api.POST("/chats", chatsHandler.Create)
		api.PUT("/chats/:id", chatsHandler.Update)
		api.DELETE("/chats/:id", chatsHandler.Delete)
		api.GET("/chats/:id/messages", chatsHandler.Messages)
		api.POST("/chats/:id/messages", chatsHandler.Send)
		api.PUT("/language", chatsHandler.SetLanguage)
	}

	// WebSocket sync channel
	r.GET("/ws/sync", syncHandler.HandleWebSocket)

	// Serve frontend static files
	r.Static("/assets", "./static/assets")
	r.StaticFile("/favicon.svg", "./static/favicon.svg")
	r.StaticFile("/", "./static/index.html")
	r.NoRoute(func(c *gin.Context) {
		c.File("./static/index.html")
	})

	fmt.Printf("Server starting on :%s\n", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
