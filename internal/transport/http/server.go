package http

import (
	"time"

	"github.com/gin-gonic/gin"

	appsvc "pdfchat/internal/app"
	"pdfchat/internal/bootstrap"
	"pdfchat/internal/cache"
	"pdfchat/internal/repository"
	"pdfchat/internal/transport/http/handler"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	sessionRepo := repository.NewSessionRepository(app.DB)
	messageRepo := repository.NewMessageRepository(app.DB)

	var historyCache appsvc.HistoryCache
	if app.Redis != nil {
		historyCache = cache.NewHistoryCache(
			app.Redis,
			time.Duration(app.Config.Redis.HistoryTTLSeconds)*time.Second,
		)
	}

	chatService := appsvc.NewChatService(sessionRepo, messageRepo, app.Index, historyCache)
	ragService := appsvc.NewRAGService(sessionRepo, messageRepo, historyCache, app.Index, app.ChatModel, appsvc.RAGOptions{
		ChunkSize:     app.Config.RAG.ChunkSize,
		ChunkOverlap:  app.Config.RAG.ChunkOverlap,
		TopK:          app.Config.RAG.TopK,
		MaxContext:    app.Config.RAG.MaxContext,
		RefusalPhrase: app.Config.RAG.RefusalPhrase,
	})

	chatHandler := handler.NewChatHandler(chatService, ragService)
	documentHandler := handler.NewDocumentHandler(ragService)

	v1 := router.Group("/api/v1")
	v1.POST("/documents", documentHandler.UploadPDF)
	v1.POST("/documents/text", documentHandler.IngestText)
	v1.GET("/sessions", chatHandler.ListSessions)
	v1.GET("/sessions/:id/messages", chatHandler.GetMessages)
	v1.POST("/sessions/:id/messages", chatHandler.Ask)
	v1.PATCH("/sessions/:id", chatHandler.RenameSession)
	v1.DELETE("/sessions/:id", chatHandler.DeleteSession)

	return router
}
