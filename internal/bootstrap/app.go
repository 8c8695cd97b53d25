package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"pdfchat/internal/ai"
	"pdfchat/internal/config"
	"pdfchat/internal/model"
	databaseClient "pdfchat/internal/platform/database"
	redisClient "pdfchat/internal/platform/redis"
	"pdfchat/internal/vectorstore/qdrant"
)

// App holds every process-wide client, constructed once at startup and
// passed down explicitly. Redis is nil when no address is configured.
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Redis     *redis.Client
	LLM       *ai.Client
	ChatModel *ai.ChatModel
	Embedder  *ai.EmbeddingModel
	Index     *qdrant.Index

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	db, err := databaseClient.New(ctx, cfg.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.Session{}, &model.Message{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	var redisCli *redis.Client
	if cfg.Redis.Addr != "" {
		redisCli, err = redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
	}

	llm := ai.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey)
	chatModel := ai.NewChatModel(llm, cfg.LLM.Model)

	embeddingClient := llm
	if cfg.Embedding.BaseURL != cfg.LLM.BaseURL || cfg.Embedding.APIKey != cfg.LLM.APIKey {
		embeddingClient = ai.NewClient(cfg.Embedding.BaseURL, cfg.Embedding.APIKey)
	}
	embedder := ai.NewEmbeddingModel(embeddingClient, cfg.Embedding.Model)

	index := qdrant.NewIndex(qdrant.Config{
		URL:        cfg.Qdrant.URL,
		APIKey:     cfg.Qdrant.APIKey,
		Collection: cfg.Qdrant.Collection,
		Dimension:  cfg.Embedding.Dimension,
		Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
	}, embedder)
	if err := index.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	return &App{
		Config:    cfg,
		DB:        db,
		Redis:     redisCli,
		LLM:       llm,
		ChatModel: chatModel,
		Embedder:  embedder,
		Index:     index,
		StartedAt: time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
