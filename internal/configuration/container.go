package configuration

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ciphermg101/smartHIVE-sub000/internal/auth"
	"github.com/ciphermg101/smartHIVE-sub000/internal/db"
	"github.com/ciphermg101/smartHIVE-sub000/internal/handler"
	"github.com/ciphermg101/smartHIVE-sub000/internal/hub"
	"github.com/ciphermg101/smartHIVE-sub000/internal/model"
	"github.com/ciphermg101/smartHIVE-sub000/internal/repo"
	"github.com/ciphermg101/smartHIVE-sub000/internal/service"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const defaultConfigPath = "config/config.dev.json"

type Container struct {
	ChatHandler handler.ChatHandler
	Hub         *hub.Hub
	Verifier    *auth.TokenVerifier
	Config      Config
	Logger      *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
}

func BuildContainer() (*Container, error) {
	configPath := os.Getenv("SMARTHIVE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %q: %w", configPath, err)
	}

	con, err := db.OpenConnection(config.ChatDatabase.Uri, config.ChatDatabase.Database)
	if err != nil {
		return nil, err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := db.EnsureChatIndexes(ctx, con, config.ChatDatabase.MessagesCollection, config.ChatDatabase.MembershipsCollection); err != nil {
		logger.Warn("failed to ensure chat indexes", zap.Error(err))
	}

	messagesRepo := db.NewRepository[model.Message](con, config.ChatDatabase.MessagesCollection)
	membershipsRepo := db.NewRepository[model.Membership](con, config.ChatDatabase.MembershipsCollection)

	messageRepo := repo.NewMessageRepository(messagesRepo, logger)
	membershipRepo := repo.NewMembershipRepository(membershipsRepo, logger)

	authorizer := service.NewAuthorizer(membershipRepo, logger)
	chatService := service.NewChatService(messageRepo, membershipRepo, authorizer, logger)

	verifier := auth.NewTokenVerifier(config.Auth.JwtSecret)

	chatEvents := hub.NewChatEvents(chatService, authorizer, logger)
	Hub := hub.NewHub(verifier, chatEvents, logger, config.AllowedOrigins)
	chatEvents.SetHub(Hub)

	chatHandler := handler.NewChatHandler(chatService, Hub, logger)

	return &Container{
		ChatHandler: chatHandler,
		Hub:         Hub,
		Verifier:    verifier,
		Config:      *config,
		Logger:      logger,
		mongoClient: con,
	}, nil
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

	// Sync logger
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	// Close MongoDB connection pool
	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}
