package server

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/xpanvictor/relay/internal/config"
	"github.com/xpanvictor/relay/internal/domains/auth"
	"github.com/xpanvictor/relay/internal/domains/stream"
	"github.com/xpanvictor/relay/internal/handlers"
	"github.com/xpanvictor/relay/pkg/Logger"
	"github.com/xpanvictor/relay/pkg/provider"
)

type Dependencies struct {
	StreamService stream.StreamService
	TokenService  auth.TokenService
	Connections   map[string]provider.Connection
	Logger        *Logger.Logger
	Configs       *config.Settings
}

func NewServerDependencies(
	streamService stream.StreamService,
	tokenService auth.TokenService,
	connections map[string]provider.Connection,
	logger *Logger.Logger,
	configs *config.Settings,
) Dependencies {
	return Dependencies{
		StreamService: streamService,
		TokenService:  tokenService,
		Connections:   connections,
		Logger:        logger,
		Configs:       configs,
	}
}

func InitializeRoutes(cfg *config.Settings, r *gin.Engine, dep Dependencies) {
	r.Use(handlers.CORSMiddleware())
	r.Use(handlers.RequestLoggerMiddleware(dep.Logger))
	r.Use(handlers.ErrorHandlerMiddleware(dep.Logger))

	r.GET("/", func(ctx *gin.Context) { ctx.JSON(200, gin.H{"message": "Server healthy"}) })
	r.GET("/health", func(ctx *gin.Context) { ctx.JSON(200, gin.H{"status": "ok"}) })
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	sh := handlers.NewStreamHandler(dep.StreamService, dep.Connections, dep.Logger)

	api := r.Group("/api/v1")
	api.Use(handlers.AuthMiddleware(dep.TokenService, dep.Logger))
	{
		api.POST("/stream/message", sh.StreamMessage)
		api.POST("/stream/cancel", sh.CancelStream)
	}
}
