package server

import (
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"guidechat/app/api"
	"guidechat/app/middleware"
	"guidechat/backend"
	"guidechat/convo"
	"guidechat/stream"
	"guidechat/viewport"
)

var config = fiber.Config{
	ErrorHandler: api.ErrorHandler,
}

type Server struct {
	listenAddr string
	logger     *zap.Logger
}

func NewServer(addr string, logger *zap.Logger) *Server {
	return &Server{
		listenAddr: addr,
		logger:     logger,
	}
}

func (s *Server) Stop() {
	s.logger.Info("server stopped")
	s.logger.Sync()
}

func (s *Server) Run() {
	backendURL := os.Getenv("BACKEND_URL")
	if backendURL == "" {
		s.logger.Fatal("BACKEND_URL is not set")
		return
	}

	client := backend.NewClient(backendURL)
	transport := convo.NewSSETransport(stream.NewClient(backendURL))
	viewports := viewport.NewRegistry(viewport.Options{})
	sessions := api.NewSessionManager(client, transport, viewports, s.logger)

	cacheTTL := 5 * time.Minute
	if raw := os.Getenv("GUIDELINE_CACHE_TTL"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			cacheTTL = parsed
		}
	}

	var (
		app                 = fiber.New(config)
		checkHandler        = api.NewCheckHandler()
		guidelineHandler    = api.NewGuidelineHandler(client, cacheTTL)
		conversationHandler = api.NewConversationHandler(client, sessions)
		assetHandler        = api.NewAssetHandler(client, os.Getenv("ASSET_PROXY_BASE"))
		check               = app.Group("/check")
		apiv1               = app.Group("/api/v1")
	)

	app.Use(middleware.RequestLogger(s.logger))

	check.Get("/healthy", checkHandler.HandleHealthy)
	apiv1.Get("/guideline", guidelineHandler.HandleListGuidelines)
	apiv1.Get("/guideline/filter", guidelineHandler.HandleFilterGuidelines)
	apiv1.Post("/conversation", conversationHandler.HandleCreateConversation)
	apiv1.Get("/conversation/:id", conversationHandler.HandleGetConversation)
	apiv1.Get("/conversation/:id/message", conversationHandler.HandleChat)
	apiv1.Get("/asset/:id", assetHandler.HandleGetAsset)
	apiv1.Get("/asset/:id/layout", assetHandler.HandleGetLayout)

	if err := app.Listen(s.listenAddr); err != nil {
		s.logger.Error("error to start server", zap.Error(err))
	}
}
