// Package api wires the gin router for both the device-agent surface and
// the parent-portal surface, keeping each audience's middleware chain
// separate.
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"heimdall/internal/api/handlers"
	"heimdall/internal/api/middleware"
	"heimdall/internal/metrics"
	"heimdall/internal/policy"
	"heimdall/internal/push"
	"heimdall/internal/questengine"
	"heimdall/internal/storage"
	"heimdall/internal/tan"
	"heimdall/internal/wsregistry"
)

// RouterConfig holds the dependencies the router needs.
type RouterConfig struct {
	Storage     storage.Storage
	Resolver    *policy.Resolver
	Registry    *wsregistry.Registry
	TokenIssuer *middleware.TokenIssuer
	Tans        *tan.Engine
	Quests      *questengine.Engine
	Push        *push.Orchestrator
	Logger      *slog.Logger
	// Metrics is optional; a nil value leaves every collector unwired and
	// omits the /metrics route.
	Metrics *metrics.Metrics
}

// NewRouter builds the configured gin.Engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(cfg.Logger))
	router.Use(middleware.Logging(cfg.Logger))

	if cfg.Metrics != nil {
		cfg.Resolver.SetMetrics(cfg.Metrics)
		cfg.Registry.SetMetrics(cfg.Metrics)
		cfg.Push.SetMetrics(cfg.Metrics)
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	healthHandler := handlers.NewHealthHandler(cfg.Storage)
	router.GET("/health", healthHandler.GetHealth)

	agentHandler := handlers.NewAgentHandler(cfg.Storage, cfg.Resolver, cfg.Registry, cfg.Logger)
	agentGroup := router.Group("/agent")
	agentGroup.GET("/ws", agentHandler.WebSocket) // auth happens over the socket itself
	agentGroup.Use(middleware.DeviceAuth(cfg.Storage))
	{
		agentGroup.POST("/heartbeat", agentHandler.Heartbeat)
		agentGroup.POST("/usage-event", agentHandler.UsageEvent)
		agentGroup.GET("/rules/current", agentHandler.CurrentRules)
		agentGroup.POST("/tamper-alert", agentHandler.TamperAlert)
	}

	portalHandler := handlers.NewPortalHandler(cfg.TokenIssuer, cfg.Registry, cfg.Logger)
	router.GET("/portal/ws", portalHandler.WebSocket) // auth happens over the socket itself

	domainHandler := handlers.NewDomainHandler(cfg.Storage, cfg.Tans, cfg.Quests, cfg.Push, cfg.Logger)
	if cfg.Metrics != nil {
		domainHandler.SetMetrics(cfg.Metrics)
	}
	portalGroup := router.Group("/")
	portalGroup.Use(middleware.PortalAuth(cfg.TokenIssuer))
	{
		portalGroup.POST("/tans/redeem", domainHandler.RedeemTan)
		portalGroup.POST("/quests/:id/claim", domainHandler.ClaimQuest)
		portalGroup.POST("/quests/:id/submit-proof", domainHandler.SubmitQuestProof)
		portalGroup.POST("/quests/:id/review", domainHandler.ReviewQuest)
	}

	return router
}
