package handler

import (
	"marketplace-escrow/internal/adapter/http/middleware"
	redisStore "marketplace-escrow/internal/adapter/storage/redis"
	"marketplace-escrow/internal/core/domain"
	"marketplace-escrow/internal/core/ports"
	"marketplace-escrow/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	DealSvc        ports.DealService
	BalanceSvc     ports.BalanceService
	ReportingSvc   ports.ReportingService
	ReconcilerSvc  ports.ReconcilerService
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	ReadLimit      middleware.RateLimitRule   // zero = default "reads" rule
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = audit logging disabled
	Metrics        *metrics.Metrics   // nil = no /metrics endpoint
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	rules := middleware.DefaultRateLimitRules()
	if deps.ReadLimit.Limit > 0 && deps.ReadLimit.Window > 0 {
		rules["reads"] = deps.ReadLimit
	}

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Processor notifications (signature-authenticated) ---
	webhookHandler := NewWebhookHandler(deps.ReconcilerSvc)
	v1.POST("/payments/webhook", rl("webhook"), webhookHandler.Receive)

	// --- JWT-authenticated routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	privileged := middleware.RequireRole(domain.RoleModerator, domain.RoleAdmin)

	dealHandler := NewDealHandler(deps.DealSvc)
	deals := v1.Group("/deals", jwtAuth)
	{
		deals.POST("", rl("deals_create"), dealHandler.Create)
		deals.GET("", rl("reads"), dealHandler.List)
		deals.GET("/refund-requests", privileged, rl("reads"), dealHandler.RefundRequests)
		deals.GET("/stats", privileged, rl("reads"), dealHandler.Stats)
		deals.GET("/:id", rl("reads"), dealHandler.Get)
		deals.POST("/:id/confirm-receipt", rl("deals_action"), dealHandler.ConfirmReceipt)
		deals.POST("/:id/request-refund", rl("deals_action"), dealHandler.RequestRefund)
		deals.POST("/:id/approve-refund", rl("deals_action"), dealHandler.ApproveRefund)
		deals.POST("/:id/reject-refund", rl("deals_action"), dealHandler.RejectRefund)
	}

	balanceHandler := NewBalanceHandler(deps.BalanceSvc, deps.ReportingSvc)
	balance := v1.Group("/balance", jwtAuth)
	{
		balance.GET("", rl("reads"), balanceHandler.GetBalance)
		balance.GET("/history", rl("reads"), balanceHandler.History)
		balance.POST("/topup", rl("balance_topup"), balanceHandler.Topup)
		balance.POST("/operations", privileged, rl("balance_manual"), balanceHandler.ManualOperation)
		balance.POST("/fees", privileged, rl("balance_manual"), balanceHandler.ChargeFee)
	}

	return r
}
