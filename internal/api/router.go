package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"laundry-sync-backend/config"
	"laundry-sync-backend/internal/identity"
	"laundry-sync-backend/internal/metrics"
	"laundry-sync-backend/internal/mw"
	"laundry-sync-backend/internal/realtime"
)

// RouterOptions collects what the router needs beyond the handler.
type RouterOptions struct {
	Server     config.ServerConfig
	Identities identity.Provider
	Hub        *realtime.Hub
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if opts.Logger != nil {
		r.Use(mw.Logger(opts.Logger.Named("http")))
	}
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware())
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	rateLimiter := mw.RateLimiter(rate.Limit(opts.Server.RateLimitPerSec), opts.Server.RateLimitBurst, mw.ByHeader("Authorization"))

	history := mw.NewResponseCache(time.Duration(opts.Server.CacheTTLSeconds) * time.Second)

	auth := Authenticate(opts.Identities)

	r.GET("/api/health", h.GetHealth)
	if opts.Hub != nil {
		r.GET("/api/ws", opts.Hub.ServeWS)
	}

	v1 := r.Group("/api/v1")
	v1.Use(rateLimiter)
	{
		v1.GET("/machines", h.GetMachines)
		v1.GET("/machines/:id", h.GetMachine)
		v1.GET("/machines/:id/faults", h.GetFaults)
		v1.GET("/categories", h.GetCategories)
		v1.GET("/waitlist/:type", h.GetWaitlist)
		v1.GET("/vapid_public_key", h.GetVAPIDPublicKey)
		if h.store != nil {
			v1.GET("/activities", history.Middleware(), h.GetActivities)
		}

		authed := v1.Group("", auth)
		authed.POST("/machines/:id/start", h.StartMachine)
		authed.POST("/machines/:id/cancel", h.machineCommand(h.registry.Cancel))
		authed.POST("/machines/:id/end", h.machineCommand(h.registry.EndCycle))
		authed.POST("/machines/:id/await", h.machineCommand(h.registry.AwaitCollection))
		authed.POST("/machines/:id/collect", h.machineCommand(h.registry.Collect))
		authed.PUT("/machines/:id/enabled", h.SetEnabled)
		authed.POST("/machines/:id/faults", h.ReportFault)
		authed.POST("/machines/:id/maintenance", h.RecordMaintenance)

		authed.POST("/waitlist/:type", h.JoinWaitlist)
		authed.DELETE("/waitlist/:type", h.LeaveWaitlist)

		authed.GET("/notifications", h.GetNotifications)
		authed.PUT("/notifications/:id/read", h.MarkNotificationRead)
		authed.DELETE("/notifications/:id", h.DeleteNotification)

		if h.store != nil {
			authed.GET("/subscriptions", h.GetSubscription)
			authed.PUT("/subscriptions", h.PutSubscription)
			authed.DELETE("/subscriptions", h.DeleteSubscription)
			authed.GET("/faults", h.ListFaults)
		}
		if h.tokens != nil {
			authed.POST("/tokens", h.IssueToken)
			authed.DELETE("/tokens", h.RevokeToken)
		}
	}

	return r
}
