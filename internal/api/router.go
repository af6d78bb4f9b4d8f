package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	apiContext "sprintwatch/internal/api/context"
	"sprintwatch/internal/api/handlers"
	"sprintwatch/internal/api/middleware"
)

type Dependencies struct {
	HealthHandler      *handlers.HealthHandler
	AuthHandler        *handlers.AuthHandler
	APIKeyHandler      *handlers.APIKeyHandler
	IntegrationHandler *handlers.IntegrationHandler
	SyncHandler        *handlers.SyncHandler
	EventHandler       *handlers.EventHandler
	WebhookHandler     *handlers.WebhookHandler
	AuthMiddleware     *middleware.AuthMiddleware
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	// Public inbound webhook endpoint; authenticated by HMAC signature,
	// not by operator credentials.
	router.POST("/webhooks/:provider/:integration_id", wrap(deps.WebhookHandler.Receive))

	router.GET("/healthz", wrap(deps.HealthHandler.Check))

	authMid := deps.AuthMiddleware

	router.POST("/api/v1/auth/token", chain(deps.AuthHandler.Token, authMid.Handle))

	// API keys
	router.POST("/api/v1/keys", chain(deps.APIKeyHandler.Create, authMid.Handle))
	router.GET("/api/v1/keys", chain(deps.APIKeyHandler.List, authMid.Handle))
	router.DELETE("/api/v1/keys/:key_id", chain(deps.APIKeyHandler.Delete, authMid.Handle))

	// Integration management
	router.POST("/api/v1/integrations", chain(deps.IntegrationHandler.Create, authMid.Handle))
	router.GET("/api/v1/integrations", chain(deps.IntegrationHandler.List, authMid.Handle))
	router.GET("/api/v1/integrations/:integration_id", chain(deps.IntegrationHandler.Get, authMid.Handle))
	router.PATCH("/api/v1/integrations/:integration_id", chain(deps.IntegrationHandler.Update, authMid.Handle))
	router.DELETE("/api/v1/integrations/:integration_id", chain(deps.IntegrationHandler.Delete, authMid.Handle))

	// Webhook subscriptions
	router.POST("/api/v1/integrations/:integration_id/subscriptions",
		chain(deps.IntegrationHandler.CreateSubscription, authMid.Handle))
	router.GET("/api/v1/integrations/:integration_id/subscriptions",
		chain(deps.IntegrationHandler.ListSubscriptions, authMid.Handle))
	router.DELETE("/api/v1/integrations/:integration_id/subscriptions/:subscription_id",
		chain(deps.IntegrationHandler.DeleteSubscription, authMid.Handle))

	// Sync
	router.POST("/api/v1/integrations/:integration_id/sync", chain(deps.SyncHandler.Trigger, authMid.Handle))
	router.GET("/api/v1/integrations/:integration_id/sync", chain(deps.SyncHandler.Status, authMid.Handle))

	// Event inspection and replay
	router.GET("/api/v1/events", chain(deps.EventHandler.List, authMid.Handle))
	router.GET("/api/v1/events/:event_id", chain(deps.EventHandler.Get, authMid.Handle))
	router.POST("/api/v1/events/:event_id/replay", chain(deps.EventHandler.Replay, authMid.Handle))

	// Upstream health per integration
	router.GET("/api/v1/health/integrations", chain(deps.HealthHandler.Integrations, authMid.Handle))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
