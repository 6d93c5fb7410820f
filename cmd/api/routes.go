package main

import (
	"strings"

	"callflow/internal/auth"
	"callflow/internal/calls"
	"callflow/internal/config"
	"callflow/internal/contact"
	"callflow/internal/httpapi"
	"callflow/internal/opsmode"
	"callflow/internal/telephony"
	"callflow/internal/workflow"

	"github.com/gin-gonic/gin"
)

// routeHandlers carries the dependencies of the ops API surface.
type routeHandlers struct {
	Auth      *auth.Manager
	Modes     opsmode.Store
	Workflows workflow.Store
	Contacts  contact.Store
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, svc *calls.Service, deps routeHandlers) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public).
	// NOTE: These endpoints should be protected by vendor signature validation in production.
	{
		wh := telephony.WebhookHandler{
			Service: svc,
			Voice: telephony.VoiceRenderer{
				ContinueURL: "/webhooks/twilio/voice/continue",
				GreetingURL: func(greetingID string) string {
					return strings.ReplaceAll(cfg.Routing.GreetingURLTemplate, "{greeting_id}", greetingID)
				},
			},
		}
		r.POST("/webhooks/twilio/voice", wh.HandleVoiceNew)
		r.POST("/webhooks/twilio/voice/continue", wh.HandleVoiceContinue)
		r.POST("/webhooks/sms", wh.HandleSMSNew)
		r.POST("/webhooks/sms/continue", wh.HandleSMSContinue)
	}

	h := httpapi.Handlers{
		Auth:      deps.Auth,
		Modes:     deps.Modes,
		Workflows: deps.Workflows,
		Contacts:  deps.Contacts,
	}

	v1 := r.Group("/v1")

	// Token issuance stays outside the token-protected group.
	v1.POST("/auth/login", h.Login)

	ops := v1.Group("/ops")
	ops.Use(auth.RequireAccessToken(deps.Auth))
	{
		ops.GET("/mode", h.GetMode)
		ops.PUT("/mode", h.SetMode)
		ops.POST("/workflows", h.PublishWorkflow)
		ops.GET("/workflows/:tag", h.GetWorkflow)
		ops.DELETE("/contacts/:contact_id", h.PurgeContact)
	}
}
