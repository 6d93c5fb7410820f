package telephony

import (
	"context"
	"errors"
	"net/http"

	"callflow/internal/calls"
	"callflow/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallService is the orchestrator surface the webhook handlers depend on.
type CallService interface {
	NewContact(ctx context.Context, in calls.Inbound) (calls.Response, error)
	ContinueContact(ctx context.Context, in calls.Inbound) (calls.Response, error)
}

// WebhookHandler converts vendor webhooks to orchestrator calls and renders
// the vendor wire format. No business logic here.
type WebhookHandler struct {
	Service CallService
	Voice   VoiceRenderer
}

func (h WebhookHandler) HandleVoiceNew(c *gin.Context) {
	h.handleVoice(c, h.Service.NewContact)
}

func (h WebhookHandler) HandleVoiceContinue(c *gin.Context) {
	h.handleVoice(c, h.Service.ContinueContact)
}

func (h WebhookHandler) handleVoice(c *gin.Context, call func(context.Context, calls.Inbound) (calls.Response, error)) {
	log := logger.FromGin(c)

	form, err := ParseTwilioVoice(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if form.CallSid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "CallSid required"})
		return
	}

	resp, err := call(c.Request.Context(), form.ToInbound(form.Fingerprint(c.Request)))
	if errors.Is(err, calls.ErrBusy) {
		// The concurrent turn's answer is already on its way; tell the
		// vendor to retry this delivery.
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "turn in progress"})
		return
	}
	if err != nil {
		log.Error("voice turn failed", "call_sid", form.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "turn failed"})
		return
	}

	twiml, err := h.Voice.Render(resp)
	if err != nil {
		log.Error("twiml render failed", "call_sid", form.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func (h WebhookHandler) HandleSMSNew(c *gin.Context) {
	h.handleSMS(c, h.Service.NewContact)
}

func (h WebhookHandler) HandleSMSContinue(c *gin.Context) {
	h.handleSMS(c, h.Service.ContinueContact)
}

func (h WebhookHandler) handleSMS(c *gin.Context, call func(context.Context, calls.Inbound) (calls.Response, error)) {
	log := logger.FromGin(c)

	var req SMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	resp, err := call(c.Request.Context(), req.ToInbound())
	if errors.Is(err, calls.ErrBusy) {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "turn in progress"})
		return
	}
	if err != nil {
		log.Error("sms turn failed", "thread_id", req.ThreadID, "err", err)
		c.JSON(http.StatusOK, SMSResponse{Error: true, Finished: true})
		return
	}
	c.JSON(http.StatusOK, RenderSMS(resp))
}
