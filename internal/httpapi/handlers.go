package httpapi

import (
	"errors"
	"net/http"
	"time"

	"callflow/internal/auth"
	"callflow/internal/contact"
	"callflow/internal/exitpath"
	"callflow/internal/opsmode"
	"callflow/internal/workflow"

	"github.com/gin-gonic/gin"
)

// Handlers groups the operational HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Modes     opsmode.Store
	Workflows workflow.Store
	Contacts  contact.Store
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login mints an ops token. Credential validation happens upstream at the
// SSO proxy; this endpoint is only reachable from the internal network.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and role required"})
		return
	}
	token, err := h.Auth.Issue(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token})
}

// --- Operating mode ---

func (h Handlers) GetMode(c *gin.Context) {
	mode, err := h.Modes.Current(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "mode lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode})
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

func (h Handlers) SetMode(c *gin.Context) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	mode, err := opsmode.Parse(req.Mode)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Modes.Set(c.Request.Context(), mode); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "mode update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode})
}

// --- Workflow snapshots ---

type publishWorkflowRequest struct {
	Tag         string            `json:"tag"`
	Active      bool              `json:"active"`
	Tree        workflow.StepTree `json:"tree"`
	DefaultExit exitpath.ExitPath `json:"default_exit"`
}

// PublishWorkflow inserts a new immutable snapshot version. Live runs keep
// the version they bound at creation.
func (h Handlers) PublishWorkflow(c *gin.Context) {
	var req publishWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Tag == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "tag required"})
		return
	}
	if req.DefaultExit.Kind == "" {
		req.DefaultExit = exitpath.ExitPath{Kind: exitpath.KindHangUp}
	}

	cfg, err := h.Workflows.PutConfig(c.Request.Context(), workflow.Config{
		Tag:         req.Tag,
		Active:      req.Active,
		Tree:        req.Tree,
		DefaultExit: req.DefaultExit,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": cfg.ID, "tag": cfg.Tag, "version": cfg.Version, "active": cfg.Active})
}

func (h Handlers) GetWorkflow(c *gin.Context) {
	tag := c.Param("tag")
	cfg, err := h.Workflows.GetConfig(c.Request.Context(), tag)
	if errors.Is(err, workflow.ErrConfigNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "workflow lookup failed"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// --- Contacts ---

// PurgeContact removes a contact and its legs. This is the only deletion
// path for contact data.
func (h Handlers) PurgeContact(c *gin.Context) {
	id := c.Param("contact_id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "contact_id required"})
		return
	}
	if err := h.Contacts.Purge(c.Request.Context(), id); err != nil {
		if errors.Is(err, contact.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "contact not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "purge failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": id})
}
