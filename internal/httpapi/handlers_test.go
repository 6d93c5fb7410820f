package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"callflow/internal/contact"
	"callflow/internal/opsmode"
	"callflow/internal/workflow"

	"github.com/gin-gonic/gin"
)

type modeStore struct {
	mode opsmode.Mode
}

func (s *modeStore) Current(ctx context.Context) (opsmode.Mode, error) { return s.mode, nil }
func (s *modeStore) Set(ctx context.Context, m opsmode.Mode) error {
	s.mode = m
	return nil
}

func newTestRouter() (*gin.Engine, *modeStore, *workflow.MemoryStore, *contact.MemoryStore) {
	gin.SetMode(gin.TestMode)
	modes := &modeStore{mode: opsmode.ModeNormal}
	workflows := workflow.NewMemoryStore()
	contacts := contact.NewMemoryStore()
	h := Handlers{Modes: modes, Workflows: workflows, Contacts: contacts}

	r := gin.New()
	r.GET("/v1/ops/mode", h.GetMode)
	r.PUT("/v1/ops/mode", h.SetMode)
	r.POST("/v1/ops/workflows", h.PublishWorkflow)
	r.GET("/v1/ops/workflows/:tag", h.GetWorkflow)
	r.DELETE("/v1/ops/contacts/:contact_id", h.PurgeContact)
	return r, modes, workflows, contacts
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestModeRoundTrip(t *testing.T) {
	r, modes, _, _ := newTestRouter()

	w := doJSON(r, http.MethodPut, "/v1/ops/mode", `{"mode":"emergency"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set mode: %d %s", w.Code, w.Body.String())
	}
	if modes.mode != opsmode.ModeEmergency {
		t.Fatalf("mode not applied: %s", modes.mode)
	}

	w = doJSON(r, http.MethodGet, "/v1/ops/mode", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "EMERGENCY") {
		t.Fatalf("get mode: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodPut, "/v1/ops/mode", `{"mode":"sideways"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid mode accepted: %d", w.Code)
	}
}

func TestPublishWorkflowVersions(t *testing.T) {
	r, _, workflows, _ := newTestRouter()

	body := `{
		"tag": "support",
		"active": true,
		"tree": {"branches": [{"name": "root", "steps": [{"name": "hi", "type": "play_message", "config": {"message": "Hi."}}]}]},
		"default_exit": {"kind": "hang_up"}
	}`
	w := doJSON(r, http.MethodPost, "/v1/ops/workflows", body)
	if w.Code != http.StatusOK {
		t.Fatalf("publish: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodPost, "/v1/ops/workflows", body)
	if w.Code != http.StatusOK {
		t.Fatalf("second publish: %d %s", w.Code, w.Body.String())
	}

	cfg, err := workflows.GetConfig(context.Background(), "support")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.Version != 2 {
		t.Fatalf("active version %d, want 2", cfg.Version)
	}

	// Empty tree is rejected.
	w = doJSON(r, http.MethodPost, "/v1/ops/workflows", `{"tag":"broken","tree":{"branches":[]}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid tree accepted: %d", w.Code)
	}
}

func TestGetWorkflowNotFound(t *testing.T) {
	r, _, _, _ := newTestRouter()
	w := doJSON(r, http.MethodGet, "/v1/ops/workflows/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d", w.Code)
	}
}

func TestPurgeContact(t *testing.T) {
	r, _, _, contacts := newTestRouter()
	c, _ := contacts.GetOrCreate(context.Background(), contact.Contact{
		System: "twilio", SystemContactID: "CA1", Type: contact.TypeVoice,
	})

	w := doJSON(r, http.MethodDelete, "/v1/ops/contacts/"+c.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("purge: %d %s", w.Code, w.Body.String())
	}
	if _, err := contacts.Get(context.Background(), c.ID); err == nil {
		t.Fatal("contact still present after purge")
	}

	w = doJSON(r, http.MethodDelete, "/v1/ops/contacts/"+c.ID, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("second purge: %d", w.Code)
	}
}
