package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/faithflow/mailroom/internal/config"
	"github.com/faithflow/mailroom/internal/db"
	"github.com/faithflow/mailroom/internal/importer"
	"github.com/faithflow/mailroom/internal/mailer"
	"github.com/faithflow/mailroom/internal/models"
	"github.com/faithflow/mailroom/internal/queue"
	"github.com/faithflow/mailroom/internal/recipients"
	"github.com/faithflow/mailroom/internal/repository"
	"github.com/faithflow/mailroom/internal/scheduler"
)

type nopMailer struct{}

func (nopMailer) Send(ctx context.Context, req *mailer.SendRequest) (*mailer.SendResponse, error) {
	return &mailer.SendResponse{ID: "test", Status: "queued"}, nil
}

func newTestServer(t *testing.T, apiKey string) (*Server, *repository.CampaignRepository) {
	t.Helper()
	dir := t.TempDir()

	database, err := db.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	storage, err := queue.NewBoltStorage(filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatalf("failed to open queue storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	q := queue.New(storage)
	campaigns := repository.NewCampaignRepository(database.DB)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handlers := NewHandlers(HandlerConfig{
		Campaigns: campaigns,
		Templates: repository.NewTemplateRepository(database.DB),
		SendLogs:  repository.NewSendLogRepository(database.DB),
		Resolver:  recipients.NewResolver(database.DB),
		Scheduler: scheduler.New(campaigns, q, logger),
		Importer: importer.New(
			repository.NewEntryImportRepository(database.DB),
			repository.NewMemberRepository(database.DB),
			q, logger),
		Queue:    q,
		Mailer:   nopMailer{},
		FromAddr: "news@church.example",
		Logger:   logger,
	})

	srv := NewServer(handlers, &config.ServerConfig{ListenAddr: ":0", APIKey: apiKey}, nil, logger)
	return srv, campaigns
}

func doJSON(t *testing.T, srv *Server, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthNoAuth(t *testing.T) {
	srv, _ := newTestServer(t, "secret")

	rec := doJSON(t, srv, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t, "secret")

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/campaigns", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/campaigns", "wrong", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/campaigns", "secret", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", rec.Code)
	}
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/campaigns", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when auth disabled, got %d", rec.Code)
	}
}

func TestCampaignCreateAndGet(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/campaigns", "", map[string]any{
		"name":         "Easter Service",
		"subject":      "Hello {{firstName}}",
		"html_content": "<p>Join us</p>",
		"recipient_filter": map[string]any{
			"type": "all_members",
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created models.Campaign
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.Status != models.CampaignDraft {
		t.Errorf("expected draft campaign, got %q", created.Status)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/campaigns/"+created.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCampaignCreateValidation(t *testing.T) {
	srv, _ := newTestServer(t, "")

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{
			"subject": "x", "html_content": "x",
			"recipient_filter": map[string]any{"type": "all_members"},
		}},
		{"missing subject", map[string]any{
			"name": "x", "html_content": "x",
			"recipient_filter": map[string]any{"type": "all_members"},
		}},
		{"invalid filter", map[string]any{
			"name": "x", "subject": "x", "html_content": "x",
			"recipient_filter": map[string]any{"type": "by_branch"},
		}},
		{"unknown filter type", map[string]any{
			"name": "x", "subject": "x", "html_content": "x",
			"recipient_filter": map[string]any{"type": "by_star_sign"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/v1/campaigns", "", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCampaignSendLifecycle(t *testing.T) {
	srv, campaigns := newTestServer(t, "")

	c := &models.Campaign{
		Name:        "x",
		Subject:     "x",
		HTMLContent: "<p>x</p>",
		Filter:      models.RecipientFilter{Type: models.FilterAllMembers},
	}
	if err := campaigns.Create(c); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/send", "", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Job queue.Job `json:"job"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Job.ID == "" {
		t.Fatal("expected a job in the response")
	}

	// Second send conflicts
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/send", "", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double send, got %d", rec.Code)
	}

	// The job is visible through the queue endpoints
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/queue/jobs/"+resp.Job.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for job, got %d", rec.Code)
	}
}

func TestCampaignSendMissing(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/campaigns/nope/send", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCampaignScheduleRejectsPast(t *testing.T) {
	srv, campaigns := newTestServer(t, "")

	c := &models.Campaign{
		Name:        "x",
		Subject:     "x",
		HTMLContent: "<p>x</p>",
		Filter:      models.RecipientFilter{Type: models.FilterAllMembers},
	}
	if err := campaigns.Create(c); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/schedule", "", map[string]any{
		"scheduled_at": "2020-01-01T00:00:00Z",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for past time, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestQueueStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/queue/stats", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats queue.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
}

func TestTemplateCreateAndPreview(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/templates", "", map[string]any{
		"name":         "Welcome",
		"subject":      "Welcome {{firstName}}",
		"html_content": "<p>Dear {{firstName}} {{lastName}}</p>",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var tpl models.EmailTemplate
	if err := json.Unmarshal(rec.Body.Bytes(), &tpl); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/templates/"+tpl.ID+"/preview", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var preview struct {
		Subject   string   `json:"subject"`
		HTML      string   `json:"html"`
		Variables []string `json:"variables"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &preview); err != nil {
		t.Fatal(err)
	}
	if preview.Subject == "Welcome {{firstName}}" {
		t.Error("expected preview to substitute sample variables")
	}
	if len(preview.Variables) == 0 {
		t.Error("expected the variable vocabulary in the preview response")
	}
}
