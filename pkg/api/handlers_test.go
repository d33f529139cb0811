package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"sheetrelay/pkg/asana"
)

type stubClient struct {
	task         *asana.Task
	tasks        []asana.Task
	projects     []asana.Project
	webhook      *asana.Webhook
	webhooks     []asana.Webhook
	err          error
	createTarget string
	deletedGID   string
}

func (s *stubClient) GetTask(ctx context.Context, gid string) (*asana.Task, error) {
	return s.task, s.err
}

func (s *stubClient) ProjectTasks(ctx context.Context, projectGID, completedSince string) ([]asana.Task, error) {
	return s.tasks, s.err
}

func (s *stubClient) WorkspaceProjects(ctx context.Context, workspaceGID string) ([]asana.Project, error) {
	return s.projects, s.err
}

func (s *stubClient) CreateWebhook(ctx context.Context, resourceGID, target string) (*asana.Webhook, error) {
	s.createTarget = target
	return s.webhook, s.err
}

func (s *stubClient) ListWebhooks(ctx context.Context, workspaceGID string) ([]asana.Webhook, error) {
	return s.webhooks, s.err
}

func (s *stubClient) DeleteWebhook(ctx context.Context, gid string) error {
	s.deletedGID = gid
	return s.err
}

type stubDeleter struct {
	spreadsheetID string
	webhookID     string
	err           error
}

func (s *stubDeleter) DeleteLogical(ctx context.Context, spreadsheetID, webhookID string) error {
	s.spreadsheetID = spreadsheetID
	s.webhookID = webhookID
	return s.err
}

func newMux(client Client) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /tasks/{id}", &TaskHandler{Client: client})
	mux.Handle("GET /tasks/project/{id}", &ProjectTasksHandler{Client: client})
	mux.Handle("GET /tasks/project/{id}/completed", &ProjectTasksHandler{Client: client, CompletedOnly: true})
	mux.Handle("GET /projects/workspace/{id}", &WorkspaceProjectsHandler{Client: client})
	return mux
}

// TestTaskHandler tests the single task projection.
func TestTaskHandler(t *testing.T) {
	client := &stubClient{task: &asana.Task{GID: "42", Name: "Ship it"}}
	rec := httptest.NewRecorder()
	newMux(client).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/42", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var task asana.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.GID != "42" || task.Name != "Ship it" {
		t.Fatalf("unexpected task %+v", task)
	}
}

// TestProjectTasksCompletedFilter tests that the completed variant filters
// out open tasks.
func TestProjectTasksCompletedFilter(t *testing.T) {
	client := &stubClient{tasks: []asana.Task{
		{GID: "1", Completed: true},
		{GID: "2", Completed: false},
		{GID: "3", Completed: true},
	}}
	rec := httptest.NewRecorder()
	newMux(client).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/project/100/completed", nil))

	var tasks []asana.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tasks) != 2 || tasks[0].GID != "1" || tasks[1].GID != "3" {
		t.Fatalf("expected completed tasks only, got %+v", tasks)
	}
}

// TestWriteErrorForwardsUpstreamStatus tests that an upstream API error's
// status and message pass through.
func TestWriteErrorForwardsUpstreamStatus(t *testing.T) {
	client := &stubClient{err: &asana.APIError{StatusCode: 404, Messages: []string{"task: Not Found"}}}
	rec := httptest.NewRecorder()
	newMux(client).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "task: Not Found" {
		t.Fatalf("expected upstream message, got %q", body["error"])
	}
}

// TestWriteErrorOpaqueFailure tests that non-API failures become a 502
// without leaking internals.
func TestWriteErrorOpaqueFailure(t *testing.T) {
	client := &stubClient{err: errors.New("dial tcp: connection refused")}
	rec := httptest.NewRecorder()
	newMux(client).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/workspace/900", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] == "" || body["error"] == "dial tcp: connection refused" {
		t.Fatalf("expected generic message, got %q", body["error"])
	}
}

func newAdminMux(handler *WebhookAdminHandler) *http.ServeMux {
	mux := http.NewServeMux()
	handler.Register(mux)
	return mux
}

// TestAdminGuard tests the admin token check, including the locked state
// when no token is configured.
func TestAdminGuard(t *testing.T) {
	client := &stubClient{webhooks: []asana.Webhook{}}
	handler := &WebhookAdminHandler{Client: client, AdminToken: "topsecret"}
	mux := newAdminMux(handler)

	req := httptest.NewRequest(http.MethodGet, "/admin/webhooks?workspace=900", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/webhooks?workspace=900", nil)
	req.Header.Set("X-Admin-Token", "topsecret")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}

	locked := newAdminMux(&WebhookAdminHandler{Client: client})
	req = httptest.NewRequest(http.MethodGet, "/admin/webhooks?workspace=900", nil)
	req.Header.Set("X-Admin-Token", "")
	rec = httptest.NewRecorder()
	locked.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected unconfigured admin API to be locked, got %d", rec.Code)
	}
}

// TestAdminCreateBuildsTarget tests that registration derives the target URL
// from the public base and sheet id.
func TestAdminCreateBuildsTarget(t *testing.T) {
	client := &stubClient{webhook: &asana.Webhook{GID: "wh1", Active: true}}
	handler := &WebhookAdminHandler{
		Client:        client,
		PublicBaseURL: "https://relay.example.com/",
		WebhookPath:   "/webhooks/asana",
		AdminToken:    "topsecret",
	}
	mux := newAdminMux(handler)

	req := httptest.NewRequest(http.MethodPost, "/admin/webhooks?resource=100&sheetId=SHEET1", nil)
	req.Header.Set("X-Admin-Token", "topsecret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	want := "https://relay.example.com/webhooks/asana?sheetId=SHEET1"
	if client.createTarget != want {
		t.Fatalf("expected target %q, got %q", want, client.createTarget)
	}
}

// TestAdminCreateRequiresParams tests parameter validation on registration.
func TestAdminCreateRequiresParams(t *testing.T) {
	handler := &WebhookAdminHandler{Client: &stubClient{}, PublicBaseURL: "https://relay.example.com", AdminToken: "topsecret"}
	mux := newAdminMux(handler)

	req := httptest.NewRequest(http.MethodPost, "/admin/webhooks?resource=100", nil)
	req.Header.Set("X-Admin-Token", "topsecret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing sheetId, got %d", rec.Code)
	}
}

// TestAdminDeleteCleansSecret tests that deletion removes the webhook
// upstream and blanks the stored secret.
func TestAdminDeleteCleansSecret(t *testing.T) {
	client := &stubClient{}
	deleter := &stubDeleter{}
	handler := &WebhookAdminHandler{Client: client, Secrets: deleter, AdminToken: "topsecret"}
	mux := newAdminMux(handler)

	req := httptest.NewRequest(http.MethodDelete, "/admin/webhooks/wh1?sheetId=SHEET1", nil)
	req.Header.Set("X-Admin-Token", "topsecret")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if client.deletedGID != "wh1" {
		t.Fatalf("expected upstream delete of wh1, got %q", client.deletedGID)
	}
	if deleter.spreadsheetID != "SHEET1" || deleter.webhookID != "wh1" {
		t.Fatalf("expected secret blanked for wh1, got %+v", deleter)
	}
}
