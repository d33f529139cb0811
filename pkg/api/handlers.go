// Package api exposes the read-only task/project endpoints and the
// operator-facing webhook registration endpoints. Both are thin projections
// over the upstream API; the webhook ingestion path does not depend on them.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"sheetrelay/pkg/asana"
)

// Client is the slice of the Asana client the handlers use.
type Client interface {
	GetTask(ctx context.Context, gid string) (*asana.Task, error)
	ProjectTasks(ctx context.Context, projectGID, completedSince string) ([]asana.Task, error)
	WorkspaceProjects(ctx context.Context, workspaceGID string) ([]asana.Project, error)
	CreateWebhook(ctx context.Context, resourceGID, target string) (*asana.Webhook, error)
	ListWebhooks(ctx context.Context, workspaceGID string) ([]asana.Webhook, error)
	DeleteWebhook(ctx context.Context, gid string) error
}

// SecretDeleter logically deletes a stored webhook secret.
type SecretDeleter interface {
	DeleteLogical(ctx context.Context, spreadsheetID, webhookID string) error
}

// TaskHandler serves GET /tasks/{id}.
type TaskHandler struct {
	Client Client
	Logger *log.Logger
}

func (h *TaskHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	task, err := h.Client.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.Logger, "task lookup failed", err)
		return
	}
	writeJSON(w, task)
}

// ProjectTasksHandler serves GET /tasks/project/{id} and
// GET /tasks/project/{id}/completed.
type ProjectTasksHandler struct {
	Client        Client
	CompletedOnly bool
	Logger        *log.Logger
}

func (h *ProjectTasksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Client.ProjectTasks(r.Context(), r.PathValue("id"), "")
	if err != nil {
		writeError(w, h.Logger, "project task list failed", err)
		return
	}
	if h.CompletedOnly {
		completed := make([]asana.Task, 0, len(tasks))
		for _, task := range tasks {
			if task.Completed {
				completed = append(completed, task)
			}
		}
		tasks = completed
	}
	writeJSON(w, tasks)
}

// WorkspaceProjectsHandler serves GET /projects/workspace/{id}.
type WorkspaceProjectsHandler struct {
	Client Client
	Logger *log.Logger
}

func (h *WorkspaceProjectsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Client.WorkspaceProjects(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.Logger, "workspace project list failed", err)
		return
	}
	writeJSON(w, projects)
}

// WebhookAdminHandler registers, lists, and removes Asana webhooks. It
// replaces the grab bag of one-off registration scripts that grew around the
// original deployment.
type WebhookAdminHandler struct {
	Client        Client
	Secrets       SecretDeleter
	PublicBaseURL string
	WebhookPath   string
	AdminToken    string
	Logger        *log.Logger
}

func (h *WebhookAdminHandler) Register(mux *http.ServeMux) {
	mux.Handle("POST /admin/webhooks", h.guard(h.create))
	mux.Handle("GET /admin/webhooks", h.guard(h.list))
	mux.Handle("DELETE /admin/webhooks/{id}", h.guard(h.delete))
}

func (h *WebhookAdminHandler) guard(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.AdminToken == "" || r.Header.Get("X-Admin-Token") != h.AdminToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	})
}

func (h *WebhookAdminHandler) create(w http.ResponseWriter, r *http.Request) {
	resource := strings.TrimSpace(r.URL.Query().Get("resource"))
	sheetID := strings.TrimSpace(r.URL.Query().Get("sheetId"))
	if resource == "" || sheetID == "" {
		http.Error(w, "missing resource or sheetId", http.StatusBadRequest)
		return
	}

	target, err := h.targetURL(sheetID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Asana performs the handshake against the target before returning, so
	// the secret is persisted by the time this call succeeds.
	webhook, err := h.Client.CreateWebhook(r.Context(), resource, target)
	if err != nil {
		writeError(w, h.Logger, "webhook registration failed", err)
		return
	}
	writeJSON(w, webhook)
}

func (h *WebhookAdminHandler) list(w http.ResponseWriter, r *http.Request) {
	workspace := strings.TrimSpace(r.URL.Query().Get("workspace"))
	if workspace == "" {
		http.Error(w, "missing workspace", http.StatusBadRequest)
		return
	}
	webhooks, err := h.Client.ListWebhooks(r.Context(), workspace)
	if err != nil {
		writeError(w, h.Logger, "webhook list failed", err)
		return
	}
	writeJSON(w, webhooks)
}

func (h *WebhookAdminHandler) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Client.DeleteWebhook(r.Context(), id); err != nil {
		writeError(w, h.Logger, "webhook delete failed", err)
		return
	}

	// The stored secret is blanked, not removed, so concurrent row lookups
	// keep stable addresses.
	if sheetID := strings.TrimSpace(r.URL.Query().Get("sheetId")); sheetID != "" && h.Secrets != nil {
		if err := h.Secrets.DeleteLogical(r.Context(), sheetID, id); err != nil {
			if h.Logger != nil {
				h.Logger.Printf("secret delete failed for webhook %s: %v", id, err)
			}
		}
	}
	writeJSON(w, map[string]string{"status": "deleted"})
}

func (h *WebhookAdminHandler) targetURL(sheetID string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(h.PublicBaseURL), "/")
	if base == "" {
		return "", errors.New("public_base_url is required for webhook registration")
	}
	path := h.WebhookPath
	if path == "" {
		path = "/webhooks/asana"
	}
	return base + path + "?sheetId=" + sheetID, nil
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError surfaces the upstream error message with a best-effort status.
// The upstream status is forwarded when the failure is an API error;
// anything else is a plain 502.
func writeError(w http.ResponseWriter, logger *log.Logger, context string, err error) {
	if logger != nil {
		logger.Printf("%s: %v", context, err)
	}
	status := http.StatusBadGateway
	message := context
	var apiErr *asana.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 600 {
			status = apiErr.StatusCode
		}
		if len(apiErr.Messages) > 0 {
			message = apiErr.Messages[0]
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
