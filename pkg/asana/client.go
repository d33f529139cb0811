package asana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// taskOptFields is the projection requested whenever a full task is fetched.
const taskOptFields = "name,completed,completed_at,assignee.name,workspace," +
	"memberships.project.name,custom_fields.name,custom_fields.display_value," +
	"custom_fields.enum_value.name,custom_fields.number_value,custom_fields.text_value"

// maxConsecutivePageErrors bounds how many page fetches in a row may fail
// before a paginated list stops and returns what it has.
const maxConsecutivePageErrors = 3

// Config holds the client settings.
type Config struct {
	BaseURL   string
	Token     string
	PageLimit int64
}

// Client talks to the Asana REST API. All requests go through the supplied
// HTTP client, which is expected to carry the retry/backoff behavior.
type Client struct {
	baseURL   string
	token     string
	pageLimit int64
	http      *http.Client
	logger    *log.Logger
}

func NewClient(cfg Config, httpClient *http.Client, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = log.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://app.asana.com/api/1.0"
	}
	pageLimit := cfg.PageLimit
	if pageLimit <= 0 {
		pageLimit = 100
	}
	return &Client{
		baseURL:   baseURL,
		token:     cfg.Token,
		pageLimit: pageLimit,
		http:      httpClient,
		logger:    logger,
	}
}

// GetTask fetches the full task projection used for reconciliation.
func (c *Client) GetTask(ctx context.Context, gid string) (*Task, error) {
	query := url.Values{"opt_fields": {taskOptFields}}
	var task Task
	if err := c.get(ctx, "/tasks/"+gid, query, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ProjectTasks lists the tasks of a project. When completedSince is
// non-empty it is passed through to the API (Asana accepts a timestamp or
// "now" to select incomplete tasks only).
func (c *Client) ProjectTasks(ctx context.Context, projectGID, completedSince string) ([]Task, error) {
	query := url.Values{"opt_fields": {taskOptFields}}
	if completedSince != "" {
		query.Set("completed_since", completedSince)
	}

	var tasks []Task
	err := c.paginate(ctx, "/projects/"+projectGID+"/tasks", query, func(data json.RawMessage) error {
		var page []Task
		if err := json.Unmarshal(data, &page); err != nil {
			return err
		}
		tasks = append(tasks, page...)
		return nil
	})
	return tasks, err
}

// WorkspaceProjects lists the projects of a workspace.
func (c *Client) WorkspaceProjects(ctx context.Context, workspaceGID string) ([]Project, error) {
	query := url.Values{"opt_fields": {"name"}}

	var projects []Project
	err := c.paginate(ctx, "/workspaces/"+workspaceGID+"/projects", query, func(data json.RawMessage) error {
		var page []Project
		if err := json.Unmarshal(data, &page); err != nil {
			return err
		}
		projects = append(projects, page...)
		return nil
	})
	return projects, err
}

// CreateWebhook registers a webhook for resource pointing at target. Asana
// performs the handshake against target before this call returns.
func (c *Client) CreateWebhook(ctx context.Context, resourceGID, target string) (*Webhook, error) {
	body := map[string]any{
		"data": map[string]any{
			"resource": resourceGID,
			"target":   target,
		},
	}
	var webhook Webhook
	if err := c.post(ctx, "/webhooks", body, &webhook); err != nil {
		return nil, err
	}
	return &webhook, nil
}

// ListWebhooks lists the webhooks registered in a workspace.
func (c *Client) ListWebhooks(ctx context.Context, workspaceGID string) ([]Webhook, error) {
	query := url.Values{"workspace": {workspaceGID}}

	var webhooks []Webhook
	err := c.paginate(ctx, "/webhooks", query, func(data json.RawMessage) error {
		var page []Webhook
		if err := json.Unmarshal(data, &page); err != nil {
			return err
		}
		webhooks = append(webhooks, page...)
		return nil
	})
	return webhooks, err
}

// DeleteWebhook unregisters a webhook.
func (c *Client) DeleteWebhook(ctx context.Context, gid string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/webhooks/"+gid, nil, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// envelope is the Asana response wrapper.
type envelope struct {
	Data     json.RawMessage `json:"data"`
	NextPage *struct {
		Offset string `json:"offset"`
	} `json:"next_page"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// paginate drives the opaque offset cursor until the API stops returning
// one. Up to maxConsecutivePageErrors page failures in a row are tolerated;
// after that the collected pages are returned as a partial result.
func (c *Client) paginate(ctx context.Context, path string, query url.Values, collect func(json.RawMessage) error) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("limit", strconv.FormatInt(c.pageLimit, 10))

	offset := ""
	failures := 0
	for {
		q := url.Values{}
		for key, values := range query {
			q[key] = values
		}
		if offset != "" {
			q.Set("offset", offset)
		}

		env, err := c.getEnvelope(ctx, path, q)
		if err != nil {
			failures++
			if failures >= maxConsecutivePageErrors {
				c.logger.Printf("pagination of %s stopped after %d consecutive errors: %v", path, failures, err)
				return nil
			}
			continue
		}
		failures = 0

		if err := collect(env.Data); err != nil {
			return err
		}
		if env.NextPage == nil || env.NextPage.Offset == "" {
			return nil
		}
		offset = env.NextPage.Offset
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	env, err := c.getEnvelope(ctx, path, query)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (c *Client) getEnvelope(ctx context.Context, path string, query url.Values) (*envelope, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := c.do(req, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var env envelope
	if err := c.do(req, &env); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target = target + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, env *envelope) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("asana: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("asana: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var failed envelope
		if err := json.Unmarshal(payload, &failed); err == nil {
			for _, item := range failed.Errors {
				apiErr.Messages = append(apiErr.Messages, item.Message)
			}
		}
		return apiErr
	}

	if env == nil {
		return nil
	}
	if err := json.Unmarshal(payload, env); err != nil {
		return fmt.Errorf("asana: decode response: %w", err)
	}
	return nil
}
