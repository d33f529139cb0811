package asana

import (
	"fmt"
	"strings"
	"time"
)

// Resource identifies an Asana object in a change event.
type Resource struct {
	GID          string `json:"gid"`
	ResourceType string `json:"resource_type"`
	Name         string `json:"name,omitempty"`
}

// Event is one change event from a webhook delivery.
type Event struct {
	Action    string    `json:"action"`
	Resource  Resource  `json:"resource"`
	User      *Resource `json:"user,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Delivery is the body of an event delivery request.
type Delivery struct {
	Events []Event `json:"events"`
}

// User is an Asana user reference.
type User struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

// Project is an Asana project reference.
type Project struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

// Membership ties a task to a project (and optionally a section).
type Membership struct {
	Project Project   `json:"project"`
	Section *Resource `json:"section,omitempty"`
}

// EnumValue is the selected option of an enum custom field.
type EnumValue struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

// CustomField is one custom field attached to a task. Which of the value
// fields is populated depends on the field type.
type CustomField struct {
	GID          string     `json:"gid"`
	Name         string     `json:"name"`
	DisplayValue string     `json:"display_value"`
	EnumValue    *EnumValue `json:"enum_value"`
	NumberValue  *float64   `json:"number_value"`
	TextValue    *string    `json:"text_value"`
}

// Task is the full task projection fetched on reconciliation.
type Task struct {
	GID          string        `json:"gid"`
	Name         string        `json:"name"`
	Completed    bool          `json:"completed"`
	CompletedAt  *time.Time    `json:"completed_at"`
	Assignee     *User         `json:"assignee"`
	Workspace    *Resource     `json:"workspace"`
	Memberships  []Membership  `json:"memberships"`
	CustomFields []CustomField `json:"custom_fields"`
}

// Webhook is a registered Asana webhook.
type Webhook struct {
	GID      string   `json:"gid"`
	Active   bool     `json:"active"`
	Resource Resource `json:"resource"`
	Target   string   `json:"target"`
}

// APIError is a non-2xx response from the Asana API.
type APIError struct {
	StatusCode int
	Messages   []string
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("asana: status %d", e.StatusCode)
	}
	return fmt.Sprintf("asana: status %d: %s", e.StatusCode, strings.Join(e.Messages, "; "))
}

// RateLimited reports whether the error is Asana's per-minute quota.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == 429
}
