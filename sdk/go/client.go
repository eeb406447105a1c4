// Package govlinesdk is a minimal Govline HTTP API client.
package govlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Govline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// ProjectSummary is the resolved project relation on a validation.
type ProjectSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// UserSummary is the resolved requester relation on a validation.
type UserSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Validation represents a validation request.
type Validation struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Status          string          `json:"status"`
	ProjectID       string          `json:"project_id"`
	RequesterID     string          `json:"requester_id"`
	ApproverID      *string         `json:"approver_id,omitempty"`
	Comment         string          `json:"comment,omitempty"`
	ResponseComment *string         `json:"response_comment,omitempty"`
	Metadata        string          `json:"metadata,omitempty"`
	Project         *ProjectSummary `json:"project,omitempty"`
	Requester       *UserSummary    `json:"requester,omitempty"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
	RespondedAt     *string         `json:"responded_at,omitempty"`
}

// DecideResult is the outcome of an approve or reject call.
type DecideResult struct {
	Request       Validation `json:"request"`
	EffectApplied bool       `json:"effect_applied"`
}

// Project represents a project.
type Project struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status"`
	Budget       int64   `json:"budget"`
	DepartmentID *string `json:"department_id,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// CreatedProject pairs a new project with its approval request.
type CreatedProject struct {
	Project Project    `json:"project"`
	Request Validation `json:"request"`
}

// Notification represents an in-app notification.
type Notification struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Link      string `json:"link,omitempty"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListFilters narrows ListValidations. Zero values are ignored.
type ListFilters struct {
	Status      string
	Type        string
	ProjectID   string
	RequesterID string
}

// SubmitValidation submits a validation request. metadata may be nil for
// types without a payload.
func (c *Client) SubmitValidation(ctx context.Context, reqType, projectID, comment string, metadata map[string]any) (Validation, error) {
	body := map[string]any{
		"type":       reqType,
		"project_id": projectID,
		"comment":    comment,
	}
	if metadata != nil {
		body["metadata"] = metadata
	}
	var resp Validation
	err := c.do(ctx, http.MethodPost, "v1/validations", body, &resp)
	return resp, err
}

// ListValidations lists validation requests matching the filters.
func (c *Client) ListValidations(ctx context.Context, f ListFilters) ([]Validation, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.Type != "" {
		q.Set("type", f.Type)
	}
	if f.ProjectID != "" {
		q.Set("project_id", f.ProjectID)
	}
	if f.RequesterID != "" {
		q.Set("requester_id", f.RequesterID)
	}
	endpoint := "v1/validations"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Validation
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// PendingValidations lists the pending requests the caller may decide.
func (c *Client) PendingValidations(ctx context.Context) ([]Validation, error) {
	var resp []Validation
	err := c.do(ctx, http.MethodGet, "v1/validations/pending", nil, &resp)
	return resp, err
}

// GetValidation fetches a validation request by id.
func (c *Client) GetValidation(ctx context.Context, id string) (Validation, error) {
	var resp Validation
	err := c.do(ctx, http.MethodGet, "v1/validations/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ApproveValidation approves a pending request.
func (c *Client) ApproveValidation(ctx context.Context, id, comment string) (DecideResult, error) {
	return c.decide(ctx, id, "approve", comment)
}

// RejectValidation rejects a pending request.
func (c *Client) RejectValidation(ctx context.Context, id, comment string) (DecideResult, error) {
	return c.decide(ctx, id, "reject", comment)
}

func (c *Client) decide(ctx context.Context, id, verb, comment string) (DecideResult, error) {
	body := map[string]any{}
	if comment != "" {
		body["response_comment"] = comment
	}
	var resp DecideResult
	endpoint := fmt.Sprintf("v1/validations/%s/%s", url.PathEscape(id), verb)
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// CreateProject registers a project and submits its approval request.
func (c *Client) CreateProject(ctx context.Context, name, description string, budget int64) (CreatedProject, error) {
	body := map[string]any{
		"name":        name,
		"description": description,
		"budget":      budget,
	}
	var resp CreatedProject
	err := c.do(ctx, http.MethodPost, "v1/projects", body, &resp)
	return resp, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "v1/projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListNotifications lists the caller's notifications.
func (c *Client) ListNotifications(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	endpoint := "v1/notifications"
	if unreadOnly {
		endpoint += "?unread=true"
	}
	var resp []Notification
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("v1/notifications/%s/read", url.PathEscape(id))
	return c.do(ctx, http.MethodPut, endpoint, map[string]any{}, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
