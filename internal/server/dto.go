package server

import (
	"govline/internal/domain"
)

// Request payloads

type SubmitValidationRequest struct {
	ID        *string `json:"id,omitempty"`
	Type      string  `json:"type" enum:"PROJECT_APPROVAL,BUDGET_INCREASE,STATUS_CHANGE,UNBLOCK_REQUEST"`
	ProjectID string  `json:"project_id"`
	Comment   string  `json:"comment,omitempty"`
	// Metadata is the type-specific payload, e.g. {"newBudget": 50000000}.
	Metadata map[string]any `json:"metadata,omitempty"`
}

type DecideRequest struct {
	ResponseComment *string `json:"response_comment,omitempty"`
}

type CreateProjectRequest struct {
	ID           *string `json:"id,omitempty"`
	Name         string  `json:"name"`
	Description  *string `json:"description,omitempty"`
	Budget       int64   `json:"budget"`
	DepartmentID *string `json:"department_id,omitempty"`
	Comment      string  `json:"comment,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

// Response payloads

// ProjectSummary is the resolved project relation carried on a validation
// response.
type ProjectSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// UserSummary is the resolved requester relation carried on a validation
// response.
type UserSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type ValidationResponse struct {
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

type DecideResponse struct {
	Request       ValidationResponse `json:"request"`
	EffectApplied bool               `json:"effect_applied"`
}

type ProjectResponse struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status"`
	Budget       int64   `json:"budget"`
	DepartmentID *string `json:"department_id,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type CreateProjectResponse struct {
	Project ProjectResponse    `json:"project"`
	Request ValidationResponse `json:"request"`
}

type NotificationResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Link      string `json:"link,omitempty"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func validationResponse(v domain.ValidationRequest) ValidationResponse {
	metadata, _ := domain.EncodePayload(v.Payload)
	return ValidationResponse{
		ID:              v.ID,
		Type:            string(v.Type),
		Status:          string(v.Status),
		ProjectID:       v.ProjectID,
		RequesterID:     v.RequesterID,
		ApproverID:      v.ApproverID,
		Comment:         v.Comment,
		ResponseComment: v.ResponseComment,
		Metadata:        metadata,
		CreatedAt:       v.CreatedAt,
		UpdatedAt:       v.UpdatedAt,
		RespondedAt:     v.RespondedAt,
	}
}

func projectSummary(p domain.Project) *ProjectSummary {
	return &ProjectSummary{ID: p.ID, Name: p.Name, Status: string(p.Status)}
}

func userSummary(u domain.User) *UserSummary {
	return &UserSummary{ID: u.ID, Name: u.Name, Role: string(u.Role)}
}

func mapValidations(items []domain.ValidationRequest) []ValidationResponse {
	res := make([]ValidationResponse, 0, len(items))
	for _, v := range items {
		res = append(res, validationResponse(v))
	}
	return res
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		Status:       string(p.Status),
		Budget:       p.Budget,
		DepartmentID: p.DepartmentID,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Link:      n.Link,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

func mapNotifications(items []domain.Notification) []NotificationResponse {
	res := make([]NotificationResponse, 0, len(items))
	for _, n := range items {
		res = append(res, notificationResponse(n))
	}
	return res
}
