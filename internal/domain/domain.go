package domain

import (
	"encoding/json"
	"fmt"
)

type Role string

const (
	RoleSuperAdmin      Role = "SUPER_ADMIN"
	RoleAdminDepartment Role = "ADMIN_DEPARTMENT"
	RoleMinister        Role = "MINISTER"
	RolePrimature       Role = "PRIMATURE"
	RolePresidency      Role = "PRESIDENCY"
	RoleAgent           Role = "AGENT"
)

var roles = map[Role]bool{
	RoleSuperAdmin:      true,
	RoleAdminDepartment: true,
	RoleMinister:        true,
	RolePrimature:       true,
	RolePresidency:      true,
	RoleAgent:           true,
}

func (r Role) Valid() bool { return roles[r] }

type ProjectStatus string

const (
	ProjectPendingValidation ProjectStatus = "PENDING_VALIDATION"
	ProjectInProgress        ProjectStatus = "IN_PROGRESS"
	ProjectCompleted         ProjectStatus = "COMPLETED"
	ProjectDelayed           ProjectStatus = "DELAYED"
	ProjectSuspended         ProjectStatus = "SUSPENDED"
	ProjectBlocked           ProjectStatus = "BLOCKED"
)

var projectStatuses = map[ProjectStatus]bool{
	ProjectPendingValidation: true,
	ProjectInProgress:        true,
	ProjectCompleted:         true,
	ProjectDelayed:           true,
	ProjectSuspended:         true,
	ProjectBlocked:           true,
}

func (s ProjectStatus) Valid() bool { return projectStatuses[s] }

type RequestType string

const (
	RequestProjectApproval RequestType = "PROJECT_APPROVAL"
	RequestBudgetIncrease  RequestType = "BUDGET_INCREASE"
	RequestStatusChange    RequestType = "STATUS_CHANGE"
	RequestUnblock         RequestType = "UNBLOCK_REQUEST"
)

var requestTypes = map[RequestType]bool{
	RequestProjectApproval: true,
	RequestBudgetIncrease:  true,
	RequestStatusChange:    true,
	RequestUnblock:         true,
}

func (t RequestType) Valid() bool { return requestTypes[t] }

type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"
)

// RequestPayload is the type-dispatched metadata of a validation request,
// decoded once at the store boundary. PROJECT_APPROVAL and UNBLOCK_REQUEST
// carry no payload (nil).
type RequestPayload interface {
	requestPayload()
}

type BudgetIncreasePayload struct {
	NewBudget int64 `json:"newBudget"`
}

func (BudgetIncreasePayload) requestPayload() {}

type StatusChangePayload struct {
	NewStatus ProjectStatus `json:"newStatus"`
}

func (StatusChangePayload) requestPayload() {}

// DecodePayload parses the stored metadata string for the given request type.
func DecodePayload(t RequestType, raw string) (RequestPayload, error) {
	switch t {
	case RequestBudgetIncrease:
		var p BudgetIncreasePayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode %s metadata: %w", t, err)
		}
		if p.NewBudget <= 0 {
			return nil, fmt.Errorf("%s metadata: newBudget must be positive", t)
		}
		return p, nil
	case RequestStatusChange:
		var p StatusChangePayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode %s metadata: %w", t, err)
		}
		if !p.NewStatus.Valid() {
			return nil, fmt.Errorf("%s metadata: unknown status %q", t, p.NewStatus)
		}
		return p, nil
	default:
		return nil, nil
	}
}

// EncodePayload serializes a payload for storage. Nil payloads encode to "".
func EncodePayload(p RequestPayload) (string, error) {
	if p == nil {
		return "", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type Department struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Role         Role    `json:"role"`
	IsActive     bool    `json:"is_active"`
	DepartmentID *string `json:"department_id,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type Project struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Status       ProjectStatus `json:"status"`
	Budget       int64         `json:"budget"`
	DepartmentID *string       `json:"department_id,omitempty"`
	CreatedAt    string        `json:"created_at" format:"date-time"`
	UpdatedAt    string        `json:"updated_at" format:"date-time"`
}

type ValidationRequest struct {
	ID              string         `json:"id"`
	Type            RequestType    `json:"type"`
	Status          RequestStatus  `json:"status"`
	ProjectID       string         `json:"project_id"`
	RequesterID     string         `json:"requester_id"`
	ApproverID      *string        `json:"approver_id,omitempty"`
	Comment         string         `json:"comment"`
	ResponseComment *string        `json:"response_comment,omitempty"`
	Payload         RequestPayload `json:"-"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       string         `json:"updated_at" format:"date-time"`
	RespondedAt     *string        `json:"responded_at,omitempty" format:"date-time"`
}

type NotificationType string

const (
	NotifValidationRequest  NotificationType = "VALIDATION_REQUEST"
	NotifValidationResponse NotificationType = "VALIDATION_RESPONSE"
)

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Link      string           `json:"link,omitempty"`
	IsRead    bool             `json:"is_read"`
	CreatedAt string           `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Actor is the already-authenticated caller the engine receives. Identity
// resolution itself lives at the transport boundary.
type Actor struct {
	ID           string
	Role         Role
	DepartmentID *string
}
