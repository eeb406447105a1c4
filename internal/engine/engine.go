// Package engine implements the validation workflow: request submission,
// the single approve/reject transition, and the project side effects an
// approval triggers.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"govline/internal/domain"
	"govline/internal/events"
	"govline/internal/metrics"
	"govline/internal/notify"
	"govline/internal/policy"
	"govline/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Policy   *policy.Policy
	Notifier *notify.Notifier
	Log      *slog.Logger
	Now      func() time.Time
}

func New(db *sql.DB, pol *policy.Policy, notifier *notify.Notifier, log *slog.Logger) Engine {
	if log == nil {
		log = slog.Default()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Policy:   pol,
		Notifier: notifier,
		Log:      log,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

// SubmitOptions are the parameters for submitting a validation request.
type SubmitOptions struct {
	ID        string
	Type      domain.RequestType
	ProjectID string
	Comment   string
	// Metadata is the raw JSON payload for types that carry one.
	Metadata string
}

// Submit creates a new PENDING validation request. The metadata is decoded
// and validated up front so a request can never reach an approver with a
// payload the approval step would choke on.
func (e Engine) Submit(ctx context.Context, actor domain.Actor, opts SubmitOptions) (domain.ValidationRequest, error) {
	if !opts.Type.Valid() {
		return domain.ValidationRequest{}, ValidationError{Msg: fmt.Sprintf("invalid request type %q", opts.Type)}
	}
	if opts.ProjectID == "" {
		return domain.ValidationRequest{}, ValidationError{Msg: "project is required"}
	}
	if strings.TrimSpace(opts.Comment) == "" {
		return domain.ValidationRequest{}, ValidationError{Msg: "comment is required"}
	}
	payload, err := domain.DecodePayload(opts.Type, opts.Metadata)
	if err != nil {
		return domain.ValidationRequest{}, ValidationError{Msg: err.Error()}
	}
	if payload == nil && requiresPayload(opts.Type) {
		return domain.ValidationRequest{}, ValidationError{Msg: fmt.Sprintf("metadata is required for %s", opts.Type)}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ValidationRequest{}, err
	}
	defer tx.Rollback()

	project, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ValidationRequest{}, InvalidReferenceError{Kind: "project", ID: opts.ProjectID}
	}
	if err != nil {
		return domain.ValidationRequest{}, err
	}
	if err := e.checkDepartmentScope(actor, project); err != nil {
		return domain.ValidationRequest{}, err
	}

	now := e.nowRFC3339()
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	v := domain.ValidationRequest{
		ID:          id,
		Type:        opts.Type,
		Status:      domain.RequestPending,
		ProjectID:   project.ID,
		RequesterID: actor.ID,
		Comment:     opts.Comment,
		Payload:     payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertRequestTx(ctx, tx, v); err != nil {
		return domain.ValidationRequest{}, fmt.Errorf("insert request: %w", err)
	}
	if err := e.Events.Append(ctx, tx, now, events.Entry{
		Type:       "validation.submitted",
		ProjectID:  v.ProjectID,
		EntityKind: "validation_request",
		EntityID:   v.ID,
		ActorID:    actor.ID,
		Payload:    events.EventPayload{"type": string(v.Type)},
	}); err != nil {
		return domain.ValidationRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ValidationRequest{}, err
	}

	metrics.RequestsSubmitted.WithLabelValues(string(v.Type)).Inc()
	e.notifyApprovers(ctx, v, project)
	return v, nil
}

func requiresPayload(t domain.RequestType) bool {
	return t == domain.RequestBudgetIncrease || t == domain.RequestStatusChange
}

// checkDepartmentScope keeps department admins inside their own department.
// Projects without a department are open to everyone.
func (e Engine) checkDepartmentScope(actor domain.Actor, project domain.Project) error {
	if actor.Role != domain.RoleAdminDepartment || project.DepartmentID == nil {
		return nil
	}
	if actor.DepartmentID == nil || *actor.DepartmentID != *project.DepartmentID {
		return ForbiddenError{Role: actor.Role, Action: "submit for project " + project.ID}
	}
	return nil
}

// notifyApprovers fans a VALIDATION_REQUEST notification out to every active
// user whose role can decide the request. Runs after commit; failures are the
// notifier's problem.
func (e Engine) notifyApprovers(ctx context.Context, v domain.ValidationRequest, project domain.Project) {
	if e.Notifier == nil {
		return
	}
	approvers, err := e.Repo.ActiveUsersByRole(ctx, e.Policy.ApproverRolesFor(v.Type))
	if err != nil {
		e.Log.Error("approver lookup failed", "request_id", v.ID, "err", err)
		return
	}
	e.Notifier.FanOut(approvers, domain.NotifValidationRequest,
		"New validation request",
		fmt.Sprintf("%s requested for project %s", v.Type, project.Name),
		"/validations/"+v.ID)
}

// DecideResult is the outcome of an approve or reject call.
type DecideResult struct {
	Request domain.ValidationRequest
	// EffectApplied is false when an approval's project side effect was
	// skipped because its precondition no longer held.
	EffectApplied bool
}

// Approve transitions a PENDING request to APPROVED and applies the project
// side effect its type prescribes. The transition is guarded by a
// compare-and-set on the stored status, so at most one decision wins.
func (e Engine) Approve(ctx context.Context, actor domain.Actor, id, responseComment string) (DecideResult, error) {
	return e.decide(ctx, actor, id, domain.RequestApproved, responseComment)
}

// Reject transitions a PENDING request to REJECTED. No project state changes.
func (e Engine) Reject(ctx context.Context, actor domain.Actor, id, responseComment string) (DecideResult, error) {
	return e.decide(ctx, actor, id, domain.RequestRejected, responseComment)
}

func (e Engine) decide(ctx context.Context, actor domain.Actor, id string, to domain.RequestStatus, responseComment string) (DecideResult, error) {
	// Roles outside the approval hierarchy are turned away before the lookup
	// so they cannot probe for request ids.
	if !e.Policy.CanViewPending(actor.Role) {
		return DecideResult{}, ForbiddenError{Role: actor.Role, Action: "decide requests"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return DecideResult{}, err
	}
	defer tx.Rollback()

	v, err := e.Repo.GetRequestTx(ctx, tx, id)
	if err != nil {
		return DecideResult{}, err
	}
	if !e.Policy.CanDecide(actor.Role, v.Type) {
		return DecideResult{}, ForbiddenError{Role: actor.Role, Action: "decide " + string(v.Type)}
	}
	if v.Status != domain.RequestPending {
		return DecideResult{}, AlreadyProcessedError{ID: v.ID, Status: v.Status}
	}

	now := e.nowRFC3339()
	var comment *string
	if responseComment != "" {
		comment = &responseComment
	}
	ok, err := e.Repo.DecideRequestTx(ctx, tx, v.ID, to, actor.ID, comment, now)
	if err != nil {
		return DecideResult{}, err
	}
	if !ok {
		// Lost the race: someone else's decision committed between our read
		// and this write.
		metrics.DecisionConflicts.Inc()
		cur, gerr := e.Repo.GetRequestTx(ctx, tx, v.ID)
		status := cur.Status
		if gerr != nil {
			status = ""
		}
		return DecideResult{}, AlreadyProcessedError{ID: v.ID, Status: status}
	}

	effectApplied := false
	if to == domain.RequestApproved {
		effectApplied, err = e.applyEffect(ctx, tx, v, now)
		if err != nil {
			return DecideResult{}, err
		}
		if !effectApplied {
			metrics.EffectsSkipped.WithLabelValues(string(v.Type)).Inc()
		}
	}

	evtType := "validation.approved"
	if to == domain.RequestRejected {
		evtType = "validation.rejected"
	}
	if err := e.Events.Append(ctx, tx, now, events.Entry{
		Type:       evtType,
		ProjectID:  v.ProjectID,
		EntityKind: "validation_request",
		EntityID:   v.ID,
		ActorID:    actor.ID,
		Payload:    events.EventPayload{"type": string(v.Type), "effect_applied": effectApplied},
	}); err != nil {
		return DecideResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return DecideResult{}, err
	}

	metrics.RequestsDecided.WithLabelValues(string(v.Type), string(to)).Inc()

	v.Status = to
	v.ApproverID = &actor.ID
	v.ResponseComment = comment
	v.RespondedAt = &now
	v.UpdatedAt = now

	if e.Notifier != nil {
		verb := "approved"
		if to == domain.RequestRejected {
			verb = "rejected"
		}
		e.Notifier.Enqueue(domain.Notification{
			UserID:  v.RequesterID,
			Type:    domain.NotifValidationResponse,
			Title:   "Validation request " + verb,
			Message: fmt.Sprintf("Your %s request was %s", v.Type, verb),
			Link:    "/validations/" + v.ID,
		})
	}
	return DecideResult{Request: v, EffectApplied: effectApplied}, nil
}

// applyEffect performs the project change an approval of this type implies.
// Conditional effects return (false, nil) when the project already left the
// expected state; the approval itself still stands.
func (e Engine) applyEffect(ctx context.Context, tx *sql.Tx, v domain.ValidationRequest, now string) (bool, error) {
	switch v.Type {
	case domain.RequestProjectApproval:
		return e.Repo.SetProjectStatusTx(ctx, tx, v.ProjectID, domain.ProjectPendingValidation, domain.ProjectInProgress, now)
	case domain.RequestUnblock:
		return e.Repo.SetProjectStatusTx(ctx, tx, v.ProjectID, domain.ProjectBlocked, domain.ProjectInProgress, now)
	case domain.RequestBudgetIncrease:
		p, ok := v.Payload.(domain.BudgetIncreasePayload)
		if !ok {
			return false, fmt.Errorf("request %s: missing budget payload", v.ID)
		}
		if err := e.Repo.UpdateProjectBudgetTx(ctx, tx, v.ProjectID, p.NewBudget, now); err != nil {
			return false, err
		}
		return true, nil
	case domain.RequestStatusChange:
		p, ok := v.Payload.(domain.StatusChangePayload)
		if !ok {
			return false, fmt.Errorf("request %s: missing status payload", v.ID)
		}
		if err := e.Repo.UpdateProjectStatusTx(ctx, tx, v.ProjectID, p.NewStatus, now); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, fmt.Errorf("request %s: unhandled type %s", v.ID, v.Type)
	}
}

// List returns requests matching the filters, scoped by role: a department
// admin only ever sees requests they submitted themselves.
func (e Engine) List(ctx context.Context, actor domain.Actor, f repo.RequestFilters) ([]domain.ValidationRequest, error) {
	if actor.Role == domain.RoleAdminDepartment {
		f.RequesterID = actor.ID
	}
	return e.Repo.ListRequests(ctx, f)
}

// Pending returns the PENDING requests the actor is allowed to decide. Roles
// outside the approval hierarchy get an empty list, not an error.
func (e Engine) Pending(ctx context.Context, actor domain.Actor) ([]domain.ValidationRequest, error) {
	if !e.Policy.CanViewPending(actor.Role) {
		return []domain.ValidationRequest{}, nil
	}
	all, err := e.Repo.ListRequests(ctx, repo.RequestFilters{Status: domain.RequestPending})
	if err != nil {
		return nil, err
	}
	res := make([]domain.ValidationRequest, 0, len(all))
	for _, v := range all {
		if e.Policy.CanDecide(actor.Role, v.Type) {
			res = append(res, v)
		}
	}
	return res, nil
}

// Get returns one request. Only department admins are restricted to their own
// submissions; every other role has full visibility, mirroring List.
func (e Engine) Get(ctx context.Context, actor domain.Actor, id string) (domain.ValidationRequest, error) {
	v, err := e.Repo.GetRequest(ctx, id)
	if err != nil {
		return domain.ValidationRequest{}, err
	}
	if actor.Role == domain.RoleAdminDepartment && v.RequesterID != actor.ID {
		return domain.ValidationRequest{}, ForbiddenError{Role: actor.Role, Action: "view request " + id}
	}
	return v, nil
}

// ProjectCreateOptions are parameters for registering a project.
type ProjectCreateOptions struct {
	ID           string
	Name         string
	Description  string
	Budget       int64
	DepartmentID string
	Comment      string
}

// CreateProject registers a project in PENDING_VALIDATION and submits its
// PROJECT_APPROVAL request in the same transaction, so a project can never
// exist without the request that will activate it.
func (e Engine) CreateProject(ctx context.Context, actor domain.Actor, opts ProjectCreateOptions) (domain.Project, domain.ValidationRequest, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Project{}, domain.ValidationRequest{}, ValidationError{Msg: "name is required"}
	}
	if opts.Budget < 0 {
		return domain.Project{}, domain.ValidationRequest{}, ValidationError{Msg: "budget must not be negative"}
	}
	if actor.Role == domain.RoleAdminDepartment {
		if opts.DepartmentID == "" && actor.DepartmentID != nil {
			opts.DepartmentID = *actor.DepartmentID
		}
		if actor.DepartmentID == nil || opts.DepartmentID != *actor.DepartmentID {
			return domain.Project{}, domain.ValidationRequest{}, ForbiddenError{Role: actor.Role, Action: "create a project outside their department"}
		}
	}
	if opts.Comment == "" {
		opts.Comment = "Initial approval for " + opts.Name
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, domain.ValidationRequest{}, err
	}
	defer tx.Rollback()

	now := e.nowRFC3339()
	p := domain.Project{
		ID:          opts.ID,
		Name:        opts.Name,
		Description: opts.Description,
		Status:      domain.ProjectPendingValidation,
		Budget:      opts.Budget,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if opts.DepartmentID != "" {
		p.DepartmentID = &opts.DepartmentID
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, domain.ValidationRequest{}, fmt.Errorf("insert project: %w", err)
	}

	v := domain.ValidationRequest{
		ID:          uuid.NewString(),
		Type:        domain.RequestProjectApproval,
		Status:      domain.RequestPending,
		ProjectID:   p.ID,
		RequesterID: actor.ID,
		Comment:     opts.Comment,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertRequestTx(ctx, tx, v); err != nil {
		return domain.Project{}, domain.ValidationRequest{}, fmt.Errorf("insert request: %w", err)
	}
	if err := e.Events.Append(ctx, tx, now, events.Entry{
		Type:       "project.created",
		ProjectID:  p.ID,
		EntityKind: "project",
		EntityID:   p.ID,
		ActorID:    actor.ID,
		Payload:    events.EventPayload{"status": string(p.Status)},
	}); err != nil {
		return domain.Project{}, domain.ValidationRequest{}, err
	}
	if err := e.Events.Append(ctx, tx, now, events.Entry{
		Type:       "validation.submitted",
		ProjectID:  p.ID,
		EntityKind: "validation_request",
		EntityID:   v.ID,
		ActorID:    actor.ID,
		Payload:    events.EventPayload{"type": string(v.Type)},
	}); err != nil {
		return domain.Project{}, domain.ValidationRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, domain.ValidationRequest{}, err
	}

	metrics.RequestsSubmitted.WithLabelValues(string(v.Type)).Inc()
	e.notifyApprovers(ctx, v, p)
	return p, v, nil
}
