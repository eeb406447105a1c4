package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"govline/internal/db"
	"govline/internal/domain"
	"govline/internal/engine"
	"govline/internal/migrate"
	"govline/internal/notify"
	"govline/internal/policy"
	"govline/internal/repo"
)

type testEnv struct {
	Engine   engine.Engine
	Notifier *notify.Notifier
	Ctx      context.Context

	Requester domain.Actor
	Minister  domain.Actor
	Agent     domain.Actor
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	logger := slog.Default()
	notifier := notify.New(repo.Repo{DB: conn}, logger, 64)
	t.Cleanup(notifier.Close)
	eng := engine.New(conn, policy.New(), notifier, logger)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	dept := "dept-1"
	if err := eng.Repo.InsertDepartment(ctx, domain.Department{ID: dept, Name: "Employment", CreatedAt: "2026-03-01T00:00:00Z"}); err != nil {
		t.Fatalf("insert department: %v", err)
	}
	users := []domain.User{
		{ID: "admin-1", Name: "Dept Admin", Role: domain.RoleAdminDepartment, IsActive: true, DepartmentID: &dept},
		{ID: "minister-1", Name: "Minister", Role: domain.RoleMinister, IsActive: true},
		{ID: "agent-1", Name: "Agent", Role: domain.RoleAgent, IsActive: true},
	}
	for _, u := range users {
		u.CreatedAt = "2026-03-01T00:00:00Z"
		if err := eng.Repo.InsertUser(ctx, u); err != nil {
			t.Fatalf("insert user %s: %v", u.ID, err)
		}
	}
	return testEnv{
		Engine:    eng,
		Notifier:  notifier,
		Ctx:       ctx,
		Requester: domain.Actor{ID: "admin-1", Role: domain.RoleAdminDepartment, DepartmentID: &dept},
		Minister:  domain.Actor{ID: "minister-1", Role: domain.RoleMinister},
		Agent:     domain.Actor{ID: "agent-1", Role: domain.RoleAgent},
	}
}

func (env testEnv) seedProject(t *testing.T, id string, status domain.ProjectStatus, budget int64) {
	t.Helper()
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	now := "2026-03-01T00:00:00Z"
	err = env.Engine.Repo.InsertProjectTx(env.Ctx, tx, domain.Project{
		ID: id, Name: "Project " + id, Status: status, Budget: budget,
		CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("insert project: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestApproveBudgetIncreaseOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t, "proj-1", domain.ProjectInProgress, 10_000_000)

	v, err := env.Engine.Submit(env.Ctx, env.Requester, engine.SubmitOptions{
		Type:      domain.RequestBudgetIncrease,
		ProjectID: "proj-1",
		Comment:   "more staff",
		Metadata:  `{"newBudget":50000000}`,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if v.Status != domain.RequestPending {
		t.Fatalf("expected PENDING, got %s", v.Status)
	}

	res, err := env.Engine.Approve(env.Ctx, env.Minister, v.ID, "granted")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Request.Status != domain.RequestApproved {
		t.Fatalf("expected APPROVED, got %s", res.Request.Status)
	}
	if !res.EffectApplied {
		t.Fatalf("expected budget effect to apply")
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.Budget != 50_000_000 {
		t.Fatalf("expected budget 50000000, got %d", p.Budget)
	}

	// second decision must fail, either way
	_, err = env.Engine.Approve(env.Ctx, env.Minister, v.ID, "again")
	var ape engine.AlreadyProcessedError
	if !errors.As(err, &ape) {
		t.Fatalf("expected AlreadyProcessedError, got %v", err)
	}
	if ape.Status != domain.RequestApproved {
		t.Fatalf("expected conflict status APPROVED, got %s", ape.Status)
	}
	_, err = env.Engine.Reject(env.Ctx, env.Minister, v.ID, "no")
	if !errors.As(err, &ape) {
		t.Fatalf("expected AlreadyProcessedError on reject, got %v", err)
	}
}

func TestRejectLeavesProjectUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t, "proj-1", domain.ProjectInProgress, 10_000_000)

	v, err := env.Engine.Submit(env.Ctx, env.Requester, engine.SubmitOptions{
		Type:      domain.RequestBudgetIncrease,
		ProjectID: "proj-1",
		Comment:   "equipment",
		Metadata:  `{"newBudget":99000000}`,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := env.Engine.Reject(env.Ctx, env.Minister, v.ID, "too expensive")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.Request.Status != domain.RequestRejected {
		t.Fatalf("expected REJECTED, got %s", res.Request.Status)
	}
	if res.EffectApplied {
		t.Fatalf("reject must not apply effects")
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if p.Budget != 10_000_000 {
		t.Fatalf("budget changed on reject: %d", p.Budget)
	}
}

func TestConcurrentDecideOneWinner(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t, "proj-1", domain.ProjectPendingValidation, 0)

	v, err := env.Engine.Submit(env.Ctx, env.Requester, engine.SubmitOptions{
		Type:      domain.RequestProjectApproval,
		ProjectID: "proj-1",
		Comment:   "please review",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, results[i] = env.Engine.Approve(env.Ctx, env.Minister, v.ID, "")
			} else {
				_, results[i] = env.Engine.Reject(env.Ctx, env.Minister, v.ID, "")
			}
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		var ape engine.AlreadyProcessedError
		if !errors.As(err, &ape) {
			t.Fatalf("unexpected loser error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	got, err := env.Engine.Repo.GetRequest(env.Ctx, v.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status == domain.RequestPending {
		t.Fatalf("request still PENDING after decisions")
	}
}

func TestStaleProjectApprovalSkipsEffect(t *testing.T) {
	env := newTestEnv(t)
	// Project already activated through some other path.
	env.seedProject(t, "proj-1", domain.ProjectCompleted, 0)

	v, err := env.Engine.Submit(env.Ctx, env.Requester, engine.SubmitOptions{
		Type:      domain.RequestProjectApproval,
		ProjectID: "proj-1",
		Comment:   "please review",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := env.Engine.Approve(env.Ctx, env.Minister, v.ID, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Request.Status != domain.RequestApproved {
		t.Fatalf("approval must stand even when the effect is stale, got %s", res.Request.Status)
	}
	if res.EffectApplied {
		t.Fatalf("effect must be skipped when project left PENDING_VALIDATION")
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if p.Status != domain.ProjectCompleted {
		t.Fatalf("project status changed: %s", p.Status)
	}
}

func TestUnblockEffect(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t, "proj-1", domain.ProjectBlocked, 0)

	v, err := env.Engine.Submit(env.Ctx, env.Requester, engine.SubmitOptions{
		Type:      domain.RequestUnblock,
		ProjectID: "proj-1",
		Comment:   "supplier issue resolved",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := env.Engine.Approve(env.Ctx, env.Minister, v.ID, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !res.EffectApplied {
		t.Fatalf("expected unblock effect")
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if p.Status != domain.ProjectInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", p.Status)
	}
}

func TestStatusChangeNotifiesRequester(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t, "proj-1", domain.ProjectInProgress, 0)

	v, err := env.Engine.Submit(env.Ctx, env.Requester, engine.SubmitOptions{
		Type:      domain.RequestStatusChange,
		ProjectID: "proj-1",
		Comment:   "audit findings",
		Metadata:  `{"newStatus":"SUSPENDED"}`,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, env.Minister, v.ID, "audit pending"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	p, _ := env.Engine.Repo.GetProject(env.Ctx, "proj-1")
	if p.Status != domain.ProjectSuspended {
		t.Fatalf("expected SUSPENDED, got %s", p.Status)
	}

	// drain the notifier so the rows are written
	env.Notifier.Close()
	notifs, err := env.Engine.Repo.ListNotifications(env.Ctx, env.Requester.ID, false)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	found := false
	for _, n := range notifs {
		if n.Type == domain.NotifValidationResponse {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected VALIDATION_RESPONSE notification for requester, got %v", notifs)
	}
}

func TestSubmissionNotifiesApprovers(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t, "proj-1", domain.ProjectPendingValidation, 0)

	if _, err := env.Engine.Submit(env.Ctx, env.Requester, engine.SubmitOptions{
		Type:      domain.RequestProjectApproval,
		ProjectID: "proj-1",
		Comment:   "please review",
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.Notifier.Close()
	notifs, err := env.Engine.Repo.ListNotifications(env.Ctx, env.Minister.ID, true)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifs) != 1 || notifs[0].Type != domain.NotifValidationRequest {
		t.Fatalf("expected one VALIDATION_REQUEST for minister, got %v", notifs)
	}
	// the agent is not an approver and gets nothing
	agentNotifs, _ := env.Engine.Repo.ListNotifications(env.Ctx, env.Agent.ID, false)
	if len(agentNotifs) != 0 {
		t.Fatalf("agent should not be notified, got %v", agentNotifs)
	}
}

func TestAgentCannotDecide(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t, "proj-1", domain.ProjectPendingValidation, 0)

	v, err := env.Engine.Submit(env.Ctx, env.Requester, engine.SubmitOptions{
		Type:      domain.RequestProjectApproval,
		ProjectID: "proj-1",
		Comment:   "please review",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = env.Engine.Approve(env.Ctx, env.Agent, v.ID, "")
	var fe engine.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	got, _ := env.Engine.Repo.GetRequest(env.Ctx, v.ID)
	if got.Status != domain.RequestPending {
		t.Fatalf("request must stay PENDING after forbidden decide")
	}
}

func TestDeptAdminListSeesOnlyOwnRequests(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t, "proj-1", domain.ProjectInProgress, 0)

	if _, err := env.Engine.Submit(env.Ctx, env.Requester, engine.SubmitOptions{
		Type: domain.RequestStatusChange, ProjectID: "proj-1", Comment: "rains", Metadata: `{"newStatus":"DELAYED"}`,
	}); err != nil {
		t.Fatalf("submit as admin: %v", err)
	}
	if _, err := env.Engine.Submit(env.Ctx, env.Agent, engine.SubmitOptions{
		Type: domain.RequestUnblock, ProjectID: "proj-1", Comment: "supplier paid",
	}); err != nil {
		t.Fatalf("submit as agent: %v", err)
	}

	items, err := env.Engine.List(env.Ctx, env.Requester, repo.RequestFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("dept admin should only see own requests, got %d", len(items))
	}
	if items[0].RequesterID != env.Requester.ID {
		t.Fatalf("unexpected requester %s", items[0].RequesterID)
	}

	// the minister sees both
	all, err := env.Engine.List(env.Ctx, env.Minister, repo.RequestFilters{})
	if err != nil {
		t.Fatalf("list as minister: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("minister should see all requests, got %d", len(all))
	}
}

func TestPendingEmptyForNonApprover(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t, "proj-1", domain.ProjectPendingValidation, 0)

	if _, err := env.Engine.Submit(env.Ctx, env.Requester, engine.SubmitOptions{
		Type: domain.RequestProjectApproval, ProjectID: "proj-1", Comment: "please review",
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	items, err := env.Engine.Pending(env.Ctx, env.Agent)
	if err != nil {
		t.Fatalf("pending must not error for non-approvers: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty pending list, got %d", len(items))
	}
	ministerItems, err := env.Engine.Pending(env.Ctx, env.Minister)
	if err != nil {
		t.Fatalf("pending as minister: %v", err)
	}
	if len(ministerItems) != 1 {
		t.Fatalf("expected one pending item for minister, got %d", len(ministerItems))
	}
}

func TestSubmitRejectsBadMetadata(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t, "proj-1", domain.ProjectInProgress, 0)

	cases := []engine.SubmitOptions{
		{Type: domain.RequestBudgetIncrease, ProjectID: "proj-1", Comment: "c"},
		{Type: domain.RequestBudgetIncrease, ProjectID: "proj-1", Comment: "c", Metadata: `{"newBudget":-5}`},
		{Type: domain.RequestBudgetIncrease, ProjectID: "proj-1", Comment: "c", Metadata: `not json`},
		{Type: domain.RequestStatusChange, ProjectID: "proj-1", Comment: "c", Metadata: `{"newStatus":"UNKNOWN"}`},
		{Type: "BAD_TYPE", ProjectID: "proj-1", Comment: "c"},
		{Type: domain.RequestUnblock, ProjectID: "proj-1"},
		{Type: domain.RequestUnblock, ProjectID: "missing-project", Comment: "c"},
	}
	for i, opts := range cases {
		if _, err := env.Engine.Submit(env.Ctx, env.Requester, opts); err == nil {
			t.Fatalf("case %d: expected submit to fail", i)
		}
	}
}

func TestGetVisibility(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t, "proj-1", domain.ProjectInProgress, 0)

	v, err := env.Engine.Submit(env.Ctx, env.Requester, engine.SubmitOptions{
		Type: domain.RequestUnblock, ProjectID: "proj-1", Comment: "blocker cleared",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.Get(env.Ctx, env.Requester, v.ID); err != nil {
		t.Fatalf("requester must see own request: %v", err)
	}
	if _, err := env.Engine.Get(env.Ctx, env.Minister, v.ID); err != nil {
		t.Fatalf("approver must see request: %v", err)
	}
	// everyone outside the department-admin role sees everything
	if _, err := env.Engine.Get(env.Ctx, env.Agent, v.ID); err != nil {
		t.Fatalf("agent must see request: %v", err)
	}

	// a department admin only sees their own submissions
	if err := env.Engine.Repo.InsertUser(env.Ctx, domain.User{
		ID: "admin-2", Name: "Other Admin", Role: domain.RoleAdminDepartment,
		IsActive: true, CreatedAt: "2026-03-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	otherAdmin := domain.Actor{ID: "admin-2", Role: domain.RoleAdminDepartment}
	_, err = env.Engine.Get(env.Ctx, otherAdmin, v.ID)
	var fe engine.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected ForbiddenError for foreign department admin, got %v", err)
	}
}

func TestCreateProjectAutoSubmitsApproval(t *testing.T) {
	env := newTestEnv(t)

	p, v, err := env.Engine.CreateProject(env.Ctx, env.Requester, engine.ProjectCreateOptions{
		Name:   "Youth employment program",
		Budget: 25_000_000,
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if p.Status != domain.ProjectPendingValidation {
		t.Fatalf("expected PENDING_VALIDATION, got %s", p.Status)
	}
	if v.Type != domain.RequestProjectApproval || v.Status != domain.RequestPending {
		t.Fatalf("expected pending PROJECT_APPROVAL, got %s/%s", v.Type, v.Status)
	}

	res, err := env.Engine.Approve(env.Ctx, env.Minister, v.ID, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !res.EffectApplied {
		t.Fatalf("expected activation effect")
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Status != domain.ProjectInProgress {
		t.Fatalf("expected IN_PROGRESS after approval, got %s", got.Status)
	}
}

func TestDecisionEventRecordsEffect(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t, "proj-1", domain.ProjectCompleted, 0)

	v, err := env.Engine.Submit(env.Ctx, env.Requester, engine.SubmitOptions{
		Type: domain.RequestProjectApproval, ProjectID: "proj-1", Comment: "please review",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, env.Minister, v.ID, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	evts, err := env.Engine.Repo.TailEvents(env.Ctx, 5)
	if err != nil {
		t.Fatalf("tail events: %v", err)
	}
	found := false
	for _, e := range evts {
		if e.Type == "validation.approved" && e.EntityID == v.ID {
			found = true
			if e.Payload == "" {
				t.Fatalf("approved event missing payload")
			}
			if e.TS != "2026-03-01T00:00:00Z" {
				t.Fatalf("event ts must share the decision clock, got %s", e.TS)
			}
		}
	}
	if !found {
		t.Fatalf("expected validation.approved event, got %v", evts)
	}
}
