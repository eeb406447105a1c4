package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"govline/internal/config"
	"govline/internal/db"
	"govline/internal/domain"
	"govline/internal/engine"
	"govline/internal/migrate"
	"govline/internal/notify"
	"govline/internal/repo"
	"govline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gvl",
	Short: "Govline CLI",
	Long: `Govline runs the validation workflow for government employment programs.
- Workspace: the .govline directory holding the database; govline.yml holds overrides.
- Projects: funded programs that start in PENDING_VALIDATION and go live on approval.
- Validation requests: PROJECT_APPROVAL, BUDGET_INCREASE, STATUS_CHANGE and
  UNBLOCK_REQUEST items that ministers and above approve or reject exactly once.
- Notifications: in-app messages sent to approvers on submission and back to the
  requester on decision.
- Event log: diary of changes, view with 'gvl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GOVLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting user id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(validationCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(notificationCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var name, desc, deptID, comment string
	var budget int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project and submit it for approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := cliActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				p, v, err := e.CreateProject(ctx, actor, engine.ProjectCreateOptions{
					Name:         name,
					Description:  desc,
					Budget:       budget,
					DepartmentID: deptID,
					Comment:      comment,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"project": p, "request": v})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().Int64Var(&budget, "budget", 0, "initial budget")
	cmd.Flags().StringVar(&deptID, "department", "", "department id")
	cmd.Flags().StringVar(&comment, "comment", "", "request comment")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Budget"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.Budget})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := r.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func validationCmd() *cobra.Command {
	val := &cobra.Command{Use: "validation", Short: "Manage validation requests"}
	val.AddCommand(validationSubmitCmd())
	val.AddCommand(validationListCmd())
	val.AddCommand(validationPendingCmd())
	val.AddCommand(validationShowCmd())
	val.AddCommand(validationDecideCmd("approve", "Approve a pending request"))
	val.AddCommand(validationDecideCmd("reject", "Reject a pending request"))
	return val
}

func validationSubmitCmd() *cobra.Command {
	var reqType, projectID, comment, metadata string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a validation request",
		RunE: func(cmd *cobra.Command, args []string) error {
			if reqType == "" || projectID == "" {
				return fmt.Errorf("--type and --project required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := cliActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				v, err := e.Submit(ctx, actor, engine.SubmitOptions{
					Type:      domain.RequestType(reqType),
					ProjectID: projectID,
					Comment:   comment,
					Metadata:  metadata,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&reqType, "type", "", "request type (PROJECT_APPROVAL, BUDGET_INCREASE, STATUS_CHANGE, UNBLOCK_REQUEST)")
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	cmd.Flags().StringVar(&metadata, "metadata", "", `type payload JSON, e.g. '{"newBudget":50000000}'`)
	return cmd
}

func validationListCmd() *cobra.Command {
	var status, reqType, projectID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List validation requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := cliActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				items, err := e.List(ctx, actor, repo.RequestFilters{
					Status:    domain.RequestStatus(status),
					Type:      domain.RequestType(reqType),
					ProjectID: projectID,
				})
				if err != nil {
					return err
				}
				return printValidationTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&reqType, "type", "", "type filter")
	cmd.Flags().StringVar(&projectID, "project", "", "project filter")
	return cmd
}

func validationPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending requests the actor may decide",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := cliActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				items, err := e.Pending(ctx, actor)
				if err != nil {
					return err
				}
				return printValidationTable(items)
			})
		},
	}
	return cmd
}

func validationShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show validation request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := cliActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				v, err := e.Get(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func validationDecideCmd(verb, short string) *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := cliActor(ctx, e.Repo)
				if err != nil {
					return err
				}
				decide := e.Approve
				if verb == "reject" {
					decide = e.Reject
				}
				res, err := decide(ctx, actor, args[0], comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"request":        res.Request,
					"effect_applied": res.EffectApplied,
				})
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "response comment")
	return cmd
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage users"}
	usr.AddCommand(userCreateCmd())
	usr.AddCommand(userListCmd())
	usr.AddCommand(userDeactivateCmd())
	return usr
}

func userCreateCmd() *cobra.Command {
	var id, name, role, deptID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || role == "" {
				return fmt.Errorf("--name and --role required")
			}
			if !domain.Role(role).Valid() {
				return fmt.Errorf("unknown role %s", role)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u := domain.User{
					ID:        id,
					Name:      name,
					Role:      domain.Role(role),
					IsActive:  true,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if u.ID == "" {
					u.ID = uuid.NewString()
				}
				if deptID != "" {
					u.DepartmentID = &deptID
				}
				if err := r.InsertUser(ctx, u); err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "user name")
	cmd.Flags().StringVar(&role, "role", "", "role (SUPER_ADMIN, ADMIN_DEPARTMENT, MINISTER, PRIMATURE, PRESIDENCY, AGENT)")
	cmd.Flags().StringVar(&deptID, "department", "", "department id")
	return cmd
}

func userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Active"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Role, u.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func userDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Deactivate user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.SetUserActive(ctx, args[0], false)
			})
		},
	}
	return cmd
}

func notificationCmd() *cobra.Command {
	ntf := &cobra.Command{Use: "notification", Short: "Manage notifications"}
	ntf.AddCommand(notificationListCmd())
	ntf.AddCommand(notificationReadCmd())
	return ntf
}

func notificationListCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the actor's notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				actorID := viper.GetString("actor-id")
				if actorID == "" {
					return fmt.Errorf("--actor-id required")
				}
				items, err := r.ListNotifications(ctx, actorID, unread)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread")
	return cmd
}

func notificationReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				actorID := viper.GetString("actor-id")
				if actorID == "" {
					return fmt.Errorf("--actor-id required")
				}
				return r.MarkNotificationRead(ctx, args[0], actorID)
			})
		},
	}
	return cmd
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "Manage API keys"}
	tok.AddCommand(tokenCreateCmd())
	tok.AddCommand(tokenRevokeCmd())
	return tok
}

func tokenCreateCmd() *cobra.Command {
	var userID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetUser(ctx, userID); err != nil {
					return err
				}
				secret := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					UserID:  userID,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				// The secret is only printed once, the store keeps the hash.
				return printJSONOrTable(map[string]string{"id": key.ID, "api_key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func tokenRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.TailEvents(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			notifier := notify.New(repo.Repo{DB: conn}, logger, cfg.Notifier.BufferSize)
			defer notifier.Close()
			e := engine.New(conn, cfg.Policy(), notifier, logger)
			secret := os.Getenv("GOVLINE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("GOVLINE_JWT_SECRET is required for bearer auth")
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret: secret,
				DevLogin:  devLogin || cfg.Auth.DevLogin,
				Logger:    logger,
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			version, _ := migrate.Version(conn)
			logger.Info("serving govline api", "addr", addr, "base_path", basePath, "schema_version", version)
			fmt.Printf("Serving Govline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable the dev token endpoint")
	return cmd
}

// --- helpers ---

// cliActor resolves --actor-id against the users table so CLI calls go through
// the same role checks as the API.
func cliActor(ctx context.Context, r repo.Repo) (domain.Actor, error) {
	actorID := viper.GetString("actor-id")
	if actorID == "" {
		return domain.Actor{}, fmt.Errorf("--actor-id required")
	}
	u, err := r.GetUser(ctx, actorID)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("actor %s: %w", actorID, err)
	}
	if !u.IsActive {
		return domain.Actor{}, fmt.Errorf("actor %s is inactive", actorID)
	}
	return domain.Actor{ID: u.ID, Role: u.Role, DepartmentID: u.DepartmentID}, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	notifier := notify.New(repo.Repo{DB: conn}, logger, cfg.Notifier.BufferSize)
	defer notifier.Close()
	e := engine.New(conn, cfg.Policy(), notifier, logger)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printValidationTable(items []domain.ValidationRequest) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Type", "Status", "Project", "Requester"})
	for _, v := range items {
		tw.AppendRow(table.Row{v.ID, v.Type, v.Status, v.ProjectID, v.RequesterID})
	}
	tw.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
