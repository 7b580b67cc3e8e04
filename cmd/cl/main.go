package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/escalation"
	"caseline/internal/migrate"
	"caseline/internal/notify"
	"caseline/internal/repo"
	"caseline/internal/server"
	"caseline/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Caseline CLI",
	Long: `Caseline manages legal case lifecycles: ordered statutory stages,
automatic task provisioning on every stage transition, a per-stage workflow
tracker (notices, reply, hearings, closure) and SLA escalations.
- Workspace: a .caseline directory holding only the database; tenant configs
  live in the DB and are imported explicitly.
- Case: one legal matter moving forward (or remanded back) through stages.
- Transition: a forward or remand move; each one provisions its task
  checklist exactly once, so retries and double-clicks are safe.
- Workflow steps: within each stage, notices must be recorded and replied to
  before the stage may close; closing triggers the next forward transition.
- Escalations: overdue tasks are swept against configured rules and routed
  up the assignee's reporting chain.`,
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
	viper.SetEnvPrefix("CASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("tenant", "", "tenant id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("tenant", rootCmd.PersistentFlags().Lookup("tenant"))
}

func registerCommands() {
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(transitionCmd())
	rootCmd.AddCommand(stepCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(noticeCmd())
	rootCmd.AddCommand(hearingCmd())
	rootCmd.AddCommand(escalationCmd())
	rootCmd.AddCommand(employeeCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(serveCmd())
}

func tenantCmd() *cobra.Command {
	tn := &cobra.Command{Use: "tenant", Short: "Manage tenants"}
	tn.AddCommand(tenantListCmd())
	tn.AddCommand(tenantInitCmd())
	tn.AddCommand(tenantConfigCmd())
	return tn
}

func tenantListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTenants(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func tenantInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a tenant with the default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tenantID, cfg, err := app.ResolveTenantAndConfig(ctx, id, r)
				if err != nil {
					return err
				}
				fmt.Printf("tenant %s ready (%d stages)\n", tenantID, len(cfg.Stages.Order))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func tenantConfigCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage tenant config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show tenant config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	})
	var filePath string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import tenant config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			tenantID := cfg.Tenant.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if tenantID == "" {
					tenantID = e.Config.Tenant.ID
				}
				if err := e.Repo.UpsertTenantConfig(ctx, tenantID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	importCmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = importCmd.MarkFlagRequired("file")
	cfg.AddCommand(importCmd)
	return cfg
}

func caseCmd() *cobra.Command {
	cs := &cobra.Command{Use: "case", Short: "Manage cases"}
	cs.AddCommand(caseCreateCmd())
	cs.AddCommand(caseListCmd())
	cs.AddCommand(caseShowCmd())
	cs.AddCommand(caseStagesCmd())
	return cs
}

func caseCreateCmd() *cobra.Command {
	var title, stage, owner string
	var amount float64
	var senior bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCase(ctx, engine.CaseCreateOptions{
					TenantID:       e.Config.Tenant.ID,
					Title:          title,
					Stage:          stage,
					OwnerID:        owner,
					DisputedAmount: amount,
					SeniorCounsel:  senior,
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "case title")
	cmd.Flags().StringVar(&stage, "stage", "", "initial stage (defaults to first)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner employee id")
	cmd.Flags().Float64Var(&amount, "amount", 0, "disputed amount")
	cmd.Flags().BoolVar(&senior, "senior-counsel", false, "senior counsel engaged")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func caseListCmd() *cobra.Command {
	var stage, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCases(ctx, e.Config.Tenant.ID, repo.CaseFilters{
					Stage:  stage,
					Status: status,
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderCaseTable(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "filter by stage")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show a case with its active stage, open tasks and recent history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tenantID := e.Config.Tenant.ID
				c, err := e.Repo.GetCase(ctx, tenantID, args[0])
				if err != nil {
					return err
				}
				instances, err := e.Repo.ListStageInstances(ctx, tenantID, c.ID)
				if err != nil {
					return err
				}
				var active *domain.StageInstance
				for i := range instances {
					if instances[i].Status == "active" {
						active = &instances[i]
						break
					}
				}
				openTasks, err := e.Repo.ListTasks(ctx, tenantID, repo.TaskFilters{
					CaseID: c.ID,
					Status: "open",
				})
				if err != nil {
					return err
				}
				entries, err := e.Repo.ListTimeline(ctx, tenantID, c.ID, 0)
				if err != nil {
					return err
				}
				recent := entries
				if len(recent) > 5 {
					recent = recent[len(recent)-5:]
				}
				out := struct {
					Case        domain.Case            `json:"case"`
					ActiveStage *domain.StageInstance  `json:"active_stage,omitempty"`
					OpenTasks   int                    `json:"open_tasks"`
					Recent      []domain.TimelineEntry `json:"recent_timeline"`
				}{Case: c, ActiveStage: active, OpenTasks: len(openTasks), Recent: recent}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				renderCaseTable([]domain.Case{c})
				if active != nil {
					fmt.Printf("active stage: %s (cycle %d)\n", active.StageKey, active.CycleNo)
				}
				fmt.Printf("open tasks: %d\n", len(openTasks))
				renderTimelineTable(recent)
				return nil
			})
		},
	}
}

func caseStagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stages <case-id>",
		Short: "Stage instance history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListStageInstances(ctx, e.Config.Tenant.ID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderStageTable(items)
				return nil
			})
		},
	}
}

func transitionCmd() *cobra.Command {
	var from, to string
	var retry bool
	cmd := &cobra.Command{
		Use:   "transition <case-id>",
		Short: "Move a case to another stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return fmt.Errorf("--to required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.TransitionOptions{
					TenantID:  e.Config.Tenant.ID,
					CaseID:    args[0],
					FromStage: from,
					ToStage:   to,
					ActorID:   viper.GetString("actor-id"),
				}
				var (
					res engine.TransitionResult
					err error
				)
				if retry {
					res, err = e.ProcessTransitionWithRetry(ctx, opts)
				} else {
					res, err = e.ProcessTransition(ctx, opts)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "expected current stage (defaults to case's)")
	cmd.Flags().StringVar(&to, "to", "", "target stage key or label")
	cmd.Flags().BoolVar(&retry, "retry", false, "retry transient failures with backoff")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func stepCmd() *cobra.Command {
	st := &cobra.Command{Use: "step", Short: "Advance workflow steps"}
	st.AddCommand(stepStateCmd())
	st.AddCommand(stepCompleteCmd())
	st.AddCommand(stepSkipCmd())
	return st
}

func stepStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <stage-instance-id>",
		Short: "Show workflow state for a stage instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, tr workflow.Tracker) error {
				state, err := tr.GetWorkflowState(ctx, tr.Engine.Config.Tenant.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(state)
			})
		},
	}
}

func stepCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <stage-instance-id> <step-key>",
		Short: "Complete the current workflow step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, tr workflow.Tracker) error {
				res, err := tr.CompleteStep(ctx, tr.Engine.Config.Tenant.ID, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func stepSkipCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "skip <stage-instance-id> <step-key>",
		Short: "Skip the current workflow step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracker(cmd.Context(), func(ctx context.Context, tr workflow.Tracker) error {
				res, err := tr.SkipStep(ctx, tr.Engine.Config.Tenant.ID, args[0], args[1], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the step is skipped")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func taskCmd() *cobra.Command {
	tk := &cobra.Command{Use: "task", Short: "Manage tasks"}
	tk.AddCommand(taskCreateCmd())
	tk.AddCommand(taskListCmd())
	tk.AddCommand(taskStatusCmd())
	return tk
}

func taskCreateCmd() *cobra.Command {
	var caseID, title, description, priority, assignee string
	var dueInDays int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a manual task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
					TenantID:    e.Config.Tenant.ID,
					CaseID:      caseID,
					Title:       title,
					Description: description,
					Priority:    priority,
					DueInDays:   dueInDays,
					AssigneeID:  assignee,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&caseID, "case", "", "case id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium, high or critical")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee employee id")
	cmd.Flags().IntVar(&dueInDays, "due-in", 0, "due date in business days")
	_ = cmd.MarkFlagRequired("case")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var caseID, status, origin string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTasks(ctx, e.Config.Tenant.ID, repo.TaskFilters{
					CaseID: caseID,
					Status: status,
					Origin: origin,
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderTaskTable(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&caseID, "case", "", "filter by case")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&origin, "origin", "", "auto or manual")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Change task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTaskStatus(ctx, e.Config.Tenant.ID, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func noticeCmd() *cobra.Command {
	nt := &cobra.Command{Use: "notice", Short: "Record notices and replies"}
	nt.AddCommand(noticeRecordCmd())
	nt.AddCommand(noticeListCmd())
	nt.AddCommand(noticeReplyCmd())
	return nt
}

func noticeRecordCmd() *cobra.Command {
	var noticeNo string
	var replyDue int
	cmd := &cobra.Command{
		Use:   "record <stage-instance-id>",
		Short: "Record a notice on a stage instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.RecordNotice(ctx, engine.NoticeCreateOptions{
					TenantID:        e.Config.Tenant.ID,
					StageInstanceID: args[0],
					NoticeNo:        noticeNo,
					ReplyDueInDays:  replyDue,
					ActorID:         viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().StringVar(&noticeNo, "no", "", "notice number")
	cmd.Flags().IntVar(&replyDue, "reply-due-in", 0, "reply due date in business days")
	_ = cmd.MarkFlagRequired("no")
	return cmd
}

func noticeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <stage-instance-id>",
		Short: "List notices on a stage instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListNotices(ctx, e.Config.Tenant.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func noticeReplyCmd() *cobra.Command {
	var summary string
	cmd := &cobra.Command{
		Use:   "reply <notice-id>",
		Short: "File a reply to a notice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.RecordReply(ctx, e.Config.Tenant.ID, args[0], summary, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().StringVar(&summary, "summary", "", "reply summary")
	return cmd
}

func hearingCmd() *cobra.Command {
	hr := &cobra.Command{Use: "hearing", Short: "Schedule and record hearings"}
	var when, notes string
	schedule := &cobra.Command{
		Use:   "schedule <stage-instance-id>",
		Short: "Schedule a hearing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				h, err := e.ScheduleHearing(ctx, engine.HearingCreateOptions{
					TenantID:        e.Config.Tenant.ID,
					StageInstanceID: args[0],
					ScheduledFor:    when,
					Notes:           notes,
					ActorID:         viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	}
	schedule.Flags().StringVar(&when, "at", "", "RFC3339 timestamp")
	schedule.Flags().StringVar(&notes, "notes", "", "notes")
	_ = schedule.MarkFlagRequired("at")
	hr.AddCommand(schedule)

	var status, outcomeNotes string
	outcome := &cobra.Command{
		Use:   "outcome <hearing-id>",
		Short: "Record a hearing outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.SetHearingStatus(ctx, e.Config.Tenant.ID, args[0], status, outcomeNotes, viper.GetString("actor-id"))
			})
		},
	}
	outcome.Flags().StringVar(&status, "status", "", "held, adjourned or cancelled")
	outcome.Flags().StringVar(&outcomeNotes, "notes", "", "notes")
	_ = outcome.MarkFlagRequired("status")
	hr.AddCommand(outcome)
	return hr
}

func escalationCmd() *cobra.Command {
	es := &cobra.Command{Use: "escalation", Short: "Escalation sweep and events"}
	es.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Evaluate overdue tasks and raise escalations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev := escalation.New(e.DB, e.Config, e.Notifier)
				n, err := ev.CheckAndEscalate(ctx, e.Config.Tenant.ID)
				if err != nil {
					return err
				}
				fmt.Printf("%d escalation(s) created\n", n)
				return nil
			})
		},
	})
	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List escalation events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListEscalationEvents(ctx, e.Config.Tenant.ID, repo.EscalationFilters{
					Status: status,
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status")
	list.Flags().IntVar(&limit, "limit", 0, "max rows")
	es.AddCommand(list)
	var newStatus string
	update := &cobra.Command{
		Use:   "status <event-id>",
		Short: "Mark an escalation contacted, resolved or escalated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev := escalation.New(e.DB, e.Config, e.Notifier)
				event, err := ev.SetStatus(ctx, e.Config.Tenant.ID, args[0], newStatus, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(event)
			})
		},
	}
	update.Flags().StringVar(&newStatus, "to", "", "contacted, resolved or escalated")
	_ = update.MarkFlagRequired("to")
	es.AddCommand(update)
	return es
}

func employeeCmd() *cobra.Command {
	em := &cobra.Command{Use: "employee", Short: "Manage the employee directory"}
	var id, name, role, manager string
	var inactive bool
	add := &cobra.Command{
		Use:   "add",
		Short: "Register an employee",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				emp := domain.Employee{
					ID:       id,
					TenantID: e.Config.Tenant.ID,
					Name:     name,
					Role:     role,
					Active:   !inactive,
				}
				if manager != "" {
					emp.ManagerID = &manager
				}
				emp, err := e.EnsureEmployee(ctx, emp)
				if err != nil {
					return err
				}
				return printJSONOrTable(emp)
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "employee id (generated when empty)")
	add.Flags().StringVar(&name, "name", "", "name")
	add.Flags().StringVar(&role, "role", "", "role, e.g. associate, partner")
	add.Flags().StringVar(&manager, "manager", "", "manager employee id")
	add.Flags().BoolVar(&inactive, "inactive", false, "register without making the employee assignable")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("role")
	em.AddCommand(add)

	em.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List employees",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListEmployees(ctx, e.Config.Tenant.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return em
}

func timelineCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "timeline <case-id>",
		Short: "Show a case's append-only history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTimeline(ctx, e.Config.Tenant.ID, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderTimelineTable(items)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
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
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveTenantAndConfig(cmd.Context(), viper.GetString("tenant"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			if len(cfg.Notifications.Webhooks) > 0 {
				e.Notifier = notify.NewWebhookDispatcher(cfg)
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("CASELINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CASELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:    e,
				Tracker:   workflow.New(e),
				Evaluator: escalation.New(conn, cfg, e.Notifier),
				BasePath:  basePath,
				Auth:      authCfg,
			})
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
			fmt.Printf("Serving Caseline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8484", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveTenantAndConfig(ctx, viper.GetString("tenant"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withTracker(ctx context.Context, fn func(context.Context, workflow.Tracker) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		return fn(ctx, workflow.New(e))
	})
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

func renderCaseTable(items []domain.Case) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Title", "Stage", "Status", "Amount", "Owner"})
	for _, c := range items {
		owner := ""
		if c.OwnerID != nil {
			owner = *c.OwnerID
		}
		t.AppendRow(table.Row{c.ID, c.Title, c.CurrentStage, c.Status, c.DisputedAmount, owner})
	}
	t.Render()
}

func renderStageTable(items []domain.StageInstance) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Stage", "Cycle", "Status", "Started", "Closed"})
	for _, si := range items {
		closed := ""
		if si.ClosedAt != nil {
			closed = *si.ClosedAt
		}
		t.AppendRow(table.Row{si.ID, si.StageKey, si.CycleNo, si.Status, si.StartedAt, closed})
	}
	t.Render()
}

func renderTaskTable(items []domain.Task) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"ID", "Title", "Priority", "Status", "Due", "Origin"})
	for _, tk := range items {
		due := ""
		if tk.DueDate != nil {
			due = *tk.DueDate
		}
		t.AppendRow(table.Row{tk.ID, tk.Title, tk.Priority, tk.Status, due, tk.Origin})
	}
	t.Render()
}

func renderTimelineTable(items []domain.TimelineEntry) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"#", "At", "Type", "Title", "Actor"})
	for _, e := range items {
		t.AppendRow(table.Row{e.ID, e.TS, e.Type, e.Title, e.ActorID})
	}
	t.Render()
}
