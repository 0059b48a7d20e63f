package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"atelier/internal/app"
	"atelier/internal/config"
	"atelier/internal/db"
	"atelier/internal/domain"
	"atelier/internal/engine"
	"atelier/internal/migrate"
	"atelier/internal/repo"
	"atelier/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "atl",
	Short: "Atelier CLI",
	Long: `Atelier tracks custom furniture design items through stage gates.
Core concepts:
- Workspace: your .atelier directory holding only the database; configs live in the DB.
- Project: one commission that owns all design items and events.
- Items: furniture pieces with a sourcing type (manufactured, procured, architectural, construction) that fixes their stage track.
- RAG board: per-item red/amber/green status across design completeness, manufacturing readiness, and quality gates; readiness is derived, never edited.
- Gates: each forward stage move checks must-meet aspects and a minimum readiness; failures block unless overridden with a note.
- Overrides: recorded on the history row and as a dedicated event, so bypasses stay visible.
- Event log: diary of changes, view with 'atl log tail'.`,
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
	viper.SetEnvPrefix("ATELIER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(ragCmd())
	rootCmd.AddCommand(gateCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectConfigCmd())
	prj.AddCommand(projectUseCmd())
	return prj
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
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var id, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
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
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			p, err := e.InitProject(cmd.Context(), id, desc, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Project.ID
				}
				p, err := e.Repo.GetProject(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var status string
	var description string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Project.ID
				}
				var descPtr *string
				if cmd.Flags().Changed("description") {
					descPtr = &description
				}
				if err := e.Repo.UpdateProject(ctx, target, status, descPtr); err != nil {
					return err
				}
				p, err := e.Repo.GetProject(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status (active, paused, archived)")
	cmd.Flags().StringVar(&description, "description", "", "description")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("project")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if target == "" {
					target = e.Config.Project.ID
				}
				return e.Repo.DeleteProject(ctx, target)
			})
		},
	}
	return cmd
}

func projectUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "ATELIER_DEFAULT_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set ATELIER_DEFAULT_PROJECT=%s in %s/.env\n", projectID, workspace)
			return nil
		},
	}
	return cmd
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage project config",
	}
	cfg.AddCommand(projectConfigShowCmd())
	cfg.AddCommand(projectConfigImportCmd())
	cfg.AddCommand(projectConfigValidateCmd())
	return cfg
}

func projectConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			projectID := cfg.Project.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				if err := e.Repo.UpsertProjectConfig(ctx, projectID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func projectConfigValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project status",
		Long:  "See the scoreboard for your project: item counts per stage and overall project state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID = strings.TrimSpace(projectID)
				if projectID == "" {
					projectID = e.Config.Project.ID
				}
				p, err := e.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountItemsByStage(ctx, projectID)
				if err != nil {
					return err
				}
				out := map[string]any{
					"project_id":  p.ID,
					"status":      p.Status,
					"item_counts": counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Project: %s (%s)\n", p.ID, p.Status)
				fmt.Println("Items:")
				for stage, c := range counts {
					fmt.Printf("  %s: %d\n", stage, c)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	return cmd
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{
		Use:   "item",
		Short: "Manage design items",
		Long:  "Design items are the furniture pieces. Each carries a RAG board and moves along its sourcing track through stage gates.",
	}
	item.AddCommand(itemCreateCmd())
	item.AddCommand(itemListCmd())
	item.AddCommand(itemGetCmd())
	item.AddCommand(itemUpdateCmd())
	item.AddCommand(itemReadinessCmd())
	item.AddCommand(itemHistoryCmd())
	return item
}

func itemCreateCmd() *cobra.Command {
	var opts engine.ItemCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a design item",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.ProjectID == "" {
					opts.ProjectID = e.Config.Project.ID
				}
				it, err := e.CreateItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "item id (optional, deterministic UUID if omitted)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "item name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.SourcingType, "sourcing-type", "manufactured", "sourcing type (manufactured, procured, architectural, construction)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func itemListCmd() *cobra.Command {
	var f repo.ItemFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List design items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.ProjectID == "" {
					f.ProjectID = e.Config.Project.ID
				}
				items, err := e.Repo.ListItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Sourcing", "Stage", "Readiness"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Name, it.SourcingType, it.CurrentStage, fmt.Sprintf("%d%%", it.OverallReadiness)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.Stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&f.SourcingType, "sourcing-type", "", "sourcing type filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func itemGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get design item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.Repo.GetItem(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	return cmd
}

func itemUpdateCmd() *cobra.Command {
	var name, description string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update design item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ItemUpdateOptions{
				ID:      args[0],
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.UpdateItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	return cmd
}

func itemReadinessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "readiness <id>",
		Short: "Show item readiness summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, summary, err := e.Readiness(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"item_id": it.ID, "summary": summary})
				}
				fmt.Printf("Item: %s (%s)\n", it.Name, it.CurrentStage)
				fmt.Printf("Overall readiness: %d%% (worst: %s)\n", summary.Overall, summary.Worst)
				for cat, pct := range summary.ByCategory {
					fmt.Printf("  %s: %d%%\n", cat, pct)
				}
				return nil
			})
		},
	}
	return cmd
}

func itemHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show item stage history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				transitions, err := e.Repo.ListTransitions(ctx, id, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(transitions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "From", "To", "By", "Override", "Notes"})
				for _, t := range transitions {
					tw.AppendRow(table.Row{t.TransitionedAt, t.FromStage, t.ToStage, t.TransitionedBy, t.IsOverride, t.Notes})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "n", 20, "number of entries")
	return cmd
}

func ragCmd() *cobra.Command {
	r := &cobra.Command{
		Use:   "rag",
		Short: "Manage RAG boards",
		Long:  "The RAG board records red/amber/green status per aspect, like design_completeness.model_3d. Readiness is derived from the board.",
	}
	r.AddCommand(ragSetCmd())
	return r
}

func ragSetCmd() *cobra.Command {
	var aspect, status, notes string
	cmd := &cobra.Command{
		Use:   "set <item-id>",
		Short: "Set one RAG aspect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if aspect == "" || status == "" {
				return fmt.Errorf("--aspect and --status required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, summary, err := e.SetRAG(ctx, id, aspect, status, notes, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"item_id": it.ID, "summary": summary})
				}
				fmt.Printf("%s -> %s (overall readiness %d%%)\n", aspect, status, summary.Overall)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&aspect, "aspect", "", "aspect path, e.g. design_completeness.model_3d")
	cmd.Flags().StringVar(&status, "status", "", "status (red, amber, green, not-applicable)")
	cmd.Flags().StringVar(&notes, "notes", "", "optional notes")
	return cmd
}

func gateCmd() *cobra.Command {
	g := &cobra.Command{
		Use:   "gate",
		Short: "Gate checks",
	}
	g.AddCommand(gateCheckCmd())
	return g
}

func gateCheckCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "check <item-id>",
		Short: "Evaluate the gate for a target stage without moving the item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, target, decision, err := e.GateCheck(ctx, id, to)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"item_id":       it.ID,
						"current_stage": it.CurrentStage,
						"target_stage":  target,
						"decision":      decision,
					})
				}
				verdict := "BLOCKED"
				if decision.CanAdvance {
					verdict = "OPEN"
				}
				fmt.Printf("Gate %s -> %s: %s\n", it.CurrentStage, target, verdict)
				for _, f := range decision.Failures {
					fmt.Printf("  fail: %s\n", f)
				}
				for _, w := range decision.Warnings {
					fmt.Printf("  warn: %s\n", w)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target stage (defaults to next on track)")
	return cmd
}

func stageCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "stage",
		Short: "Stage transitions",
		Long:  "Advance moves an item forward through its gate; revert moves it backward with a mandatory note and no gate.",
	}
	s.AddCommand(stageAdvanceCmd())
	s.AddCommand(stageRevertCmd())
	return s
}

func stageAdvanceCmd() *cobra.Command {
	var to, notes string
	var override bool
	cmd := &cobra.Command{
		Use:   "advance <item-id>",
		Short: "Advance item to the next or a named stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.Transition(ctx, engine.TransitionOptions{
					ItemID:   id,
					To:       to,
					Notes:    notes,
					Override: override,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target stage (defaults to next on track)")
	cmd.Flags().StringVar(&notes, "notes", "", "transition notes (required with --override)")
	cmd.Flags().BoolVar(&override, "override", false, "bypass a failing gate (requires --notes)")
	return cmd
}

func stageRevertCmd() *cobra.Command {
	var to, notes string
	cmd := &cobra.Command{
		Use:   "revert <item-id>",
		Short: "Move item back to an earlier stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if to == "" {
				return fmt.Errorf("--to required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.Revert(ctx, id, to, notes, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target stage (must be behind the current one)")
	cmd.Flags().StringVar(&notes, "notes", "", "reason for the revert (required)")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: item changes, RAG updates, transitions, overrides.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Project.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbac",
		Short: "RBAC management",
	}
	cmd.AddCommand(rbacWhoamiCmd())
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	cmd.AddCommand(rbacBootstrapCmd())
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show current actor roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				who, err := e.WhoAmI(ctx, e.Config.Project.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(who)
			})
		},
	}
	return cmd
}

func rbacGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant role to actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.GrantRole(ctx, e.Config.Project.ID, viper.GetString("actor-id"), target, role)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke-role",
		Short: "Revoke role from actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeRole(ctx, e.Config.Project.ID, viper.GetString("actor-id"), target, role)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacBootstrapCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap an actor role without RBAC checks (dev only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			projectID := strings.TrimSpace(viper.GetString("project"))
			if projectID == "" {
				return fmt.Errorf("project not specified; use --project or set ATELIER_DEFAULT_PROJECT (atl project use <id>)")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetProject(ctx, projectID); err != nil {
					return err
				}
				cfg, cfgErr := r.GetProjectConfig(ctx, projectID)
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if cfgErr == nil && cfg != nil {
					if roleDef, ok := cfg.RBAC.Roles[role]; ok {
						if err := r.InsertRole(ctx, tx, role, roleDef.Description); err != nil {
							return err
						}
						for _, perm := range roleDef.Permissions {
							if err := r.InsertPermission(ctx, tx, perm, ""); err != nil {
								return err
							}
							if err := r.AddRolePermission(ctx, tx, role, perm); err != nil {
								return err
							}
						}
					} else {
						if err := r.InsertRole(ctx, tx, role, ""); err != nil {
							return err
						}
					}
				} else {
					if err := r.InsertRole(ctx, tx, role, ""); err != nil {
						return err
					}
				}
				if err := r.EnsureActor(ctx, tx, target, time.Now().UTC().Format(time.RFC3339)); err != nil {
					return err
				}
				if err := r.AssignRole(ctx, tx, projectID, target, role); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyRevokeCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (secret is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			raw := make([]byte, 24)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := "atl_" + hex.EncodeToString(raw)
			key := domain.APIKey{
				ID:      uuid.NewString(),
				ActorID: actor,
				Name:    name,
				KeyHash: repo.HashAPIKey(secret),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				now := time.Now().UTC().Format(time.RFC3339)
				if err := r.EnsureActor(ctx, tx, actor, now); err != nil {
					return err
				}
				if err := r.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": actor, "key": secret})
				}
				fmt.Printf("API key %s created for %s\n", key.ID, actor)
				fmt.Printf("Secret (save it now, it is not stored): %s\n", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor id")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
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

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
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
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("ATELIER_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("ATELIER_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Atelier API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (deprecated)")
	return cmd
}

// --- helpers ---

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
	_, cfg, err := app.ResolveProjectAndConfig(ctx, workspace, viper.GetString("project"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
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
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
