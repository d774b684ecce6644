package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"radwerk/internal/app"
	"radwerk/internal/cockpit"
	"radwerk/internal/config"
	"radwerk/internal/db"
	"radwerk/internal/domain"
	"radwerk/internal/engine"
	"radwerk/internal/lifecycle"
	"radwerk/internal/migrate"
	"radwerk/internal/repo"
	"radwerk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rw",
	Short: "Radwerk CLI",
	Long: `Radwerk runs the day-to-day of a bicycle workshop.
Core concepts:
- Workspace: your .radwerk directory with only the database; config is stored per workshop and imported explicitly.
- Workshop: one shop with its own orders, builds, policies and event log.
- Orders: repair jobs that flow received -> awaiting_parts/in_progress -> qc_pending -> ready_for_pickup -> picked_up -> closed. Closed orders can be reopened.
- Builds: new-bike assemblies going open -> in_progress -> assembled -> inspected. Moving past in_progress requires the bike attributes your config lists.
- Cockpit: the dashboard; every open item gets an urgency tier (overdue, due_today, due_tomorrow, upcoming, far_future) from its due date.
- Event log: append-only diary of everything that happened, view with 'rw log tail'.
- Retention: archived work is swept to purged tombstones after the configured number of days.`,
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
	viper.SetEnvPrefix("RADWERK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("actor-name", "", "actor display name")
	rootCmd.PersistentFlags().String("workshop", "", "workshop id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-name", rootCmd.PersistentFlags().Lookup("actor-name"))
	_ = viper.BindPFlag("workshop", rootCmd.PersistentFlags().Lookup("workshop"))
}

func registerCommands() {
	rootCmd.AddCommand(workshopCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(buildCmd())
	rootCmd.AddCommand(cockpitCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(purgeCmd())
	rootCmd.AddCommand(serveCmd())
}

func cliActor() domain.Actor {
	return domain.Actor{
		ID:          viper.GetString("actor-id"),
		DisplayName: viper.GetString("actor-name"),
	}
}

func workshopCmd() *cobra.Command {
	ws := &cobra.Command{Use: "workshop", Short: "Manage workshops"}
	ws.AddCommand(workshopListCmd())
	ws.AddCommand(workshopCreateCmd())
	ws.AddCommand(workshopShowCmd())
	ws.AddCommand(workshopStatusCmd())
	ws.AddCommand(workshopUseCmd())
	return ws
}

func workshopListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workshops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListWorkshops(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func workshopCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create workshop",
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
			e := engine.New(conn, config.Default(id))
			w, err := e.InitWorkshop(cmd.Context(), id, name)
			if err != nil {
				return err
			}
			return printJSONOrTable(w)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "workshop id")
	cmd.Flags().StringVar(&name, "name", "", "workshop name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func workshopShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a workshop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWorkshop(ctx, e.Config.Workshop.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func workshopStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workshop status",
		Long:  "The scoreboard: order and build counts by status for the active workshop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				workshopID := e.Config.Workshop.ID
				w, err := e.Repo.GetWorkshop(ctx, workshopID)
				if err != nil {
					return err
				}
				orderCounts, err := e.Repo.CountOrdersByStatus(ctx, workshopID)
				if err != nil {
					return err
				}
				buildCounts, err := e.Repo.CountBuildsByStatus(ctx, workshopID)
				if err != nil {
					return err
				}
				out := map[string]any{
					"workshop_id":  w.ID,
					"status":       w.Status,
					"order_counts": orderCounts,
					"build_counts": buildCounts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Workshop: %s (%s)\n", w.ID, w.Status)
				fmt.Println("Orders:")
				for status, c := range orderCounts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				fmt.Println("Builds:")
				for status, c := range buildCounts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func workshopUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current workshop for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workshopID := strings.TrimSpace(args[0])
			if workshopID == "" {
				return fmt.Errorf("workshop id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "RADWERK_WORKSHOP", workshopID); err != nil {
				return err
			}
			fmt.Printf("Set RADWERK_WORKSHOP=%s in %s/.env\n", workshopID, workspace)
			return nil
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workshop config",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show workshop config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import workshop config from YAML into the DB (default: the workspace radwerk.yml)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			var err error
			if filePath != "" {
				cfg, err = config.FromFile(filePath)
			} else {
				cfg, err = config.Load(viper.GetString("workspace"))
			}
			if err != nil {
				return err
			}
			workshopID := cfg.Workshop.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if workshopID == "" {
					workshopID = e.Config.Workshop.ID
				}
				if err := e.Repo.UpsertWorkshopConfig(ctx, workshopID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config (default: <workspace>/radwerk.yml)")
	return cmd
}

func configInitCmd() *cobra.Command {
	var workshopID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default radwerk.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workshopID == "" {
				workshopID = viper.GetString("workshop")
			}
			if workshopID == "" {
				return fmt.Errorf("--id or --workshop required")
			}
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(workshopID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&workshopID, "id", "", "workshop id")
	return cmd
}

func orderCmd() *cobra.Command {
	order := &cobra.Command{
		Use:   "order",
		Short: "Manage repair orders",
		Long:  "Repair orders flow received -> awaiting_parts/in_progress -> qc_pending -> ready_for_pickup -> picked_up -> closed. A closed order can be reopened back to in_progress.",
	}
	order.AddCommand(orderCreateCmd())
	order.AddCommand(orderListCmd())
	order.AddCommand(orderShowCmd())
	order.AddCommand(orderStatusCmd())
	order.AddCommand(orderAssignCmd())
	order.AddCommand(orderNoteCmd())
	order.AddCommand(orderChecklistCmd())
	order.AddCommand(orderArchiveCmd())
	order.AddCommand(orderHistoryCmd())
	return order
}

func orderCreateCmd() *cobra.Command {
	var opts engine.OrderCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Take in a repair order",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Actor = cliActor()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.WorkshopID == "" {
					opts.WorkshopID = e.Config.Workshop.ID
				}
				o, err := e.CreateOrder(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "order id (generated when omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "order title")
	cmd.Flags().StringVar(&opts.CustomerName, "customer", "", "customer name")
	cmd.Flags().StringVar(&opts.BikeDesc, "bike", "", "bike description")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee-id", "", "assignee id")
	cmd.Flags().StringVar(&opts.AssigneeName, "assignee-name", "", "assignee name")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (RFC3339)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func orderListCmd() *cobra.Command {
	var f repo.OrderFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.WorkshopID == "" {
					f.WorkshopID = e.Config.Workshop.ID
				}
				orders, err := e.Repo.ListOrders(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orders)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Due"})
				for _, o := range orders {
					tw.AppendRow(table.Row{o.ID, o.Title, o.Status, stringOrEmpty(o.AssigneeID), stringOrEmpty(o.DueDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee-id", "", "assignee filter")
	cmd.Flags().BoolVar(&f.IncludeArchived, "include-archived", false, "include archived orders")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func orderShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.Repo.GetOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func orderStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Move an order to a new status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status == "" {
				return fmt.Errorf("--to required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.TransitionOrder(ctx, args[0], status, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&status, "to", "", "target status")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func orderAssignCmd() *cobra.Command {
	var assigneeID, assigneeName string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.AssignOrder(ctx, args[0], assigneeID, assigneeName, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&assigneeID, "to", "", "assignee id")
	cmd.Flags().StringVar(&assigneeName, "name", "", "assignee name")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func orderNoteCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "note <id>",
		Short: "Add a note to an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evt, err := e.AddOrderNote(ctx, args[0], text, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "note text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func orderChecklistCmd() *cobra.Command {
	var item string
	var done bool
	cmd := &cobra.Command{
		Use:   "check <id>",
		Short: "Tick a repair checklist item on or off",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evt, err := e.UpdateChecklist(ctx, args[0], item, done, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	cmd.Flags().StringVar(&item, "item", "", "checklist item")
	cmd.Flags().BoolVar(&done, "done", true, "mark done (or --done=false)")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func orderArchiveCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.ArchiveOrder(ctx, args[0], reason, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "archive reason")
	return cmd
}

func orderHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the full audit trail of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.History(ctx, lifecycle.KindOrder, args[0])
				if err != nil {
					return err
				}
				return printEvents(events)
			})
		},
	}
	return cmd
}

func buildCmd() *cobra.Command {
	build := &cobra.Command{
		Use:   "build",
		Short: "Manage assembly builds",
		Long:  "Assembly builds flow open -> in_progress -> assembled -> inspected. A build cannot leave in_progress until the bike attributes required by config (brand, model, frame number, ...) are on record; use 'rw build complete' to supply them.",
	}
	build.AddCommand(buildCreateCmd())
	build.AddCommand(buildListCmd())
	build.AddCommand(buildShowCmd())
	build.AddCommand(buildStatusCmd())
	build.AddCommand(buildCompleteCmd())
	build.AddCommand(buildAssignCmd())
	build.AddCommand(buildNoteCmd())
	build.AddCommand(buildArchiveCmd())
	build.AddCommand(buildHistoryCmd())
	return build
}

func buildCreateCmd() *cobra.Command {
	var opts engine.BuildCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open an assembly build",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Actor = cliActor()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if opts.WorkshopID == "" {
					opts.WorkshopID = e.Config.Workshop.ID
				}
				b, err := e.CreateBuild(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "build id (generated when omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "build title")
	cmd.Flags().StringVar(&opts.CustomerName, "customer", "", "customer name")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee-id", "", "assignee id")
	cmd.Flags().StringVar(&opts.AssigneeName, "assignee-name", "", "assignee name")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (RFC3339)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func buildListCmd() *cobra.Command {
	var f repo.BuildFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List builds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.WorkshopID == "" {
					f.WorkshopID = e.Config.Workshop.ID
				}
				builds, err := e.Repo.ListBuilds(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(builds)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Due"})
				for _, b := range builds {
					tw.AppendRow(table.Row{b.ID, b.Title, b.Status, stringOrEmpty(b.AssigneeID), stringOrEmpty(b.DueDate)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee-id", "", "assignee filter")
	cmd.Flags().BoolVar(&f.IncludeArchived, "include-archived", false, "include archived builds")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func buildShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Repo.GetBuild(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Move a build to a new status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status == "" {
				return fmt.Errorf("--to required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.TransitionBuild(ctx, args[0], status, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&status, "to", "", "target status")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func buildCompleteCmd() *cobra.Command {
	var fieldArgs []string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a build with its bike attributes",
		Long:  "Supply the physical bike attributes as --field name=value pairs. Completion fails with the missing list when the workshop's required fields are not all present.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := map[string]string{}
			for _, kv := range fieldArgs {
				name, value, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --field %q, want name=value", kv)
				}
				fields[name] = value
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.CompleteBuild(ctx, args[0], fields, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringArrayVar(&fieldArgs, "field", nil, "bike attribute as name=value (repeatable)")
	return cmd
}

func buildAssignCmd() *cobra.Command {
	var assigneeID, assigneeName string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign a build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.AssignBuild(ctx, args[0], assigneeID, assigneeName, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&assigneeID, "to", "", "assignee id")
	cmd.Flags().StringVar(&assigneeName, "name", "", "assignee name")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func buildNoteCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "note <id>",
		Short: "Add a note to a build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evt, err := e.AddBuildNote(ctx, args[0], text, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "note text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func buildArchiveCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.ArchiveBuild(ctx, args[0], reason, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "archive reason")
	return cmd
}

func buildHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the full audit trail of a build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.History(ctx, lifecycle.KindBuild, args[0])
				if err != nil {
					return err
				}
				return printEvents(events)
			})
		},
	}
	return cmd
}

func cockpitCmd() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "cockpit",
		Short: "Dashboard of open work by urgency",
		Long:  "Every open order and build classified against the current time: overdue first, then by due date. Filters: all, overdue, today, urgent, upcoming.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.Cockpit(ctx, e.Config.Workshop.ID, cockpit.Filter(filter))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				fmt.Printf("Filter: %s  ", view.Filter)
				for _, f := range cockpit.Filters {
					fmt.Printf("[%s %d] ", f, view.Counts[f])
				}
				fmt.Println()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Kind", "ID", "Title", "Status", "Urgency", "Due"})
				for _, entry := range view.Entries {
					due := ""
					if entry.DueDate != nil {
						due = entry.DueDate.UTC().Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{entry.EntityKind, entry.ID, entry.Title, entry.Status, entry.Classification.Label, due})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "all", "cockpit filter (all, overdue, today, urgent, upcoming)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: status changes, assignments, notes, checklist ticks, archives and purges.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var kind, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Workshop.ID, kind, entityKind, entityID)
				if err != nil {
					return err
				}
				return printEvents(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&kind, "kind", "", "event kind filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind filter (order, build)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	return cmd
}

func purgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Run the retention sweep",
		Long:  "Turns entities archived longer than retention.archive_days into purged tombstones. History stays; personal data goes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.PurgeExpired(ctx, e.Config.Workshop.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{"purged": n})
				}
				fmt.Printf("Purged %d entities\n", n)
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyHeader bool
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
			_, cfg, err := app.ResolveWorkshopAndConfig(cmd.Context(), viper.GetString("workshop"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("RADWERK_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyHeader,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("RADWERK_JWT_SECRET is required for bearer auth")
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
			fmt.Printf("Serving Radwerk API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyHeader, "allow-legacy-actor-header", false, "accept X-Actor-Id without a token")
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
	_, cfg, err := app.ResolveWorkshopAndConfig(ctx, viper.GetString("workshop"), r)
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

func printEvents(events []domain.Event) error {
	if viper.GetBool("json") {
		return printJSON(events)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "TS", "Kind", "Entity", "Actor", "Payload"})
	for _, evt := range events {
		tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Kind, evt.EntityKind + "/" + evt.EntityID, evt.ActorID, evt.Payload})
	}
	tw.Render()
	return nil
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

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
