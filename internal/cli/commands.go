package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/infrastructure/persistence"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/services"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (o *RootOptions) printer(cmd *cobra.Command) printer {
	return printer{format: o.Format, w: cmd.OutOrStdout()}
}

// withApp opens the engine for the duration of fn.
func withApp(cmd *cobra.Command, opts *RootOptions, needRemote bool, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, opts, needRemote)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStores(ctx, opts)
			if err != nil {
				return err
			}
			defer st.close()

			applied, err := persistence.Migrate(ctx, st.sqlDB, st.dialect)
			if err != nil {
				return err
			}
			version, err := persistence.MigrationVersion(ctx, st.sqlDB, st.dialect)
			if err != nil {
				return err
			}
			p := opts.printer(cmd)
			if p.format == "json" {
				return p.json(map[string]any{"dialect": st.dialect, "applied": applied, "version": version})
			}
			fmt.Fprintf(p.w, "%s schema at version %d (%d applied)\n", st.dialect, version, len(applied))
			return nil
		},
	}
}

type catalogImportFile struct {
	EntityType string `json:"entity_type"`
	Records    []struct {
		EntityID   string       `json:"entity_id"`
		Fields     types.Fields `json:"fields"`
		ModifiedAt time.Time    `json:"modified_at"`
	} `json:"records"`
}

func newCatalogImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog-import <file.json>",
		Short: "Load catalog records for a tenant (replaces records with the same id)",
		Long: `Load catalog records for a tenant. The file holds
  {"entity_type": "product", "records": [{"entity_id": "p1", "fields": {...}, "modified_at": "..."}]}
Use "-" to read standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			var file catalogImportFile
			if err := json.NewDecoder(r).Decode(&file); err != nil {
				return types.NewValidationError("catalog file: " + err.Error())
			}
			if opts.TenantID == "" {
				return types.NewValidationError("tenant_id is required")
			}
			entityType := strings.TrimSpace(file.EntityType)
			if entityType == "" {
				entityType = "product"
			}
			return withApp(cmd, opts, false, func(ctx context.Context, a *app) error {
				for _, rec := range file.Records {
					id := strings.TrimSpace(rec.EntityID)
					if id == "" {
						return types.NewValidationError("catalog file: entity_id is required")
					}
					if err := a.stores.catalog.Put(ctx, opts.TenantID, entityType, id, types.Snapshot{Fields: rec.Fields, ModifiedAt: rec.ModifiedAt}); err != nil {
						return fmt.Errorf("import %s/%s: %w", entityType, id, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d %s records\n", len(file.Records), entityType)
				return nil
			})
		},
	}
}

func newDetectCommand(opts *RootOptions) *cobra.Command {
	var entityType string
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Compare catalog and ERP records and record conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, true, func(ctx context.Context, a *app) error {
				res, err := a.facade.DetectConflicts(ctx, opts.TenantID, entityType)
				if err != nil {
					return err
				}
				return opts.printer(cmd).detection(res)
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "entity-type", "", "only scan this entity type")
	return cmd
}

func addListFlags(cmd *cobra.Command, req *services.ListRequest) {
	cmd.Flags().StringVar(&req.Status, "status", "", "pending|resolved|ignored")
	cmd.Flags().StringVar(&req.Type, "type", "", "conflict type, e.g. price_major or product_data")
	cmd.Flags().StringVar(&req.Severity, "severity", "", "low|medium|high")
	cmd.Flags().StringVar(&req.EntityType, "entity-type", "", "entity type")
}

func newListCommand(opts *RootOptions) *cobra.Command {
	var req services.ListRequest
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conflicts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, false, func(ctx context.Context, a *app) error {
				cs, err := a.facade.ListConflicts(ctx, opts.TenantID, req)
				if err != nil {
					return err
				}
				return opts.printer(cmd).conflicts(cs)
			})
		},
	}
	addListFlags(cmd, &req)
	cmd.Flags().IntVar(&req.Limit, "limit", types.DefaultPageLimit, "page size (1..500)")
	cmd.Flags().IntVar(&req.Offset, "offset", 0, "page offset")
	return cmd
}

func newGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <conflict-id>",
		Short: "Show one conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, false, func(ctx context.Context, a *app) error {
				c, err := a.facade.GetConflict(ctx, opts.TenantID, args[0])
				if err != nil {
					return err
				}
				return opts.printer(cmd).conflict(c)
			})
		},
	}
}

func newMetricsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Summarize conflicts by status, type and severity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, false, func(ctx context.Context, a *app) error {
				m, err := a.facade.GetMetrics(ctx, opts.TenantID)
				if err != nil {
					return err
				}
				return opts.printer(cmd).metrics(m)
			})
		},
	}
}

func addResolveFlags(cmd *cobra.Command, req *services.ResolveRequest) {
	cmd.Flags().StringVar(&req.Strategy, "strategy", "", "source_priority|timestamp_priority|smart_merge|value_based (default: policy default for the conflict type)")
	cmd.Flags().StringVar(&req.ChosenSource, "source", "", "local|remote; overrides the policy precedence for source_priority")
}

func newResolveCommand(opts *RootOptions) *cobra.Command {
	var req services.ResolveRequest
	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Resolve a pending conflict and write the result to the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, false, func(ctx context.Context, a *app) error {
				c, err := a.facade.ResolveConflict(ctx, opts.TenantID, args[0], req)
				if err != nil {
					return err
				}
				return opts.printer(cmd).conflict(c)
			})
		},
	}
	addResolveFlags(cmd, &req)
	cmd.Flags().StringVar(&req.Reason, "reason", "", "note recorded with the resolution")
	return cmd
}

func newPreviewCommand(opts *RootOptions) *cobra.Command {
	var req services.ResolveRequest
	cmd := &cobra.Command{
		Use:   "preview <conflict-id>",
		Short: "Show what a resolution would write, without writing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, false, func(ctx context.Context, a *app) error {
				o, err := a.facade.PreviewResolution(ctx, opts.TenantID, args[0], req)
				if err != nil {
					return err
				}
				return opts.printer(cmd).outcome(o)
			})
		},
	}
	addResolveFlags(cmd, &req)
	return cmd
}

func newIgnoreCommand(opts *RootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "ignore <conflict-id>",
		Short: "Close a pending conflict without touching the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, false, func(ctx context.Context, a *app) error {
				c, err := a.facade.IgnoreConflict(ctx, opts.TenantID, args[0], reason)
				if err != nil {
					return err
				}
				return opts.printer(cmd).conflict(c)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the conflict is ignored")
	return cmd
}

func newBulkResolveCommand(opts *RootOptions) *cobra.Command {
	var (
		strategy   string
		allPending bool
		req        services.ListRequest
	)
	cmd := &cobra.Command{
		Use:   "bulk-resolve [conflict-id...]",
		Short: "Resolve many conflicts with one strategy",
		Long: `Resolve the given conflicts, or with --all-pending every pending conflict
matching the filters. Conflicts that are no longer pending are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if allPending == (len(args) > 0) {
				return types.NewValidationError("pass conflict ids or --all-pending, not both")
			}
			return withApp(cmd, opts, false, func(ctx context.Context, a *app) error {
				ids := args
				if allPending {
					req.Status = string(types.StatusPending)
					var err error
					if ids, err = collectIDs(ctx, a.facade, opts.TenantID, req); err != nil {
						return err
					}
				}
				res, err := a.facade.BulkResolve(ctx, opts.TenantID, ids, strategy)
				if err != nil {
					return err
				}
				return opts.printer(cmd).bulk(res)
			})
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "", "strategy for every conflict (default: policy default per type)")
	cmd.Flags().BoolVar(&allPending, "all-pending", false, "resolve every pending conflict matching --type/--severity/--entity-type")
	cmd.Flags().StringVar(&req.Type, "type", "", "conflict type filter for --all-pending")
	cmd.Flags().StringVar(&req.Severity, "severity", "", "severity filter for --all-pending")
	cmd.Flags().StringVar(&req.EntityType, "entity-type", "", "entity type filter for --all-pending")
	return cmd
}

// collectIDs pages through the listing by id before anything is resolved, so
// neither the resolutions nor a concurrent detection shift the pages.
func collectIDs(ctx context.Context, facade *services.ConflictsFacade, tenantID string, req services.ListRequest) ([]string, error) {
	req.Limit = types.MaxPageLimit
	req.Offset = 0
	req.ByID = true
	var ids []string
	for {
		page, err := facade.ListConflicts(ctx, tenantID, req)
		if err != nil {
			return nil, err
		}
		for _, c := range page {
			ids = append(ids, c.ID)
		}
		if len(page) < req.Limit {
			return ids, nil
		}
		req.AfterID = page[len(page)-1].ID
	}
}

func newExportCommand(opts *RootOptions) *cobra.Command {
	var (
		req    services.ListRequest
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every matching conflict as CSV or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, false, func(ctx context.Context, a *app) error {
				w := cmd.OutOrStdout()
				if output != "" && output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				return a.facade.ExportConflicts(ctx, opts.TenantID, req, format, w)
			})
		},
	}
	addListFlags(cmd, &req)
	cmd.Flags().StringVar(&format, "as", "csv", "csv|json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default stdout)")
	return cmd
}

func newWatchCommand(opts *RootOptions) *cobra.Command {
	var (
		interval   time.Duration
		tenants    []string
		entityType string
		maxRuns    int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run detection periodically until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return types.NewValidationError("--interval must be > 0")
			}
			if len(tenants) == 0 && opts.TenantID != "" {
				tenants = []string{opts.TenantID}
			}
			if len(tenants) == 0 {
				return types.NewValidationError("tenant_id is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := openApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer a.Close()
			return runWatch(ctx, a, tenants, entityType, interval, maxRuns)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "time between detection runs")
	cmd.Flags().StringSliceVar(&tenants, "tenants", nil, "tenants to scan (default --tenant)")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "only scan this entity type")
	cmd.Flags().IntVar(&maxRuns, "max-runs", 0, "stop after this many runs (0 = until interrupted)")
	return cmd
}

// runWatch scans every tenant once per tick. A failed tenant run is logged and
// retried on the next tick.
func runWatch(ctx context.Context, a *app, tenants []string, entityType string, interval time.Duration, maxRuns int) error {
	runOnce := func() {
		for _, tenantID := range tenants {
			if ctx.Err() != nil {
				return
			}
			if _, err := a.facade.DetectConflicts(ctx, tenantID, entityType); err != nil {
				a.logger.Error("watch detection failed", zap.String("tenant_id", tenantID), zap.Error(err))
			}
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for runs := 1; ; runs++ {
		runOnce()
		if maxRuns > 0 && runs >= maxRuns {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
