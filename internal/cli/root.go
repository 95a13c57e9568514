package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/services"
	"github.com/jacksonlee411/catalog-erp-conflicts/pkg/authz"
	"github.com/jacksonlee411/catalog-erp-conflicts/pkg/httperr"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	SQLitePath string
	TenantID   string
	ActorID    string
	ActorRole  string
	Format     string // text|json
	Verbose    bool
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "conflictctl",
		Short: "Detect and resolve catalog/ERP record conflicts",
		Long: `conflictctl compares catalog records with their ERP counterparts, records
divergences as conflicts and resolves them with a tenant's policy.

Storage is SQLite when --sqlite is given or DATABASE_URL is a sqlite: or
file: URL, Postgres (DATABASE_URL or DB_*) otherwise.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return types.NewValidationError(fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			opts.TenantID = strings.TrimSpace(opts.TenantID)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(services.WithActor(ctx, types.Actor{ID: opts.ActorID, Role: opts.ActorRole}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.SQLitePath, "sqlite", os.Getenv("CONFLICTS_SQLITE_PATH"), "use a local SQLite database at this path instead of Postgres")
	cmd.PersistentFlags().StringVarP(&opts.TenantID, "tenant", "t", os.Getenv("TENANT_ID"), "tenant id")
	cmd.PersistentFlags().StringVar(&opts.ActorID, "actor", defaultActor(), "actor id recorded in the audit log")
	cmd.PersistentFlags().StringVar(&opts.ActorRole, "role", authz.RoleTenantAdmin, "actor role used for authorization")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newCatalogImportCommand(opts))
	cmd.AddCommand(newDetectCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newMetricsCommand(opts))
	cmd.AddCommand(newResolveCommand(opts))
	cmd.AddCommand(newPreviewCommand(opts))
	cmd.AddCommand(newIgnoreCommand(opts))
	cmd.AddCommand(newBulkResolveCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

func defaultActor() string {
	if v := strings.TrimSpace(os.Getenv("CONFLICTS_ACTOR")); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv("USER")); v != "" {
		return v
	}
	return "conflictctl"
}

const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// ExitCode maps an error to a process exit code: caller mistakes (bad input,
// denied, unknown or already-terminal conflict) exit 2, everything else 1.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	status, _ := httperr.Status(err)
	switch status {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict:
		return ExitCommandError
	default:
		return ExitFailure
	}
}

// ErrorLine renders err with its stable code, e.g.
// "conflict_not_pending: conflict c1 is resolved, expected pending".
func ErrorLine(err error) string {
	_, code := httperr.Status(err)
	return code + ": " + err.Error()
}
