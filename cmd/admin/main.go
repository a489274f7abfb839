// Command admin manages ProjectHub accounts and catalogue maintenance from
// the terminal.
package main

import (
	"context"
	"fmt"
	"os"

	"projecthub/internal/bootstrap"
	"projecthub/internal/classify"
	"projecthub/internal/config"
	"projecthub/internal/service"

	"github.com/spf13/cobra"
)

var (
	flagFormat string

	cfg          *config.Config
	rt           *bootstrap.Runtime
	provisioning *service.ProvisioningService
	users        *service.UserService
	reconciler   *service.ReconcileService
)

var rootCmd = &cobra.Command{
	Use:   "projecthub-admin",
	Short: "ProjectHub admin CLI",
	Long: `projecthub-admin provisions admins and mentors, moderates accounts and
repairs the project catalogue against the configured store.

  projecthub-admin create-admin --email ops@example.com --password 'S3cure-Passw0rd!'
  projecthub-admin promote ada@example.com --role mentor
  projecthub-admin reconcile --dry-run
  projecthub-admin inspect --format json`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		rt, err = bootstrap.InitRuntime(cmd.Context(), cfg, bootstrap.Options{})
		if err != nil {
			return err
		}
		provisioning = service.NewProvisioningService(rt.Store.Users, cfg.DirectoryRoles(), nil)
		users = service.NewUserService(rt.Store, service.UserServiceConfig{JWTSecret: cfg.JWTSecret})
		resolver := service.NewIdentityResolver(rt.Store.Users)
		reconciler = service.NewReconcileService(rt.Store, resolver, classify.New(cfg.UploadsPrefix))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if rt == nil {
			return nil
		}
		return rt.Close(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "table", "Output format: table, yaml or json")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if rt != nil {
			_ = rt.Close(context.Background())
		}
		os.Exit(1)
	}
}
