package main

import (
	"fmt"
	"os"
	"strings"

	"projecthub/internal/models"
	"projecthub/internal/service"

	"github.com/spf13/cobra"
)

var (
	flagEmail    string
	flagName     string
	flagPassword string
	flagSuper    bool
	flagMentor   bool
	flagRole     string
	flagLimit    int
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an admin account, or upgrade an existing one",
	Long: `Create an admin account. When the email already belongs to a user, the
user is promoted and keeps their password.

The password can also be passed in ADMIN_PASSWORD.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password := flagPassword
		if password == "" {
			password = os.Getenv("ADMIN_PASSWORD")
		}
		role := models.RoleAdmin
		if flagSuper {
			role = models.RoleSuperAdmin
		}
		u, created, err := provisioning.EnsureAdmin(cmd.Context(), service.EnsureAdminInput{
			Email:    flagEmail,
			FullName: flagName,
			Password: password,
			Role:     role,
			Mentor:   flagMentor,
		})
		if err != nil {
			return err
		}
		verb := "Updated"
		if created {
			verb = "Created"
		}
		return printResult(cmd.OutOrStdout(), u, func() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s (%s)\n", verb, u.Type, u.Email, u.ID)
		})
	},
}

var promoteCmd = &cobra.Command{
	Use:   "promote <user-id|email>",
	Short: "Grant a role to a user",
	Long: `Grant mentor, admin or super_admin to a user. The user's profile type is
kept, so a promoted mentor stays in the mentor directory.

  projecthub-admin promote ada@example.com
  projecthub-admin promote 65f1a2b3c4d5e6f708192a3b --role mentor`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := models.ParseRole(flagRole)
		if err != nil {
			return err
		}
		if role == models.RoleStudent {
			return fmt.Errorf("use demote to return a user to their base role")
		}
		u, err := provisioning.ApplyRole(cmd.Context(), args[0], role)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), u, func() {
			fmt.Fprintf(cmd.OutOrStdout(), "Promoted %s (%s) to %s\n", u.Email, u.ID, u.Type)
		})
	},
}

var demoteCmd = &cobra.Command{
	Use:   "demote <user-id|email>",
	Short: "Return a user to the role matching their profile type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := provisioning.ApplyRole(cmd.Context(), args[0], "")
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), u, func() {
			fmt.Fprintf(cmd.OutOrStdout(), "Demoted %s (%s) to %s\n", u.Email, u.ID, u.Type)
		})
	},
}

var listAdminsCmd = &cobra.Command{
	Use:   "list-admins",
	Short: "List admins and super admins",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		admins, err := provisioning.ListAdmins(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), admins, func() {
			if len(admins) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No admins found")
				return
			}
			rows := make([][]string, 0, len(admins))
			for _, a := range admins {
				rows = append(rows, []string{a.ID.String(), string(a.Type), a.Email, statusLabel(a)})
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "ROLE", "EMAIL", "STATUS"}, rows)
		})
	},
}

var mentorsCmd = &cobra.Command{
	Use:   "mentors",
	Short: "Show the mentor directory as the API serves it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mentors, err := provisioning.MentorDirectory(cmd.Context(), flagLimit, 0)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), mentors, func() {
			roles := make([]string, 0)
			for _, r := range provisioning.DirectoryRoles() {
				roles = append(roles, string(r))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Directory roles: %s\n", strings.Join(roles, ", "))
			rows := make([][]string, 0, len(mentors))
			for _, m := range mentors {
				rows = append(rows, []string{m.ID.String(), string(m.Type), m.FullName})
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "ROLE", "NAME"}, rows)
		})
	},
}

func statusLabel(u *models.User) string {
	switch {
	case u.IsBlocked:
		return "blocked"
	case !u.IsActive:
		return "inactive"
	default:
		return "active"
	}
}

func init() {
	createAdminCmd.Flags().StringVar(&flagEmail, "email", "", "Account email")
	createAdminCmd.Flags().StringVar(&flagName, "name", "", "Full name (default: Administrator)")
	createAdminCmd.Flags().StringVar(&flagPassword, "password", "", "Password for a new account")
	createAdminCmd.Flags().BoolVar(&flagSuper, "super", false, "Grant super_admin")
	createAdminCmd.Flags().BoolVar(&flagMentor, "mentor", false, "Create the account with a mentor profile")
	_ = createAdminCmd.MarkFlagRequired("email")

	promoteCmd.Flags().StringVar(&flagRole, "role", string(models.RoleAdmin), "Role to grant: mentor, admin or super_admin")
	mentorsCmd.Flags().IntVar(&flagLimit, "limit", 100, "Maximum entries to show")

	rootCmd.AddCommand(createAdminCmd, promoteCmd, demoteCmd, listAdminsCmd, mentorsCmd)
}
