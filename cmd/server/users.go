package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/escra-platform/portal/internal/config"
	"github.com/escra-platform/portal/internal/db"
	"github.com/escra-platform/portal/internal/model"
	"github.com/escra-platform/portal/internal/repository"
	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage accounts in the local database",
	Long: `Manage accounts directly in the gateway database.

These commands open the database named by --config (or DB_PATH) and are
the only way to grant the admin role.`,
}

var setRoleCmd = &cobra.Command{
	Use:   "set-role <email> <role>",
	Short: "Change the role of an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := model.Role(strings.ToLower(args[1]))
		if !role.Valid() {
			return fmt.Errorf("unknown role %q (want admin, creator, editor or viewer)", args[1])
		}
		return withUser(cmd.Context(), args[0], func(ctx context.Context, users *repository.UserRepository, u *model.User) error {
			if err := users.UpdateRole(ctx, u.ID, role); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is now %s\n", okColor.Sprint("✓"), nameColor.Sprint(u.Email), role)
			return nil
		})
	},
}

var disableUserCmd = &cobra.Command{
	Use:   "disable <email>",
	Short: "Disable an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(cmd, args[0], false)
	},
}

var enableUserCmd = &cobra.Command{
	Use:   "enable <email>",
	Short: "Re-enable a disabled account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(cmd, args[0], true)
	},
}

func init() {
	usersCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file")

	usersCmd.AddCommand(setRoleCmd)
	usersCmd.AddCommand(disableUserCmd)
	usersCmd.AddCommand(enableUserCmd)
}

func setActive(cmd *cobra.Command, email string, active bool) error {
	return withUser(cmd.Context(), email, func(ctx context.Context, users *repository.UserRepository, u *model.User) error {
		if err := users.SetActive(ctx, u.ID, active); err != nil {
			return err
		}
		word := "disabled"
		if active {
			word = "enabled"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", okColor.Sprint("✓"), nameColor.Sprint(u.Email), word)
		return nil
	})
}

// withUser opens the configured database, looks up email and runs fn.
func withUser(ctx context.Context, email string, fn func(context.Context, *repository.UserRepository, *model.User) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.CloseDB()

	return applyToUser(ctx, database, email, fn)
}

func applyToUser(ctx context.Context, database *sql.DB, email string, fn func(context.Context, *repository.UserRepository, *model.User) error) error {
	users := repository.NewUserRepository(database)
	u, err := users.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find %s: %w", email, err)
	}
	return fn(ctx, users, u)
}
