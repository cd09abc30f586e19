package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/jigged/internal/accounts"
	"github.com/zulandar/jigged/internal/db"
	"github.com/zulandar/jigged/internal/models"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBSeedCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update all tables",
		Long:  "Connects to the configured database and migrates every Jigged table.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()
			if err := db.AutoMigrate(a.db); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables on %s\n", len(db.AllModels()), a.cfg.Database.Driver)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Jigged config file")
	return cmd
}

func newDBSeedCmd() *cobra.Command {
	var (
		configPath string
		company    string
		email      string
		name       string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a company and its first admin",
		Long: `Creates the company (if missing) and an admin member for it.

The admin password is read from the terminal without echo, or from one line
of standard input when it is not a terminal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBSeed(cmd, configPath, company, email, name)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Jigged config file")
	cmd.Flags().StringVar(&company, "company", "", "company name (required)")
	cmd.Flags().StringVar(&email, "email", "", "admin email (required)")
	cmd.Flags().StringVar(&name, "name", "", "admin display name")
	cmd.MarkFlagRequired("company")
	cmd.MarkFlagRequired("email")
	return cmd
}

func runDBSeed(cmd *cobra.Command, configPath, company, email, name string) error {
	out := cmd.OutOrStdout()
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	if err := db.AutoMigrate(a.db); err != nil {
		return err
	}
	co, err := db.SeedCompany(a.db, company)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Company %q ready (%s)\n", co.Name, co.ID)

	svc := &accounts.Service{DB: a.db}
	member, temp, err := svc.CreateMember(cmd.Context(), co.ID, accounts.CreateMemberInput{Email: email, Name: name, Role: models.RoleAdmin})
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	if temp == "" {
		fmt.Fprintf(out, "Existing user %s added as admin\n", member.Email)
		return nil
	}

	password, err := readNewSecret(cmd, "Admin password")
	if err != nil {
		return err
	}
	if err := svc.ChangePassword(cmd.Context(), member.UserID, temp, password); err != nil {
		return fmt.Errorf("set admin password: %w", err)
	}
	fmt.Fprintf(out, "Admin %s created\n", member.Email)
	return nil
}
