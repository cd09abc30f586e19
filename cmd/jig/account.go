package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/jigged/internal/accounts"
	"github.com/zulandar/jigged/internal/models"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage team members and operators",
	}

	member := &cobra.Command{Use: "member", Short: "Manage team members"}
	member.AddCommand(newMemberListCmd())
	member.AddCommand(newMemberCreateCmd())
	member.AddCommand(newMemberResetPasswordCmd())

	operator := &cobra.Command{Use: "operator", Short: "Manage shop-floor operators"}
	operator.AddCommand(newOperatorListCmd())
	operator.AddCommand(newOperatorCreateCmd())

	cmd.AddCommand(member, operator)
	return cmd
}

// withCompany runs fn with a connected app and the resolved company id.
func withCompany(configPath, company string, fn func(a *app, companyID string) error) error {
	a, err := loadApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()
	companyID, err := a.companyID(company)
	if err != nil {
		return err
	}
	return fn(a, companyID)
}

func newMemberListCmd() *cobra.Command {
	var configPath, company, role string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a company's members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCompany(configPath, company, func(a *app, companyID string) error {
				svc := &accounts.Service{DB: a.db}
				members, err := svc.ListMembers(cmd.Context(), companyID, role)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tEMAIL\tNAME\tROLE\tACTIVE")
				for _, m := range members {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", m.ID, m.Email, m.Name, m.Role, m.Active)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Jigged config file")
	cmd.Flags().StringVar(&company, "company", "", "company id or name (required)")
	cmd.Flags().StringVar(&role, "role", "", "only members with this role")
	cmd.MarkFlagRequired("company")
	return cmd
}

func newMemberCreateCmd() *cobra.Command {
	var configPath, company, email, name, role string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a member and print their temporary password",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCompany(configPath, company, func(a *app, companyID string) error {
				svc := &accounts.Service{DB: a.db}
				m, temp, err := svc.CreateMember(cmd.Context(), companyID, accounts.CreateMemberInput{Email: email, Name: name, Role: role})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Member %s added as %s (%s)\n", m.Email, m.Role, m.ID)
				if temp != "" {
					fmt.Fprintf(out, "Temporary password: %s\n", temp)
					fmt.Fprintln(out, mutedStyle.Render("It must be changed at first login."))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Jigged config file")
	cmd.Flags().StringVar(&company, "company", "", "company id or name (required)")
	cmd.Flags().StringVar(&email, "email", "", "member email (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", models.RoleMember, "admin, manager, member or viewer")
	cmd.MarkFlagRequired("company")
	cmd.MarkFlagRequired("email")
	return cmd
}

func newMemberResetPasswordCmd() *cobra.Command {
	var configPath, company string

	cmd := &cobra.Command{
		Use:   "reset-password <member id or email>",
		Short: "Issue a new temporary password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCompany(configPath, company, func(a *app, companyID string) error {
				svc := &accounts.Service{DB: a.db}
				members, err := svc.ListMembers(cmd.Context(), companyID, "")
				if err != nil {
					return err
				}
				id := ""
				for _, m := range members {
					if m.ID == args[0] || strings.EqualFold(m.Email, args[0]) {
						id = m.ID
						break
					}
				}
				if id == "" {
					return fmt.Errorf("member %q not found", args[0])
				}
				temp, err := svc.ResetPassword(cmd.Context(), companyID, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Temporary password: %s\n", temp)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Jigged config file")
	cmd.Flags().StringVar(&company, "company", "", "company id or name (required)")
	cmd.MarkFlagRequired("company")
	return cmd
}

func newOperatorListCmd() *cobra.Command {
	var configPath, company string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a company's operators",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCompany(configPath, company, func(a *app, companyID string) error {
				svc := &accounts.Service{DB: a.db}
				ops, err := svc.ListOperators(cmd.Context(), companyID)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tQR\tACTIVE")
				for _, op := range ops {
					qr := ""
					if op.QRCodeID != nil {
						qr = *op.QRCodeID
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", op.ID, op.Name, qr, op.IsActive)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Jigged config file")
	cmd.Flags().StringVar(&company, "company", "", "company id or name (required)")
	cmd.MarkFlagRequired("company")
	return cmd
}

func newOperatorCreateCmd() *cobra.Command {
	var configPath, company, name, qr, operation string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add an operator",
		Long: `Adds an active operator. The 4 to 6 digit PIN is read from the terminal
without echo, or from one line of standard input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCompany(configPath, company, func(a *app, companyID string) error {
				pin, err := readNewSecret(cmd, "PIN")
				if err != nil {
					return err
				}
				in := accounts.OperatorInput{Name: &name, Pin: &pin}
				if qr != "" {
					in.QRCodeID = &qr
				}
				if operation != "" {
					in.OperationTypeID = &operation
				}
				svc := &accounts.Service{DB: a.db}
				op, err := svc.CreateOperator(cmd.Context(), companyID, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Operator %s created (%s)\n", op.Name, op.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Jigged config file")
	cmd.Flags().StringVar(&company, "company", "", "company id or name (required)")
	cmd.Flags().StringVar(&name, "name", "", "operator name (required)")
	cmd.Flags().StringVar(&qr, "qr", "", "badge QR code id")
	cmd.Flags().StringVar(&operation, "operation", "", "operation type id the operator is assigned to")
	cmd.MarkFlagRequired("company")
	cmd.MarkFlagRequired("name")
	return cmd
}
