package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xaman1990/SisCoreApi/cmd/cmdutil"
	"github.com/xaman1990/SisCoreApi/internal/services/master"
)

var (
	masterTenant string
	masterUserID int64
	masterGod    bool
)

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Manage cross-tenant master users",
}

var masterRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Promote a tenant user to master user",
	Long: `Registers a tenant user as a master user. The CLI acts without a master
identity, so it is the way to bootstrap the first God.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := cmdutil.NewBundle(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer b.Close()

		view, err := b.Authority.RegisterMasterUser(ctx, master.RegisterInput{
			TenantUserID:    masterUserID,
			TenantSubdomain: masterTenant,
			IsGod:           masterGod,
		}, nil)
		if err != nil {
			return fmt.Errorf("failed to register master user: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Master user registered")
		fmt.Fprintln(out, "----------------------------------------")
		fmt.Fprintf(out, "Master user ID: %d\n", view.ID)
		fmt.Fprintf(out, "Email: %s\n", view.Email)
		fmt.Fprintf(out, "Home tenant: %s\n", view.TenantSubdomain)
		fmt.Fprintf(out, "God: %t\n", view.IsGod)
		fmt.Fprintln(out, "----------------------------------------")
		return nil
	},
}

var masterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active master users",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := cmdutil.NewBundle(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer b.Close()

		var filter *bool
		if cmd.Flags().Changed("god") {
			filter = &masterGod
		}
		views, err := b.Authority.List(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list master users: %w", err)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEMAIL\tTENANT\tGOD\tCOMPANIES")
		for _, v := range views {
			companies := make([]string, 0, len(v.Companies))
			for _, c := range v.Companies {
				companies = append(companies, c.Subdomain+":"+c.Role)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n", v.ID, v.Email, v.TenantSubdomain, v.IsGod, strings.Join(companies, ","))
		}
		return w.Flush()
	},
}

func init() {
	masterRegisterCmd.Flags().StringVar(&masterTenant, "tenant", "", "Subdomain of the user's home tenant")
	masterRegisterCmd.Flags().Int64Var(&masterUserID, "user-id", 0, "Tenant user id to promote")
	masterRegisterCmd.Flags().BoolVar(&masterGod, "god", false, "Register as God")
	_ = masterRegisterCmd.MarkFlagRequired("tenant")
	_ = masterRegisterCmd.MarkFlagRequired("user-id")

	masterListCmd.Flags().BoolVar(&masterGod, "god", false, "Only Gods (--god) or only non-Gods (--god=false)")

	masterCmd.AddCommand(masterRegisterCmd, masterListCmd)
	rootCmd.AddCommand(masterCmd)
}
