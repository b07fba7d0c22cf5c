package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xaman1990/SisCoreApi/cmd/cmdutil"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
)

var (
	tenantName      string
	tenantSubdomain string
	tenantDriver    string
	tenantHost      string
	tenantPort      int
	tenantDBName    string
	tenantDBUser    string
	tenantDBPass    string
	tenantOptions   string
	tenantListAll   bool
)

var tenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "Manage companies in the master registry",
}

var tenantsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a company and where its tenant store lives",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := cmdutil.NewBundle(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer b.Close()

		company := &models.Company{
			Name:              tenantName,
			Subdomain:         tenantSubdomain,
			DbDriver:          tenantDriver,
			DbHost:            tenantHost,
			DbName:            tenantDBName,
			DbUser:            tenantDBUser,
			DbPassword:        tenantDBPass,
			ConnectionOptions: tenantOptions,
		}
		if tenantPort > 0 {
			port := tenantPort
			company.DbPort = &port
		}
		if err := b.Registry.Create(ctx, company); err != nil {
			return fmt.Errorf("failed to register company: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Company %q registered with id %d\n", company.Subdomain, company.ID)
		fmt.Fprintf(cmd.OutOrStdout(), "Run 'siscore db tenant migrate --tenant %s' to create its schema\n", company.Subdomain)
		return nil
	},
}

var tenantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered companies",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		b, err := cmdutil.NewBundle(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer b.Close()

		companies, err := b.Registry.List(ctx, tenantListAll)
		if err != nil {
			return fmt.Errorf("failed to list companies: %w", err)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSUBDOMAIN\tNAME\tDRIVER\tSTATUS")
		for _, c := range companies {
			status := "active"
			if !c.IsActive() {
				status = "inactive"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", c.ID, c.Subdomain, c.Name, c.DbDriver, status)
		}
		return w.Flush()
	},
}

var tenantsSetConnectionCmd = &cobra.Command{
	Use:   "set-connection <company-id>",
	Short: "Rotate the connection descriptor of a company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid company id %q", args[0])
		}
		ctx := cmd.Context()
		b, err := cmdutil.NewBundle(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer b.Close()

		flags := cmd.Flags()
		var in tenancy.ConnectionUpdate
		if flags.Changed("driver") {
			in.Driver = &tenantDriver
		}
		if flags.Changed("host") {
			in.Host = &tenantHost
		}
		if flags.Changed("port") {
			in.Port = &tenantPort
		}
		if flags.Changed("db-name") {
			in.Name = &tenantDBName
		}
		if flags.Changed("db-user") {
			in.User = &tenantDBUser
		}
		if flags.Changed("db-password") {
			in.Password = &tenantDBPass
		}
		if flags.Changed("options") {
			in.Options = &tenantOptions
		}
		company, err := b.Registry.UpdateConnection(ctx, id, in)
		if err != nil {
			return fmt.Errorf("failed to update connection: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Connection of %q updated\n", company.Subdomain)
		return nil
	},
}

var tenantsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <company-id>",
	Short: "Stop a company from resolving",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid company id %q", args[0])
		}
		ctx := cmd.Context()
		b, err := cmdutil.NewBundle(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer b.Close()

		if err := b.Registry.Deactivate(ctx, id); err != nil {
			return fmt.Errorf("failed to deactivate company: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Company %d deactivated\n", id)
		return nil
	},
}

func addConnectionFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&tenantDriver, "driver", models.DriverPostgres, "Tenant store driver (postgres or sqlite)")
	cmd.Flags().StringVar(&tenantHost, "host", "", "Tenant database host")
	cmd.Flags().IntVar(&tenantPort, "port", 0, "Tenant database port (0 for the driver default)")
	cmd.Flags().StringVar(&tenantDBName, "db-name", "", "Tenant database name, or file path for sqlite")
	cmd.Flags().StringVar(&tenantDBUser, "db-user", "", "Tenant database user")
	cmd.Flags().StringVar(&tenantDBPass, "db-password", "", "Tenant database password")
	cmd.Flags().StringVar(&tenantOptions, "options", "", "Connection options appended to the DSN")
}

func init() {
	tenantsAddCmd.Flags().StringVar(&tenantName, "name", "", "Company display name")
	tenantsAddCmd.Flags().StringVar(&tenantSubdomain, "subdomain", "", "Subdomain the company resolves from")
	_ = tenantsAddCmd.MarkFlagRequired("name")
	_ = tenantsAddCmd.MarkFlagRequired("subdomain")
	addConnectionFlags(tenantsAddCmd)
	addConnectionFlags(tenantsSetConnectionCmd)

	tenantsListCmd.Flags().BoolVar(&tenantListAll, "all", false, "Include inactive companies")

	tenantsCmd.AddCommand(tenantsAddCmd, tenantsListCmd, tenantsSetConnectionCmd, tenantsDeactivateCmd)
	rootCmd.AddCommand(tenantsCmd)
}
