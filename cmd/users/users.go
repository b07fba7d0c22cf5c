package users

import "github.com/spf13/cobra"

// UsersCmd is the parent command for tenant user management
var UsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage tenant users",
	Long:  `Commands for provisioning tenant users directly against a tenant store.`,
}

func init() {
	createCmd.Flags().StringVar(&tenantFlag, "tenant", "", "Subdomain of the tenant")
	createCmd.Flags().StringVar(&emailFlag, "email", "", "Email address of the user")
	createCmd.Flags().StringVar(&phoneFlag, "phone", "", "Phone number of the user")
	createCmd.Flags().StringVar(&nameFlag, "name", "", "Full name of the user")
	createCmd.Flags().StringVar(&passwordFlag, "password", "", "Password for the user (use --stdin to avoid shell history)")
	createCmd.Flags().StringSliceVar(&rolesInput, "role", []string{}, "Role(s) to assign to the user")
	createCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")
	_ = createCmd.MarkFlagRequired("tenant")

	UsersCmd.AddCommand(createCmd)
}
