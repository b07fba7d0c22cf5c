package users

import (
	"bufio"
	"context"
	"fmt"
	"net/mail"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xaman1990/SisCoreApi/cmd/cmdutil"
	"github.com/xaman1990/SisCoreApi/internal/auth"
	"github.com/xaman1990/SisCoreApi/internal/config"
	"github.com/xaman1990/SisCoreApi/internal/db/models"
	"github.com/xaman1990/SisCoreApi/internal/services/users"
	"github.com/xaman1990/SisCoreApi/internal/tenancy"
)

var (
	tenantFlag   string
	emailFlag    string
	phoneFlag    string
	nameFlag     string
	passwordFlag string
	rolesInput   []string
	stdinFlag    bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a tenant user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if emailFlag == "" && phoneFlag == "" {
			return fmt.Errorf("--email or --phone is required")
		}
		if nameFlag == "" {
			return fmt.Errorf("--name flag is required")
		}

		password := passwordFlag
		if stdinFlag {
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("Enter password: ")
			if scanner.Scan() {
				password = scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
		}
		if password == "" {
			return fmt.Errorf("password is required (use --password or --stdin)")
		}

		if emailFlag != "" {
			if _, err := mail.ParseAddress(emailFlag); err != nil {
				return fmt.Errorf("invalid email format: %w", err)
			}
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		log := cmdutil.NewLogger(cfg)
		defer func() { _ = log.Sync() }()

		ctx := cmd.Context()
		b, err := cmdutil.NewBundle(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer b.Close()

		tc, err := b.Tenant(ctx, tenantFlag)
		if err != nil {
			return err
		}

		roles, err := resolveRoles(ctx, b.Stores, tc, rolesInput)
		if err != nil {
			return err
		}
		roleIDs := make([]int64, len(roles))
		for i, r := range roles {
			roleIDs[i] = r.ID
		}

		svc := users.NewService(b.Stores, auth.NewPasswordService(auth.DefaultBcryptCost), log)
		user, err := svc.Register(ctx, tc, users.RegisterUserInput{
			Email:       emailFlag,
			PhoneNumber: phoneFlag,
			Password:    password,
			FullName:    nameFlag,
			RoleIDs:     roleIDs,
		}, nil)
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}

		fmt.Println("User created successfully!")
		fmt.Println("----------------------------------------")
		fmt.Printf("Tenant: %s\n", tc.Subdomain)
		fmt.Printf("User ID: %d\n", user.ID)
		if user.Email != "" {
			fmt.Printf("Email: %s\n", user.Email)
		}
		if user.PhoneNumber != "" {
			fmt.Printf("Phone: %s\n", user.PhoneNumber)
		}
		fmt.Printf("Name: %s\n", user.FullName)
		if len(user.Roles) > 0 {
			names := make([]string, len(user.Roles))
			for i, r := range user.Roles {
				names[i] = r.Name
			}
			fmt.Printf("Roles: %s\n", strings.Join(names, ", "))
		}
		fmt.Println("----------------------------------------")
		return nil
	},
}

// resolveRoles maps role names to the tenant's active roles,
// case-insensitively. Unknown names are reported with the valid ones.
func resolveRoles(ctx context.Context, stores tenancy.StoreOpener, tc tenancy.TenantContext, names []string) ([]models.Role, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var active []models.Role
	err := tenancy.WithStore(ctx, stores, tc, func(store *tenancy.Store) error {
		var err error
		active, err = store.Repos().Roles.ListActive(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roles: %w", err)
	}

	byName := make(map[string]models.Role, len(active))
	valid := make([]string, 0, len(active))
	for _, r := range active {
		byName[strings.ToLower(r.Name)] = r
		valid = append(valid, r.Name)
	}
	var (
		out     []models.Role
		invalid []string
	)
	for _, n := range names {
		r, ok := byName[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			invalid = append(invalid, n)
			continue
		}
		out = append(out, r)
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid role(s): %s\nValid roles are: %s",
			strings.Join(invalid, ", "), strings.Join(valid, ", "))
	}
	return out, nil
}
