package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/gatekit/gatekit/internal/model"
	"github.com/gatekit/gatekit/internal/store"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
		Long:  "Create and list the user accounts that log in to the management API.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		email      string
		name       string
		roleName   string
		superadmin bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user account",
		Long: `Create a user account. The password is prompted interactively and
never echoed. With --superadmin the user is assigned a SUPER_ADMIN
role, which is created if it does not exist yet.`,
		Example: `  gatekit user create --email root@example.com --superadmin
  gatekit user create --email ops@example.com --role operators`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(email, name, roleName, superadmin)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Login email (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&roleName, "role", "", "Name of an existing role to assign")
	cmd.Flags().BoolVar(&superadmin, "superadmin", false, "Assign the built-in SUPER_ADMIN role")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserCreate(email, name, roleName string, superadmin bool) error {
	if superadmin && roleName != "" {
		return fmt.Errorf("--superadmin and --role are mutually exclusive")
	}
	if !superadmin && roleName == "" {
		return fmt.Errorf("either --role or --superadmin is required")
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	var role *model.Role
	if superadmin {
		role, err = ensureSuperAdminRole(ctx, st)
	} else {
		role, err = st.GetRoleByName(ctx, roleName)
	}
	if err != nil {
		return fmt.Errorf("resolve role: %w", err)
	}

	password, err := promptPassword()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		RoleID:       role.ID,
		IsActive:     true,
	}
	if err := st.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("User %s created with role %q (%s)\n", user.Email, role.Name, role.Type)
	return nil
}

// ensureSuperAdminRole returns the superadmin role, creating it on first use.
func ensureSuperAdminRole(ctx context.Context, st *store.Store) (*model.Role, error) {
	const name = "superadmin"

	role, err := st.GetRoleByName(ctx, name)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	role = &model.Role{
		Name:        name,
		Type:        model.RoleSuperAdmin,
		Description: "Built-in role with unrestricted access",
		IsActive:    true,
	}
	if err := st.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

func promptPassword() (string, error) {
	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if string(password) != string(confirm) {
		return "", fmt.Errorf("passwords do not match")
	}

	return string(password), nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	users, err := st.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	if len(users) == 0 {
		fmt.Println("No users configured. Use 'gatekit user create' to create one.")
		return nil
	}

	fmt.Printf("%-38s %-28s %-20s %-8s\n", "ID", "EMAIL", "NAME", "ACTIVE")
	fmt.Printf("%-38s %-28s %-20s %-8s\n", "--", "-----", "----", "------")
	for _, u := range users {
		active := "yes"
		if !u.IsActive {
			active = "no"
		}
		fmt.Printf("%-38s %-28s %-20s %-8s\n", u.ID, u.Email, u.Name, active)
	}

	return nil
}
