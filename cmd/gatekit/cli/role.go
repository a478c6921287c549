package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gatekit/gatekit/internal/model"
)

func newRoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage roles",
		Long:  "Create and list the roles that group permission grants for users.",
	}

	cmd.AddCommand(newRoleCreateCmd())
	cmd.AddCommand(newRoleListCmd())

	return cmd
}

// ---------- role create ----------

func newRoleCreateCmd() *cobra.Command {
	var (
		roleType    string
		description string
		grants      []string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new role",
		Long: `Create a role with permission grants. Each --grant is SUBJECT=CODES
where CODES is a comma-separated list of numeric action codes
(1=MANAGE 2=READ 3=CREATE 4=UPDATE 5=DELETE 6=EXPORT 7=IMPORT).`,
		Example: `  gatekit role create operators --type ADMIN --grant API_KEY=2,3,4 --grant USER=2
  gatekit role create root --type SUPER_ADMIN`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoleCreate(args[0], roleType, description, grants)
		},
	}

	cmd.Flags().StringVar(&roleType, "type", "USER", "Role type: SUPER_ADMIN, ADMIN, or USER")
	cmd.Flags().StringVar(&description, "description", "", "Role description")
	cmd.Flags().StringArrayVar(&grants, "grant", nil, "Permission grant SUBJECT=CODES (repeatable)")

	return cmd
}

func runRoleCreate(name, roleType, description string, grants []string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	switch model.RoleType(roleType) {
	case model.RoleSuperAdmin, model.RoleAdmin, model.RoleUser:
	default:
		return fmt.Errorf("unknown role type %q", roleType)
	}

	perms := make([]model.Permission, 0, len(grants))
	for _, g := range grants {
		subject, codes, ok := strings.Cut(g, "=")
		if !ok || subject == "" || codes == "" {
			return fmt.Errorf("invalid grant %q, want SUBJECT=CODES", g)
		}
		perms = append(perms, model.Permission{Subject: subject, Action: codes})
	}

	role := &model.Role{
		Name:        name,
		Type:        model.RoleType(roleType),
		Description: description,
		IsActive:    true,
		Permissions: perms,
	}
	if err := st.CreateRole(context.Background(), role); err != nil {
		return fmt.Errorf("create role: %w", err)
	}

	fmt.Printf("Role %q created (id=%d, type=%s, %d grants)\n", role.Name, role.ID, role.Type, len(role.Permissions))
	return nil
}

// ---------- role list ----------

func newRoleListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoleList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runRoleList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	roles, err := st.ListRoles(context.Background())
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(roles)
	}

	if len(roles) == 0 {
		fmt.Println("No roles configured. Use 'gatekit role create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-20s %-14s %-8s %-8s\n", "ID", "NAME", "TYPE", "ACTIVE", "GRANTS")
	fmt.Printf("%-6s %-20s %-14s %-8s %-8s\n", "--", "----", "----", "------", "------")
	for _, r := range roles {
		active := "yes"
		if !r.IsActive {
			active = "no"
		}
		fmt.Printf("%-6d %-20s %-14s %-8s %-8d\n", r.ID, r.Name, r.Type, active, len(r.Permissions))
	}

	return nil
}
