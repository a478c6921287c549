package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gatekit/gatekit/internal/auth"
	"github.com/gatekit/gatekit/internal/config"
	"github.com/gatekit/gatekit/internal/model"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, reset, and revoke the API keys used to authenticate requests.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyResetCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		name    string
		keyType string
		start   string
		end     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key. The secret is shown once and cannot be retrieved again.",
		Example: `  gatekit key create --name "CI pipeline"
  gatekit key create --name "partner feed" --type private --start 2026-09-01T00:00:00Z --end 2026-12-31T23:59:59Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(name, keyType, start, end)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable name for the key (required)")
	cmd.Flags().StringVar(&keyType, "type", "default", "Key type: default, system, or private")
	cmd.Flags().StringVar(&start, "start", "", "Activation window start (RFC 3339)")
	cmd.Flags().StringVar(&end, "end", "", "Activation window end (RFC 3339)")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(name, keyType, start, end string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	switch model.APIKeyType(keyType) {
	case model.KeyTypeDefault, model.KeyTypeSystem, model.KeyTypePrivate:
	default:
		return fmt.Errorf("unknown key type %q", keyType)
	}

	var startDate, endDate *time.Time
	if (start == "") != (end == "") {
		return fmt.Errorf("--start and --end must be given together")
	}
	if start != "" {
		s, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return fmt.Errorf("parse --start: %w", err)
		}
		e, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return fmt.Errorf("parse --end: %w", err)
		}
		if e.Before(s) {
			return fmt.Errorf("--end is before --start")
		}
		startDate, endDate = &s, &e
	}

	cfg := config.Load(viper.GetViper())
	key, err := auth.GenerateKey(cfg.Auth.KeyPrefix)
	if err != nil {
		return err
	}
	secret, err := auth.GenerateSecret()
	if err != nil {
		return err
	}

	rec := &model.APIKey{
		Key:       key,
		Hash:      auth.HashCredential(key, secret),
		Name:      name,
		Type:      model.APIKeyType(keyType),
		IsActive:  true,
		StartDate: startDate,
		EndDate:   endDate,
	}
	if err := st.CreateAPIKey(context.Background(), rec); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API key created:")
	fmt.Println()
	fmt.Printf("  Key:        %s\n", key)
	fmt.Printf("  Secret:     %s\n", secret)
	fmt.Printf("  Credential: %s:%s\n", key, secret)
	fmt.Println()
	fmt.Println("  Save the secret now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	keys, err := st.ListAPIKeys(context.Background())
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys configured. Use 'gatekit key create' to create one.")
		return nil
	}

	fmt.Printf("%-38s %-24s %-10s %-8s\n", "KEY", "NAME", "TYPE", "ACTIVE")
	fmt.Printf("%-38s %-24s %-10s %-8s\n", "---", "----", "----", "------")
	for _, k := range keys {
		active := "yes"
		if !k.IsActive {
			active = "no"
		}
		fmt.Printf("%-38s %-24s %-10s %-8s\n", k.Key, k.Name, k.Type, active)
	}

	return nil
}

// ---------- key reset ----------

func newKeyResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset <key>",
		Short: "Rotate the secret of an API key",
		Long:  "Generate a new secret for an existing key. The key identifier stays the same; the old secret stops working immediately.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyReset(args[0])
		},
	}

	return cmd
}

func runKeyReset(key string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	rec, err := st.GetAPIKeyByKey(ctx, key)
	if err != nil {
		return fmt.Errorf("find api key %q: %w", key, err)
	}

	secret, err := auth.GenerateSecret()
	if err != nil {
		return err
	}
	if err := st.ResetAPIKeyHash(ctx, rec.ID, auth.HashCredential(rec.Key, secret)); err != nil {
		return fmt.Errorf("reset api key: %w", err)
	}

	fmt.Printf("Secret rotated for key %s\n", rec.Key)
	fmt.Println()
	fmt.Printf("  New credential: %s:%s\n", rec.Key, secret)
	fmt.Println()
	fmt.Println("  Save the secret now - it cannot be retrieved again.")
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key>",
		Short: "Revoke an API key",
		Long:  "Soft-delete an API key, preventing any further authenticated requests using that key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(args[0])
		},
	}

	return cmd
}

func runKeyRevoke(key string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	rec, err := st.GetAPIKeyByKey(ctx, key)
	if err != nil {
		return fmt.Errorf("find api key %q: %w", key, err)
	}

	if err := st.SoftDeleteAPIKey(ctx, rec.ID); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Revoked API key %s (%s)\n", rec.Key, rec.Name)
	return nil
}
