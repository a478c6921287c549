package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gatekit/gatekit/internal/config"
	"github.com/gatekit/gatekit/internal/server"
	"github.com/gatekit/gatekit/internal/store"
)

const banner = `
             _       _    _ _
  __ _  __ _| |_ ___| | _(_) |_
 / _` + "`" + ` |/ _` + "`" + ` | __/ _ \ |/ / | __|
| (_| | (_| | ||  __/   <| | |_
 \__, |\__,_|\__\___|_|\_\_|\__|
 |___/
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Gatekit API server",
		Long:  "Start the HTTP server that authenticates requests and serves the system management API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// Configuration is materialized exactly once; components receive the
	// struct and never consult viper themselves.
	cfg := config.Load(viper.GetViper())
	cfg.DataDir = resolveDataDir()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()
	logger.Info("store initialized", "path", cfg.DataDir)

	hasUser, err := st.HasAnyUser(context.Background())
	if err != nil {
		logger.Warn("failed to check for users", "error", err)
	}
	if !hasUser {
		logger.Warn("no user account found - run: gatekit user create --superadmin")
	}
	if !cfg.Auth.SecureMode() {
		logger.Warn("auth mode is relaxed: the api-key requirement is disabled")
	}

	srv := server.New(cfg, st, logger)

	fmt.Printf("→ Gatekit\n")
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:  http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Auth mode: %s, credential mode: %s\n", cfg.Auth.Mode, cfg.Auth.CredentialMode)
	fmt.Println()

	return srv.ListenAndServe()
}
