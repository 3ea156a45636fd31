package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forest6511/nimbusvault/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the read-only MCP server.
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the MCP server for AI assistant integration",
	Long: `Start a Model Context Protocol server over stdio. Tools expose item
titles, folders, trash, counts and saved locations; item payloads are
never returned.

Authentication:
  Set NIMBUS_CREDENTIAL before starting the server. The value is read
  once and immediately cleared from the environment.

Policy:
  Create mcp-policy.yaml (mode 0600) in the data directory to restrict
  tools. vault_password_health must be listed explicitly in
  allowed_tools to be enabled.

Example MCP configuration:
  {
    "mcpServers": {
      "nimbusvault": {
        "type": "stdio",
        "command": "/path/to/nimbusctl",
        "args": ["mcp-server"],
        "env": {"NIMBUS_CREDENTIAL": "your-master-password"}
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPServer(cmd)
	},
}

func runMCPServer(cmd *cobra.Command) error {
	credential, ok := os.LookupEnv(CredentialEnv)
	if !ok || credential == "" {
		return errors.New(CredentialEnv + " must be set to start the MCP server")
	}
	_ = os.Unsetenv(CredentialEnv)
	secret := []byte(credential)
	defer wipe(secret)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v, err := openVault(ctx)
	if err != nil {
		return err
	}
	defer v.Close()
	if _, err := v.Unlock(ctx, secret); err != nil {
		return unlockError(err)
	}

	store, err := openWeather(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	server, err := mcp.NewServer(v, mcp.WithLocations(store), mcp.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	logger.Info("mcp server starting", "tools", server.Tools())
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
