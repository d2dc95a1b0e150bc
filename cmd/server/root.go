package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/escra-platform/portal/internal/session"
	"github.com/spf13/cobra"
)

var (
	serverURL      string
	credentialsDir string
)

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "Escra portal gateway",
	Long: `portal runs the Escra portal gateway and talks to a running one.

Use "portal serve" to start the gateway, "portal login" to sign in from
the terminal and "portal watch" to follow status changes of an entity.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		serverURL = strings.TrimRight(serverURL, "/")
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL(), "Gateway base URL")
	rootCmd.PersistentFlags().StringVar(&credentialsDir, "credentials-dir", "", "Directory holding the CLI credential (default ~/.portal)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(watchCmd)
}

func defaultServerURL() string {
	if v := os.Getenv("PORTAL_SERVER"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

// fileCredentials opens the credential file selected by --credentials-dir.
func fileCredentials() (*session.FileCredentials, error) {
	creds, err := session.NewFileCredentials(credentialsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials: %w", err)
	}
	return creds, nil
}
