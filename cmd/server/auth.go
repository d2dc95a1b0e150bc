package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/escra-platform/portal/internal/model"
	"github.com/escra-platform/portal/internal/session"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	errColor  = color.New(color.FgRed, color.Bold)
	nameColor = color.New(color.FgCyan)
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the gateway",
	Long: `Sign in to the gateway and store the token in the credentials file.

The password is read from --password, or from standard input when the
flag is not given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		in := bufio.NewReader(cmd.InOrStdin())
		email := loginEmail
		if email == "" {
			v, err := prompt(in, out, "Email: ")
			if err != nil {
				return err
			}
			email = v
		}
		password := loginPassword
		if password == "" {
			v, err := prompt(in, out, "Password: ")
			if err != nil {
				return err
			}
			password = v
		}

		store, err := newCLIStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sess, err := store.Login(cmd.Context(), email, password)
		if err != nil {
			var authErr *model.AuthError
			if errors.As(err, &authErr) && authErr.Kind == model.AuthNetworkFailure {
				return fmt.Errorf("could not reach %s: %w", serverURL, err)
			}
			return fmt.Errorf("login failed: %w", err)
		}

		fmt.Fprintf(out, "%s Signed in as %s (%s)\n", okColor.Sprint("✓"), nameColor.Sprint(sess.DisplayName), sess.Role)
		if sess.ExpiresAt != nil {
			fmt.Fprintln(out, color.HiBlackString("  session expires %s", sess.ExpiresAt.Local().Format(time.RFC1123)))
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and remove the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := newCLIStore()
		if err != nil {
			return err
		}
		defer store.Close()

		store.Logout(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "%s Signed out\n", okColor.Sprint("✓"))
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := newCLIStore()
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		if err := store.Init(cmd.Context()); err != nil {
			if errors.Is(err, model.ErrNetworkFailure) {
				return fmt.Errorf("could not reach %s: %w", serverURL, err)
			}
			fmt.Fprintf(out, "%s Stored token was rejected, run \"portal login\"\n", errColor.Sprint("✗"))
			return nil
		}

		sess := store.Session()
		if sess == nil {
			fmt.Fprintln(out, "Not signed in")
			return nil
		}
		fmt.Fprintf(out, "%s %s <%s>\n", nameColor.Sprint(sess.DisplayName), sess.Email, sess.Role)
		if sess.ExpiresAt != nil {
			fmt.Fprintln(out, color.HiBlackString("  expires %s", sess.ExpiresAt.Local().Format(time.RFC1123)))
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "Account email")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Account password")
}

// newCLIStore builds a session store that verifies against --server and
// persists the token in the credentials file.
func newCLIStore() (*session.Store, error) {
	creds, err := fileCredentials()
	if err != nil {
		return nil, err
	}
	auth := session.NewHTTPAuthenticator(serverURL, &http.Client{Timeout: 15 * time.Second})
	return session.NewStore(auth, creds, nil, session.Options{}), nil
}

func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
