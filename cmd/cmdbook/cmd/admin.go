package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/cmdbook/auth"
	"github.com/jmcleod/cmdbook/client"
)

var (
	serverURL    string
	sessionToken string
	outputPath   string
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage the admin account on a running server",
	Long: `Commands that call a running cmdbook server. Login commands print a session
token; pass it to the other commands with --token or CMDBOOK_SESSION_TOKEN.`,
}

func newClient() *client.Client {
	return client.New(serverURL, client.WithToken(sessionToken))
}

func stdin() *bufio.Reader {
	return bufio.NewReader(os.Stdin)
}

var adminStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether first-time setup is pending",
	RunE: func(cmd *cobra.Command, args []string) error {
		first, err := newClient().Status(cmd.Context())
		if err != nil {
			return describe(err)
		}
		if first {
			cmd.Println("No admin password set. Run 'cmdbook admin setup'.")
		} else {
			cmd.Println("Admin account is set up.")
		}
		return nil
	},
}

var adminSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Set the admin password for the first time",
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := promptNewPassword(cmd.ErrOrStderr(), stdin())
		if err != nil {
			return err
		}
		c := newClient()
		if err := c.Setup(cmd.Context(), pw); err != nil {
			return describe(err)
		}
		printSession(cmd, c)
		return nil
	},
}

var adminLoginCmd = &cobra.Command{
	Use:   "login [auth-file]",
	Short: "Log in with the admin password or an auth file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		if len(args) == 1 {
			content, err := readKeyFile(args[0])
			if err != nil {
				return err
			}
			if err := c.LoginWithFile(cmd.Context(), content); err != nil {
				return describe(err)
			}
		} else {
			pw, err := promptPassword(cmd.ErrOrStderr(), stdin(), "Password")
			if err != nil {
				return err
			}
			if err := c.Login(cmd.Context(), pw); err != nil {
				return describe(err)
			}
		}
		printSession(cmd, c)
		return nil
	},
}

var adminChangePasswordCmd = &cobra.Command{
	Use:   "change-password",
	Short: "Change the admin password; every other session is logged out",
	RunE: func(cmd *cobra.Command, args []string) error {
		in := stdin()
		current, err := promptPassword(cmd.ErrOrStderr(), in, "Current password")
		if err != nil {
			return err
		}
		next, err := promptNewPassword(cmd.ErrOrStderr(), in)
		if err != nil {
			return err
		}
		c := newClient()
		if err := c.ChangePassword(cmd.Context(), current, next); err != nil {
			return describe(err)
		}
		printSession(cmd, c)
		return nil
	},
}

func newGenerateCmd(use, short, defaultName string, generate func(*client.Client, *cobra.Command, string) (string, error)) *cobra.Command {
	c := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := promptPassword(cmd.ErrOrStderr(), stdin(), "Current password")
			if err != nil {
				return err
			}
			key, err := generate(newClient(), cmd, current)
			if err != nil {
				return describe(err)
			}
			path := outputPath
			if path == "" {
				path = fmt.Sprintf("%s-%s", defaultName, time.Now().Format("20060102-150405"))
			}
			saved, err := writeKeyFile(path, key)
			if err != nil {
				return err
			}
			cmd.Printf("Saved %s. It stops working when the password changes.\n", saved)
			return nil
		},
	}
	c.Flags().StringVarP(&outputPath, "output", "o", "", "File to write (a .key extension is added)")
	return c
}

var adminAuthFileCmd = newGenerateCmd("generate-auth-file", "Save an auth file that logs in without the password", "cmdbook-auth",
	func(c *client.Client, cmd *cobra.Command, current string) (string, error) {
		return c.GenerateAuthFile(cmd.Context(), current)
	})

var adminResetKeyCmd = newGenerateCmd("generate-reset-key", "Save a reset key for recovering a forgotten password", "cmdbook-reset",
	func(c *client.Client, cmd *cobra.Command, current string) (string, error) {
		return c.GenerateResetKey(cmd.Context(), current)
	})

var adminResetCmd = &cobra.Command{
	Use:   "reset-password <reset-key>",
	Short: "Set a new password using a reset key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readKeyFile(args[0])
		if err != nil {
			return err
		}
		next, err := promptNewPassword(cmd.ErrOrStderr(), stdin())
		if err != nil {
			return err
		}
		c := newClient()
		if err := c.ResetPasswordWithKey(cmd.Context(), content, next); err != nil {
			return describe(err)
		}
		printSession(cmd, c)
		return nil
	},
}

var adminValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check whether the session token is still valid",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := newClient().ValidateSession(cmd.Context())
		if err != nil {
			return describe(err)
		}
		switch {
		case v.IsFirstTimeSetup:
			cmd.Println("No admin password set.")
		case v.Valid:
			cmd.Println("Session is valid.")
		default:
			return errors.New("session is not valid")
		}
		return nil
	},
}

var adminLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Logout(cmd.Context()); err != nil {
			return describe(err)
		}
		cmd.Println("Logged out.")
		return nil
	},
}

// printSession writes the token alone to stdout so it can be captured, and
// the expiry to stderr.
func printSession(cmd *cobra.Command, c *client.Client) {
	fmt.Fprintln(cmd.OutOrStdout(), c.Token())
	if exp := c.ExpiresAt(); !exp.IsZero() {
		fmt.Fprintf(cmd.ErrOrStderr(), "Session expires %s\n", exp.Local().Format(time.RFC1123))
	}
}

// describe turns client errors into short messages for the terminal.
func describe(err error) error {
	switch {
	case errors.Is(err, client.ErrTransport):
		return fmt.Errorf("cannot reach server at %s: %w", serverURL, err)
	case errors.Is(err, client.ErrNoSession):
		return errors.New("not logged in: pass --token or set CMDBOOK_SESSION_TOKEN")
	case errors.Is(err, auth.ErrSessionInvalid):
		return errors.New("session expired or revoked: log in again")
	case errors.Is(err, auth.ErrTooShort):
		return fmt.Errorf("password must be at least %d characters", auth.MinPasswordLength)
	case errors.Is(err, auth.ErrArtifactStale):
		return errors.New("this file was issued for an older password")
	}
	return err
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("CMDBOOK_SERVER", "http://localhost:8080"), "Server base URL")
	adminCmd.PersistentFlags().StringVar(&sessionToken, "token", os.Getenv("CMDBOOK_SESSION_TOKEN"), "Session token")
	adminCmd.AddCommand(
		adminStatusCmd,
		adminSetupCmd,
		adminLoginCmd,
		adminChangePasswordCmd,
		adminAuthFileCmd,
		adminResetKeyCmd,
		adminResetCmd,
		adminValidateCmd,
		adminLogoutCmd,
		sessionCmd,
	)
}
