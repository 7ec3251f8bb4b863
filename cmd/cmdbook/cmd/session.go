package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/cmdbook/client"
	"github.com/jmcleod/cmdbook/monitor"
)

var (
	sessionAuthFile   string
	inactivityTimeout time.Duration
	warningDuration   time.Duration
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Log in and keep an interactive admin session with auto-logout",
	Long: `Logs in and reads commands from stdin. After a period without input a
countdown warning appears; press Enter to stay logged in, otherwise the
session is revoked when the countdown reaches zero.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		in := stdin()
		c := newClient()
		if err := sessionLogin(cmd.Context(), cmd.ErrOrStderr(), in, c); err != nil {
			return describe(err)
		}
		s := &interactiveSession{
			client: c,
			in:     in,
			out:    cmd.OutOrStdout(),
			logger: slog.Default(),
		}
		return s.run(cmd.Context(), monitor.WithInactivityTimeout(inactivityTimeout), monitor.WithWarningDuration(warningDuration))
	},
}

func init() {
	sessionCmd.Flags().StringVar(&sessionAuthFile, "file", "", "Log in with this auth file instead of a password")
	sessionCmd.Flags().DurationVar(&inactivityTimeout, "inactivity-timeout", monitor.DefaultInactivityTimeout, "Idle time before the logout warning")
	sessionCmd.Flags().DurationVar(&warningDuration, "warning", monitor.DefaultWarningDuration, "Length of the logout countdown")
}

func sessionLogin(ctx context.Context, w io.Writer, in *bufio.Reader, c *client.Client) error {
	if c.Token() != "" {
		v, err := c.ValidateSession(ctx)
		if err != nil {
			return err
		}
		if v.Valid {
			return nil
		}
	}
	if sessionAuthFile != "" {
		content, err := readKeyFile(sessionAuthFile)
		if err != nil {
			return err
		}
		return c.LoginWithFile(ctx, content)
	}
	pw, err := promptPassword(w, in, "Password")
	if err != nil {
		return err
	}
	return c.Login(ctx, pw)
}

type lineResult struct {
	line string
	err  error
}

type interactiveSession struct {
	client *client.Client
	in     *bufio.Reader
	out    io.Writer
	logger *slog.Logger
	mon    *monitor.Monitor
}

func (s *interactiveSession) run(ctx context.Context, opts ...monitor.Option) error {
	expired := make(chan struct{})
	opts = append([]monitor.Option{
		monitor.WithLogger(s.logger),
		monitor.WithWarningHandler(s.showWarning, s.hideWarning),
	}, opts...)
	s.mon = monitor.New(func() { close(expired) }, opts...)
	s.mon.SetAuthenticated(true)
	defer s.mon.Stop()

	fmt.Fprintln(s.out, "Logged in. Type 'help' for commands.")
	lines := make(chan lineResult, 1)
	for {
		fmt.Fprint(s.out, "cmdbook> ")
		go func() {
			line, err := readLine(s.in)
			lines <- lineResult{line, err}
		}()

		select {
		case <-ctx.Done():
			s.logout(context.Background())
			return nil
		case <-expired:
			fmt.Fprintln(s.out, "Logged out due to inactivity.")
			s.logout(ctx)
			return nil
		case res := <-lines:
			if res.err != nil {
				s.logout(ctx)
				return nil
			}
			if state, _ := s.mon.State(); state == monitor.Counting {
				s.mon.StayLoggedIn()
				continue
			}
			s.mon.Activity()
			if done := s.dispatch(ctx, strings.Fields(res.line)); done {
				return nil
			}
			s.mon.Activity()
		}
	}
}

// dispatch runs one command line and reports whether the session ended.
func (s *interactiveSession) dispatch(ctx context.Context, fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	arg := func() string {
		if len(fields) > 1 {
			return fields[1]
		}
		return ""
	}
	var err error
	switch fields[0] {
	case "help":
		fmt.Fprintln(s.out, "Commands: validate, auth-file [path], reset-key [path], change-password, logout, exit")
	case "validate":
		err = s.validate(ctx)
	case "auth-file":
		err = s.generate(ctx, arg(), "cmdbook-auth", s.client.GenerateAuthFile)
	case "reset-key":
		err = s.generate(ctx, arg(), "cmdbook-reset", s.client.GenerateResetKey)
	case "change-password":
		err = s.changePassword(ctx)
	case "logout", "exit", "quit":
		s.logout(ctx)
		fmt.Fprintln(s.out, "Logged out.")
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command %q. Type 'help'.\n", fields[0])
	}
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", describe(err))
	}
	return false
}

func (s *interactiveSession) validate(ctx context.Context) error {
	v, err := s.client.ValidateSession(ctx)
	if err != nil {
		return err
	}
	if v.Valid {
		fmt.Fprintln(s.out, "Session is valid.")
	} else {
		fmt.Fprintln(s.out, "Session is no longer valid.")
	}
	return nil
}

func (s *interactiveSession) generate(ctx context.Context, path, defaultName string, fn func(context.Context, string) (string, error)) error {
	current, err := promptPassword(s.out, s.in, "Current password")
	if err != nil {
		return err
	}
	key, err := fn(ctx, current)
	if err != nil {
		return err
	}
	if path == "" {
		path = fmt.Sprintf("%s-%s", defaultName, time.Now().Format("20060102-150405"))
	}
	saved, err := writeKeyFile(path, key)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Saved %s.\n", saved)
	return nil
}

func (s *interactiveSession) changePassword(ctx context.Context) error {
	current, err := promptPassword(s.out, s.in, "Current password")
	if err != nil {
		return err
	}
	next, err := promptNewPassword(s.out, s.in)
	if err != nil {
		return err
	}
	if err := s.client.ChangePassword(ctx, current, next); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Password changed. Other sessions were logged out.")
	return nil
}

func (s *interactiveSession) logout(ctx context.Context) {
	if err := s.client.Logout(ctx); err != nil {
		s.logger.Warn("logout failed", "error", err)
	}
}

func (s *interactiveSession) showWarning(remaining int) {
	fmt.Fprintf(s.out, "\r\x1b[31mSession Expiring\x1b[0m: logging out in %2ds due to inactivity. Press Enter to stay logged in. ", remaining)
}

func (s *interactiveSession) hideWarning() {
	fmt.Fprintln(s.out)
}
