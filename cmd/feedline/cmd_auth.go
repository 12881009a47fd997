package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"feedline/internal/api"
	"feedline/internal/types"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (c *cli) loginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and keep the session for later runs",
		Long: `Exchanges a username and password for an access token and stores it in
the configured session backend. Credentials are taken from the flags, from
FEEDLINE_USERNAME / FEEDLINE_PASSWORD, or read from standard input.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			username, password, err = c.credentials(cmd, username, password)
			if err != nil {
				return err
			}

			me, err := a.session.Login(cmd.Context(), a.client, a.client, username, password)
			if errors.Is(err, api.ErrUnauthorized) {
				return fmt.Errorf("login failed: invalid username or password")
			}
			if err != nil {
				return err
			}
			c.logger.Info("Signed in", zap.String("login", me.Login))
			fmt.Fprintf(a.out, "Signed in as %s.\n", a.author(*me))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password")
	return cmd
}

// credentials fills in missing credentials from the environment, then
// from standard input.
func (c *cli) credentials(cmd *cobra.Command, username, password string) (string, string, error) {
	if username == "" {
		username = os.Getenv("FEEDLINE_USERNAME")
	}
	if password == "" {
		password = os.Getenv("FEEDLINE_PASSWORD")
	}
	in := bufio.NewReader(cmd.InOrStdin())
	read := func(prompt string) (string, error) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(prompt), ": "), err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	var err error
	if username == "" {
		if username, err = read("Username: "); err != nil {
			return "", "", err
		}
	}
	if password == "" {
		if password, err = read("Password: "); err != nil {
			return "", "", err
		}
	}
	if username == "" || password == "" {
		return "", "", fmt.Errorf("username and password are required")
	}
	return username, password, nil
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			was := a.session.Snapshot()
			if err := a.session.Logout(cmd.Context()); err != nil {
				return err
			}
			if was.User != nil {
				fmt.Fprintf(a.out, "Signed out %s.\n", was.User.Login)
			} else {
				fmt.Fprintln(a.out, "Signed out.")
			}
			return nil
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				a.printProfile(a.out, *me)
				return nil
			})
		},
	}
}

func (c *cli) profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				a.printProfile(a.out, *me)
				return nil
			})
		},
	}

	var upd api.ProfileUpdate
	edit := &cobra.Command{
		Use:   "edit",
		Short: "Change your display name, bio or avatar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if upd == (api.ProfileUpdate{}) {
				return fmt.Errorf("nothing to change: pass --name, --bio or --avatar")
			}
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				u, err := a.client.UpdateMe(ctx, upd)
				if err != nil {
					return fmt.Errorf("update profile: %w", err)
				}
				a.session.SetUser(u)
				c.logger.Debug("Profile updated", zap.String("user", u.Login))
				fmt.Fprintln(a.out, "Profile updated.")
				a.printProfile(a.out, *u)
				return nil
			})
		},
	}
	edit.Flags().StringVar(&upd.DisplayName, "name", "", "new display name")
	edit.Flags().StringVar(&upd.Bio, "bio", "", "new bio")
	edit.Flags().StringVar(&upd.Avatar, "avatar", "", "new avatar URL or media path")

	cmd.AddCommand(edit)
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := c.cfg
			snap := a.session.Snapshot()
			w := a.out
			fmt.Fprintf(w, "API:       %s\n", a.client.BaseURL())
			fmt.Fprintf(w, "Session:   %s backend", cfg.Session.Backend)
			if cfg.Session.Backend == "file" || cfg.Session.Backend == "sqlite" {
				fmt.Fprintf(w, " (%s)", cfg.SessionPath())
			}
			fmt.Fprintln(w)
			fmt.Fprintf(w, "Push:      %s %s\n", cfg.Push.Transport, cfg.PushURL())

			switch {
			case snap.User != nil:
				fmt.Fprintf(w, "Signed in: %s\n", a.author(*snap.User))
			case snap.Token != "":
				fmt.Fprintln(w, "Signed in: token stored, profile unavailable")
			default:
				fmt.Fprintln(w, "Signed in: no")
			}
			if snap.Token != "" {
				fmt.Fprintf(w, "Token:     %s\n", tokenExpiry(snap.Token, time.Now()))
			}
			return nil
		},
	}
}

// tokenExpiry describes the exp claim of a JWT access token without
// verifying it. Opaque tokens are reported as such.
func tokenExpiry(token string, now time.Time) string {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "opaque"
	}
	if claims.ExpiresAt == nil {
		return "no expiry"
	}
	exp := claims.ExpiresAt.Time
	if !exp.After(now) {
		return fmt.Sprintf("expired at %s", exp.Local().Format(timeLayout))
	}
	return fmt.Sprintf("expires %s (in %s)", exp.Local().Format(timeLayout), exp.Sub(now).Round(time.Minute))
}
