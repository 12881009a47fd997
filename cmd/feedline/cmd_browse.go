package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"feedline/internal/logging"
	"feedline/internal/mockapi"
	"feedline/internal/tui"
	"feedline/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (c *cli) browseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse the feed interactively",
		Long: `Opens the interactive feed. Use j/k to move, l and d to like or dislike,
enter to read a post and r to refresh. Reaching the last post loads the
next page.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				following := c.follow(ctx, cancel, a)
				defer following.Close()

				m := tui.New(ctx, a.client, tui.Options{
					PageSize: c.cfg.PageSize(),
					Title:    me.Name(),
					Media:    a.media,
					Styles:   &a.styles,
				})
				err := tui.Run(ctx, m)
				if err == nil && !a.session.Snapshot().Authenticated() {
					a.signIn()
				}
				return err
			})
		},
	}
}

func (c *cli) serveMockCmd() *cobra.Command {
	var addr, secret string
	var seed bool
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "serve-mock",
		Short: "Run an in-memory development backend",
		Long: `Serves the feed API under /api from memory, with seeded users alice, bob
and carol (password "password") when --seed is on. Notifications are pushed
on /api/ws/notifications.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var key []byte
			if secret != "" {
				var err error
				if key, err = hex.DecodeString(secret); err != nil {
					key = []byte(secret)
				}
			}
			srv, err := mockapi.New(mockapi.Options{Secret: key, TokenTTL: ttl, Seed: seed})
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(ln) }()

			base := fmt.Sprintf("http://%s/api", ln.Addr())
			c.logger.Info("Mock API listening", zap.String("addr", ln.Addr().String()))
			logging.Boot("Mock API listening on %s", base)
			fmt.Fprintf(cmd.OutOrStdout(), "Mock API on %s\n", base)
			if seed {
				fmt.Fprintf(cmd.OutOrStdout(), "Users: alice, bob, carol (password %q)\n", mockapi.DefaultPassword)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Point the client at it with FEEDLINE_API_URL=%s\n", base)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return <-errCh
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "Listen address")
	cmd.Flags().StringVar(&secret, "secret", "", "Token signing secret (hex or text; random by default)")
	cmd.Flags().BoolVar(&seed, "seed", true, "Add demo users and posts")
	cmd.Flags().DurationVar(&ttl, "token-ttl", time.Hour, "Lifetime of issued tokens")
	return cmd
}
