package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"feedline/internal/api"
	"feedline/internal/logging"
	"feedline/internal/media"
	"feedline/internal/session"
	"feedline/internal/store"
	"feedline/internal/tui"
	"feedline/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app is the wiring shared by every command that talks to the backend.
type app struct {
	cli     *cli
	kv      store.KV
	session *session.Store
	client  *api.Client
	media   *media.Resolver
	styles  tui.Styles
	out     io.Writer
	errOut  io.Writer

	signInOnce sync.Once
}

// open builds the store, session and API client. With restore set the
// persisted session is restored first.
func (c *cli) open(cmd *cobra.Command, restore bool) (*app, error) {
	ctx := cmd.Context()
	cfg := c.cfg

	kv, err := store.Open(ctx, store.Options{
		Backend:       cfg.Session.Backend,
		Path:          cfg.SessionPath(),
		SQLiteDriver:  cfg.Session.SQLiteDriver,
		SessionTTL:    cfg.GetSessionTTL(),
		RedisAddr:     cfg.Session.Redis.Addr,
		RedisPassword: cfg.Session.Redis.Password,
		RedisDB:       cfg.Session.Redis.DB,
		RedisTLS:      cfg.Session.Redis.TLS,
		RedisPrefix:   cfg.Session.Redis.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	a := &app{
		cli:     c,
		kv:      kv,
		session: session.New(kv),
		media:   media.NewResolver(cfg.MediaBaseURL()),
		styles:  tui.DefaultStyles(),
		out:     cmd.OutOrStdout(),
		errOut:  cmd.ErrOrStderr(),
	}
	a.client, err = api.New(a.session, api.Options{
		BaseURL:        cfg.API.BaseURL,
		AuthPath:       cfg.API.AuthPath,
		Timeout:        cfg.GetAPITimeout(),
		OnUnauthorized: a.signIn,
	})
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	if restore {
		timer := logging.StartTimer(logging.CategoryBoot, "session restore")
		a.session.Restore(ctx, a.client)
		timer.Stop()
		c.logger.Debug("Session restored",
			zap.Bool("authenticated", a.session.Snapshot().Authenticated()))
	}
	return a, nil
}

func (a *app) Close() error {
	return a.kv.Close()
}

// signIn is the forced-logout redirect: the hint is printed at most once
// per run.
func (a *app) signIn() {
	a.signInOnce.Do(func() {
		fmt.Fprintf(a.errOut, "Your session has ended. Sign in again with `feedline login`")
		if u := a.cli.cfg.API.SignInURL; u != "" {
			fmt.Fprintf(a.errOut, " or at %s", u)
		}
		fmt.Fprintln(a.errOut, ".")
	})
}

// requireUser returns the signed-in user. Without a session the sign-in
// hint is printed and api.ErrUnauthorized returned.
func (a *app) requireUser() (*types.UserProfile, error) {
	snap := a.session.Snapshot()
	if snap.User != nil {
		return snap.User, nil
	}
	if snap.Token != "" {
		// Restore failed for a reason other than a rejected token.
		return nil, fmt.Errorf("could not load your profile; the saved session was kept, try again later")
	}
	a.signIn()
	return nil, fmt.Errorf("not signed in: %w", api.ErrUnauthorized)
}

// run opens the app with a restored session, checks for a signed-in user
// and calls fn.
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, a *app, me *types.UserProfile) error) error {
	a, err := c.open(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	me, err := a.requireUser()
	if err != nil {
		return err
	}
	return fn(cmd.Context(), a, me)
}
