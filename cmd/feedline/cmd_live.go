package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"feedline/internal/api"
	"feedline/internal/logging"
	"feedline/internal/notify"
	"feedline/internal/search"
	"feedline/internal/store"
	"feedline/internal/task"
	"feedline/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (c *cli) searchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search people by name or login",
		Long: `With a query, prints one set of matches. Without one, reads queries line
by line from standard input; results are printed once input settles and a
new line cancels the search still running for the previous one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				ctx, cancel := context.WithCancel(ctx)
				results := make(chan search.Result)
				s := search.New(ctx, func(ctx context.Context, q string) ([]types.UserProfile, error) {
					page, err := a.client.SearchUsers(ctx, q, 1, limit)
					return page.Items, err
				}, search.Options{
					Debounce:      c.cfg.GetSearchDebounce(),
					RatePerSecond: c.cfg.Search.RatePerSecond,
					Burst:         c.cfg.Search.Burst,
				}, func(r search.Result) {
					select {
					case results <- r:
					case <-ctx.Done():
					}
				})
				defer s.Close()
				defer cancel()

				if len(args) > 0 {
					s.Flush(strings.Join(args, " "))
					select {
					case r := <-results:
						return a.printResults(r)
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				return a.searchInteractive(ctx, cmd.InOrStdin(), s, results)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum matches")
	return cmd
}

func (a *app) searchInteractive(ctx context.Context, in io.Reader, s *search.Searcher, results <-chan search.Result) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	last, pending := "", false
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				if !pending {
					return nil
				}
				// Input ended; run the last query without waiting.
				s.Flush(last)
				lines = nil
				continue
			}
			last = strings.TrimSpace(line)
			pending = true
			s.Query(last)
		case r := <-results:
			if r.Query == last {
				pending = false
			}
			if err := a.printResults(r); err != nil {
				fmt.Fprintf(a.errOut, "Search failed: %v\n", err)
			}
			if lines == nil && !pending {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *app) printResults(r search.Result) error {
	if r.Err != nil {
		return r.Err
	}
	if r.Query == "" {
		return nil
	}
	fmt.Fprintf(a.out, "%d match(es) for %q\n", len(r.Users), r.Query)
	for _, u := range r.Users {
		a.printUser(a.out, u)
	}
	return nil
}

func (c *cli) notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "List, read and watch notifications",
	}

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				center := notify.NewCenter(a.client, c.cfg.PageSize())
				for {
					ok, err := center.LoadMore(ctx)
					if err != nil {
						return err
					}
					if !ok || !all {
						break
					}
				}
				items := center.Items()
				fmt.Fprintf(a.out, "%d unread\n\n", center.UnreadCount())
				for _, n := range items {
					a.printNotification(a.out, n)
				}
				if !all && center.HasMore() {
					fmt.Fprintln(a.out, "\nMore with --all.")
				}
				return nil
			})
		},
	}
	list.Flags().BoolVar(&all, "all", false, "Fetch every page")

	read := &cobra.Command{
		Use:   "read <notification-id>...",
		Short: "Mark notifications as read",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				center := notify.NewCenter(a.client, c.cfg.PageSize())
				for _, id := range args {
					if err := center.MarkRead(ctx, types.ID(id)); err != nil {
						return fmt.Errorf("mark #%s read: %w", id, err)
					}
				}
				fmt.Fprintf(a.out, "Marked %d notification(s) read.\n", len(args))
				return nil
			})
		},
	}

	readAll := &cobra.Command{
		Use:   "read-all",
		Short: "Mark every notification as read",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				center := notify.NewCenter(a.client, c.cfg.PageSize())
				if err := center.MarkAllRead(ctx); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "All notifications marked read.")
				return nil
			})
		},
	}

	cmd.AddCommand(list, read, readAll, c.watchCmd())
	return cmd
}

// pushSource builds the live notification source configured for me.
func (c *cli) pushSource(a *app, me *types.UserProfile) (notify.Source, error) {
	cfg := c.cfg
	maxBackoff := cfg.GetPushMaxBackoff()
	switch cfg.Push.Transport {
	case "websocket":
		url := cfg.PushURL()
		if url == "" {
			return nil, errors.New("push.url not configured")
		}
		return &notify.WebSocketSource{URL: url, Token: a.session.Token, MaxBackoff: maxBackoff}, nil
	case "nats":
		return &notify.NATSSource{
			URL:        cfg.Push.URL,
			Subject:    cfg.Push.Subject + "." + string(me.ID),
			Token:      a.session.Token,
			MaxBackoff: maxBackoff,
		}, nil
	case "amqp":
		return &notify.AMQPSource{
			URL:        cfg.Push.URL,
			Queue:      cfg.Push.Queue + "." + string(me.ID),
			MaxBackoff: maxBackoff,
		}, nil
	}
	return nil, fmt.Errorf("push transport %q cannot be watched", cfg.Push.Transport)
}

// follow ends ctx when another process signs this session out. Watching
// the store is skipped for backends that cannot be watched or when
// session.follow is off. Close the returned scope before returning.
func (c *cli) follow(ctx context.Context, cancel context.CancelFunc, a *app) *task.Scope {
	scope := task.NewScope(ctx)
	unsubscribe := a.session.Subscribe(func(s types.Session) {
		if !s.Authenticated() {
			a.signIn()
			cancel()
		}
	})
	scope.Go(func(ctx context.Context) error {
		<-ctx.Done()
		unsubscribe()
		return nil
	})

	w, ok := a.kv.(store.Watcher)
	if !ok || !c.cfg.Session.Follow {
		return scope
	}
	scope.Go(func(ctx context.Context) error {
		if err := a.session.Follow(ctx, w); err != nil && ctx.Err() == nil {
			c.logger.Warn("Session follow stopped", zap.Error(err))
		}
		return nil
	})
	return scope
}

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print notifications as they are pushed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				src, err := c.pushSource(a, me)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				following := c.follow(ctx, cancel, a)
				defer following.Close()

				center := notify.NewCenter(a.client, c.cfg.PageSize())
				var mu sync.Mutex
				printed := 0
				center.OnChange(func() {
					mu.Lock()
					defer mu.Unlock()
					live := center.Live()
					for i := len(live) - printed - 1; i >= 0; i-- {
						a.printNotification(a.out, live[i])
					}
					printed = len(live)
				})

				fmt.Fprintf(a.errOut, "Watching notifications for %s (%s). Ctrl+C to stop.\n", me.Login, c.cfg.Push.Transport)
				logging.Notify("Watching via %s", c.cfg.Push.Transport)
				if err := center.Listen(ctx, src); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				if !a.session.Snapshot().Authenticated() {
					return fmt.Errorf("session ended while watching: %w", api.ErrUnauthorized)
				}
				return nil
			})
		},
	}
}
