package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"feedline/internal/api"
	"feedline/internal/optimistic"
	"feedline/internal/paging"
	"feedline/internal/types"

	"github.com/spf13/cobra"
)

// pageFlags selects a single page or, with --all, every page.
type pageFlags struct {
	page  int
	limit int
	all   bool
}

func (f *pageFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.page, "page", 1, "Page to show (1-based)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Items per page (default feed.page_size)")
	cmd.Flags().BoolVar(&f.all, "all", false, "Fetch every page")
}

// collect loads the requested pages through a paging.Loader.
func collect[T paging.Keyed](ctx context.Context, f pageFlags, defaultLimit int, fetch paging.Fetcher[T]) (paging.State[T], error) {
	limit := f.limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if !f.all && f.page > 1 {
		page, err := fetch(ctx, f.page, limit)
		if err != nil {
			return paging.State[T]{}, err
		}
		return paging.State[T]{Items: page.Items, Page: f.page, HasMore: len(page.Items) >= limit}, nil
	}
	l := paging.New(fetch, limit)
	for {
		ok, err := l.LoadMore(ctx)
		if err != nil {
			return l.State(), err
		}
		if !ok || !f.all {
			return l.State(), nil
		}
	}
}

func printMore[T any](w io.Writer, st paging.State[T], all bool) {
	if !all && st.HasMore {
		fmt.Fprintf(w, "More on --page %d or with --all.\n", st.Page+1)
	}
}

func (c *cli) feedCmd() *cobra.Command {
	var pf pageFlags
	var user string
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "List posts from the feed or from one user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				fetch := a.client.Feed
				if user != "" {
					u, err := a.lookupUser(ctx, user)
					if err != nil {
						return err
					}
					fetch = func(ctx context.Context, page, limit int) (types.Page[types.Post], error) {
						return a.client.UserPosts(ctx, u.ID, page, limit)
					}
				}
				st, err := collect(ctx, pf, c.cfg.PageSize(), fetch)
				for _, p := range st.Items {
					a.printPost(a.out, p)
				}
				if err != nil {
					return err
				}
				if len(st.Items) == 0 {
					fmt.Fprintln(a.out, "No posts.")
				}
				printMore(a.out, st, pf.all)
				return nil
			})
		},
	}
	pf.register(cmd)
	cmd.Flags().StringVar(&user, "user", "", "Only posts by this user (id or login)")
	return cmd
}

func (c *cli) postCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Show, create or delete posts",
	}

	show := &cobra.Command{
		Use:   "show <post-id>",
		Short: "Show a post with its first page of comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				id := types.ID(args[0])
				p, err := a.client.Post(ctx, id)
				if err != nil {
					return err
				}
				a.printPost(a.out, *p)
				page, err := a.client.Comments(ctx, id, 1, c.cfg.PageSize())
				if err != nil {
					// Comments are secondary; the post is still shown.
					fmt.Fprintf(a.errOut, "Comments unavailable: %v\n", err)
					return nil
				}
				for _, cm := range page.Items {
					a.printComment(a.out, cm)
				}
				return nil
			})
		},
	}

	var mediaRefs []string
	create := &cobra.Command{
		Use:   "create <text>...",
		Short: `Publish a post ("-" reads the text from stdin)`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := text(cmd, args)
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				p, err := a.client.CreatePost(ctx, api.NewPost{Content: content, Media: mediaRefs})
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Posted #%s.\n", p.ID)
				return nil
			})
		},
	}
	create.Flags().StringSliceVar(&mediaRefs, "media", nil, "Media references to attach")

	del := &cobra.Command{
		Use:   "delete <post-id>",
		Short: "Delete one of your posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				if err := a.client.DeletePost(ctx, types.ID(args[0])); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Deleted #%s.\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(show, create, del)
	return cmd
}

// text joins args, or reads standard input for a single "-".
func text(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", err
		}
		args = []string{string(data)}
	}
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return "", fmt.Errorf("text must not be empty")
	}
	return text, nil
}

func choiceFor(like bool) types.Choice {
	if like {
		return types.ChoiceLike
	}
	return types.ChoiceDislike
}

func (c *cli) reactCmd(like bool) *cobra.Command {
	verb := "dislike"
	if like {
		verb = "like"
	}
	return &cobra.Command{
		Use:   verb + " <post-id>",
		Short: fmt.Sprintf("Toggle your %s on a post", verb),
		Long: fmt.Sprintf(`Toggles your %s on a post. Running it again removes the reaction; a
%s replaces an opposite reaction.`, verb, verb),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				id := types.ID(args[0])
				p, err := a.client.Post(ctx, id)
				if err != nil {
					return err
				}
				var q optimistic.Queue
				next, err := optimistic.ToggleReaction(ctx, &q, optimistic.PostKey(id), optimistic.NewValue(*p), choiceFor(like),
					func(ctx context.Context, prev, next types.Choice) error {
						return a.client.SetPostReaction(ctx, id, prev, next)
					})
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "#%s  %s\n", id, a.reactions(next.Reactions()))
				return nil
			})
		},
	}
}

func (c *cli) commentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comments",
		Short: "List, add, delete and react to comments",
	}

	var pf pageFlags
	list := &cobra.Command{
		Use:   "list <post-id>",
		Short: "List comments of a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				st, err := collect(ctx, pf, c.cfg.PageSize(), a.thread(types.ID(args[0])))
				for _, cm := range st.Items {
					a.printComment(a.out, cm)
				}
				if err != nil {
					return err
				}
				if len(st.Items) == 0 {
					fmt.Fprintln(a.out, "No comments.")
				}
				printMore(a.out, st, pf.all)
				return nil
			})
		},
	}
	pf.register(list)

	add := &cobra.Command{
		Use:   "add <post-id> <text>...",
		Short: "Comment on a post",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := text(cmd, args[1:])
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				postID := types.ID(args[0])
				thread := paging.New(a.thread(postID), c.cfg.PageSize())
				var q optimistic.Queue
				cm, err := optimistic.AddComment(ctx, &q, thread, postID, *me, content, a.client.AddComment)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Commented #%s on #%s.\n", cm.ID, postID)
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <post-id> <comment-id>",
		Short: "Delete one of your comments",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				thread, err := a.findComment(ctx, types.ID(args[0]), types.ID(args[1]))
				if err != nil {
					return err
				}
				var q optimistic.Queue
				if err := optimistic.DeleteComment(ctx, &q, thread, types.ID(args[1]), a.client.DeleteComment); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Deleted comment #%s.\n", args[1])
				return nil
			})
		},
	}

	cmd.AddCommand(list, add, del, c.commentReactCmd(true), c.commentReactCmd(false))
	return cmd
}

func (c *cli) commentReactCmd(like bool) *cobra.Command {
	verb := "dislike"
	if like {
		verb = "like"
	}
	return &cobra.Command{
		Use:   verb + " <post-id> <comment-id>",
		Short: fmt.Sprintf("Toggle your %s on a comment", verb),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				id := types.ID(args[1])
				thread, err := a.findComment(ctx, types.ID(args[0]), id)
				if err != nil {
					return err
				}
				var q optimistic.Queue
				next, err := optimistic.ToggleReaction(ctx, &q, optimistic.CommentKey(id), optimistic.Item[types.Comment](thread, string(id)), choiceFor(like),
					func(ctx context.Context, prev, next types.Choice) error {
						return a.client.SetCommentReaction(ctx, id, prev, next)
					})
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "#%s  %s\n", id, a.reactions(next.Reactions()))
				return nil
			})
		},
	}
}

func (a *app) thread(postID types.ID) paging.Fetcher[types.Comment] {
	return func(ctx context.Context, page, limit int) (types.Page[types.Comment], error) {
		return a.client.Comments(ctx, postID, page, limit)
	}
}

// findComment pages through a post's comments until id is loaded.
func (a *app) findComment(ctx context.Context, postID, id types.ID) (*paging.Loader[types.Comment], error) {
	thread := paging.New(a.thread(postID), a.cli.cfg.PageSize())
	for {
		if _, ok := thread.Get(string(id)); ok {
			return thread, nil
		}
		ok, err := thread.LoadMore(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("comment #%s not found on post #%s", id, postID)
		}
	}
}

// lookupUser accepts a user id or a login.
func (a *app) lookupUser(ctx context.Context, ref string) (*types.UserProfile, error) {
	u, err := a.client.User(ctx, types.ID(ref))
	if err == nil {
		return u, nil
	}
	if !api.IsStatus(err, 404) && !api.IsStatus(err, 400) {
		return nil, err
	}
	found, serr := a.client.SearchUsers(ctx, ref, 1, 20)
	if serr != nil {
		return nil, serr
	}
	for _, u := range found.Items {
		if strings.EqualFold(u.Login, ref) {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("no user %q", ref)
}

func (c *cli) followCmd(follow bool) *cobra.Command {
	verb := "unfollow"
	if follow {
		verb = "follow"
	}
	return &cobra.Command{
		Use:   verb + " <user>",
		Short: fmt.Sprintf("%s a user (id or login)", strings.ToUpper(verb[:1])+verb[1:]),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				u, err := a.lookupUser(ctx, args[0])
				if err != nil {
					return err
				}
				if u.ID == me.ID {
					return errors.New("you cannot follow yourself")
				}
				var q optimistic.Queue
				next, err := optimistic.SetFollowing(ctx, &q, optimistic.NewValue(*u), follow, a.client.SetFollowing)
				if err != nil {
					return err
				}
				a.printUser(a.out, next)
				return nil
			})
		},
	}
}

func (c *cli) peopleCmd() *cobra.Command {
	var pf pageFlags
	var followers, following string
	cmd := &cobra.Command{
		Use:   "people",
		Short: "List users, or the followers / followees of one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if followers != "" && following != "" {
				return errors.New("--followers and --following are exclusive")
			}
			return c.run(cmd, func(ctx context.Context, a *app, me *types.UserProfile) error {
				fetch := a.client.People
				if ref := followers + following; ref != "" {
					u, err := a.lookupUser(ctx, ref)
					if err != nil {
						return err
					}
					list := a.client.Following
					if followers != "" {
						list = a.client.Followers
					}
					fetch = func(ctx context.Context, page, limit int) (types.Page[types.UserProfile], error) {
						return list(ctx, u.ID, page, limit)
					}
				}
				st, err := collect(ctx, pf, c.cfg.PageSize(), paging.Fetcher[types.UserProfile](fetch))
				for _, u := range st.Items {
					a.printUser(a.out, u)
				}
				if err != nil {
					return err
				}
				if len(st.Items) == 0 {
					fmt.Fprintln(a.out, "Nobody here.")
				}
				printMore(a.out, st, pf.all)
				return nil
			})
		},
	}
	pf.register(cmd)
	cmd.Flags().StringVar(&followers, "followers", "", "List followers of this user")
	cmd.Flags().StringVar(&following, "following", "", "List users this user follows")
	return cmd
}
