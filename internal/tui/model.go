// Package tui is the interactive feed browser: a scrolling post list with
// infinite loading, optimistic like/dislike and a rendered detail view.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"feedline/internal/api"
	"feedline/internal/logging"
	"feedline/internal/media"
	"feedline/internal/optimistic"
	"feedline/internal/paging"
	"feedline/internal/task"
	"feedline/internal/types"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// FeedAPI is the part of the API client the browser needs.
type FeedAPI interface {
	Feed(ctx context.Context, page, limit int) (types.Page[types.Post], error)
	SetPostReaction(ctx context.Context, id types.ID, prev, next types.Choice) error
}

// Options configure a Model.
type Options struct {
	PageSize int
	// Title is shown in the header, typically the signed-in user.
	Title  string
	Media  *media.Resolver
	Styles *Styles
}

const itemHeight = 4

// Messages for tea updates
type (
	pageMsg  struct{ err error }
	reactMsg struct {
		id  types.ID
		err error
	}
)

// Model is the bubbletea model of the browser.
type Model struct {
	api   FeedAPI
	feed  *paging.Loader[types.Post]
	queue *optimistic.Queue
	scope *task.Scope
	media *media.Resolver

	styles   Styles
	spinner  spinner.Model
	viewport viewport.Model
	renderer *glamour.TermRenderer

	title    string
	cursor   int
	offset   int
	loading  bool
	inflight int
	detail   bool
	status   string
	err      error
	width    int
	height   int
}

// New builds a browser whose fetches are bound to ctx.
func New(ctx context.Context, feedAPI FeedAPI, opts Options) Model {
	styles := DefaultStyles()
	if opts.Styles != nil {
		styles = *opts.Styles
	}
	resolver := opts.Media
	if resolver == nil {
		resolver = media.NewResolver("")
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	m := Model{
		api:      feedAPI,
		feed:     paging.New[types.Post](feedAPI.Feed, opts.PageSize),
		queue:    &optimistic.Queue{},
		scope:    task.NewScope(ctx),
		media:    resolver,
		styles:   styles,
		spinner:  sp,
		viewport: viewport.New(80, 20),
		title:    opts.Title,
		loading:  true,
		width:    80,
		height:   24,
	}
	m.renderer = newRenderer(styles.Theme, m.width)
	return m
}

func newRenderer(theme Theme, width int) *glamour.TermRenderer {
	style := "light"
	if theme.IsDark {
		style = "dark"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath(style),
		glamour.WithWordWrap(max(width-8, 20)),
	)
	if err != nil {
		logging.FeedWarn("Markdown renderer unavailable: %v", err)
		return nil
	}
	return r
}

// Err returns the error that ended the session, if any.
func (m Model) Err() error { return m.err }

// Close cancels outstanding fetches and mutations.
func (m Model) Close() error { return m.scope.Close() }

// Init loads the first page. New marks the model as loading for it.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadMore())
}

func (m Model) loadMore() tea.Cmd {
	scope, feed := m.scope, m.feed
	return func() tea.Msg {
		_, err := task.Await(scope, feed.LoadMore)
		if errors.Is(err, task.ErrClosed) {
			return nil
		}
		return pageMsg{err: err}
	}
}

func (m Model) refresh() tea.Cmd {
	scope, feed := m.scope, m.feed
	return func() tea.Msg {
		_, err := task.Await(scope, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, feed.Refresh(ctx)
		})
		if errors.Is(err, task.ErrClosed) {
			return nil
		}
		return pageMsg{err: err}
	}
}

func (m Model) react(want types.Choice) tea.Cmd {
	post, ok := m.selected()
	if !ok {
		return nil
	}
	scope, feed, q, client := m.scope, m.feed, m.queue, m.api
	return func() tea.Msg {
		_, err := task.Await(scope, func(ctx context.Context) (types.Post, error) {
			return optimistic.ToggleReaction(ctx, q, optimistic.PostKey(post.ID),
				optimistic.Item[types.Post](feed, post.Key()), want,
				func(ctx context.Context, prev, next types.Choice) error {
					return client.SetPostReaction(ctx, post.ID, prev, next)
				})
		})
		if errors.Is(err, task.ErrClosed) {
			return nil
		}
		return reactMsg{id: post.ID, err: err}
	}
}

func (m Model) selected() (types.Post, bool) {
	items := m.feed.Items()
	if m.cursor < 0 || m.cursor >= len(items) {
		return types.Post{}, false
	}
	return items[m.cursor], true
}

// Update handles key presses, window changes and fetch results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width - 4
		m.viewport.Height = msg.Height - 4
		if m.renderer != nil {
			m.renderer = newRenderer(m.styles.Theme, msg.Width)
		}
		m.scroll()
		return m, nil

	case spinner.TickMsg:
		if m.loading || m.inflight > 0 {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case pageMsg:
		m.loading = false
		if m.fatal(msg.err) {
			return m, tea.Quit
		}
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.status = "Could not load posts: " + msg.err.Error()
		}
		return m, nil

	case reactMsg:
		m.inflight--
		if m.fatal(msg.err) {
			return m, tea.Quit
		}
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.status = "Reaction not saved: " + msg.err.Error()
		}
		if m.detail {
			m.renderDetail()
		}
		return m, nil
	}
	return m, nil
}

// fatal records an expired session, which ends the browser.
func (m *Model) fatal(err error) bool {
	if errors.Is(err, api.ErrUnauthorized) {
		m.err = err
		return true
	}
	return false
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "l":
		return m.startReaction(types.ChoiceLike)
	case "d":
		return m.startReaction(types.ChoiceDislike)
	}

	if m.detail {
		switch msg.String() {
		case "esc", "backspace", "h":
			m.detail = false
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		m.scroll()
	case "down", "j":
		if m.cursor < m.feed.Len()-1 {
			m.cursor++
		}
		m.scroll()
		return m.maybeLoad()
	case "enter":
		if _, ok := m.selected(); ok {
			m.detail = true
			m.renderDetail()
		}
	case "r":
		m.cursor, m.offset, m.status = 0, 0, ""
		m.loading = true
		return m, tea.Batch(m.spinner.Tick, m.refresh())
	}
	return m, nil
}

// maybeLoad fetches the next page once the cursor is on the last post.
func (m Model) maybeLoad() (tea.Model, tea.Cmd) {
	st := m.feed.State()
	if m.loading || !st.HasMore || m.cursor < len(st.Items)-1 {
		return m, nil
	}
	m.loading = true
	return m, tea.Batch(m.spinner.Tick, m.loadMore())
}

func (m Model) startReaction(want types.Choice) (tea.Model, tea.Cmd) {
	cmd := m.react(want)
	if cmd == nil {
		return m, nil
	}
	m.status = ""
	m.inflight++
	return m, tea.Batch(m.spinner.Tick, cmd)
}

func (m *Model) visible() int {
	return max((m.height-4)/itemHeight, 1)
}

func (m *Model) scroll() {
	n := m.visible()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+n {
		m.offset = m.cursor - n + 1
	}
}

func (m *Model) renderDetail() {
	post, ok := m.selected()
	if !ok {
		m.detail = false
		return
	}
	md := postMarkdown(post, m.media)
	out := md
	if m.renderer != nil {
		if rendered, err := m.renderer.Render(md); err == nil {
			out = rendered
		}
	}
	m.viewport.SetContent(out)
	m.viewport.GotoTop()
}

func postMarkdown(p types.Post, r *media.Resolver) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s", p.Author.Name())
	if p.Author.Login != "" && p.Author.Login != p.Author.Name() {
		fmt.Fprintf(&b, " (@%s)", p.Author.Login)
	}
	b.WriteString("\n\n")
	if !p.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "*%s*\n\n", p.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	b.WriteString(media.PlainText(p.Content))
	b.WriteString("\n\n")
	for i, ref := range p.Media {
		fmt.Fprintf(&b, "- [attachment %d](%s)\n", i+1, r.Resolve(ref))
	}
	fmt.Fprintf(&b, "\n---\n\n%s · %d comments\n", reactionText(p.Reactions()), p.CommentsCount)
	return b.String()
}

func reactionText(rs types.ReactionState) string {
	like, dislike := "▲", "▼"
	if rs.Choice == types.ChoiceLike {
		like = "▲*"
	}
	if rs.Choice == types.ChoiceDislike {
		dislike = "▼*"
	}
	return fmt.Sprintf("%s %d  %s %d", like, rs.Likes, dislike, rs.Dislikes)
}

// View renders the list or the detail page.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")

	if m.detail {
		b.WriteString(m.viewport.View())
	} else {
		b.WriteString(m.listView())
	}

	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(m.styles.Error.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(m.footer())
	return b.String()
}

func (m Model) header() string {
	title := "feedline"
	if m.title != "" {
		title += " · " + m.title
	}
	if m.loading || m.inflight > 0 {
		title += " " + m.spinner.View()
	}
	return m.styles.Header.Width(max(m.width, 1)).Render(title)
}

func (m Model) footer() string {
	help := "j/k move · l like · d dislike · enter open · r refresh · q quit"
	if m.detail {
		help = "↑/↓ scroll · l like · d dislike · esc back · q quit"
	}
	return m.styles.Footer.Render(help)
}

func (m Model) listView() string {
	st := m.feed.State()
	if len(st.Items) == 0 {
		switch {
		case m.loading:
			return m.styles.Muted.Render("  Loading…")
		case st.Page > 0:
			return m.styles.Muted.Render("  Nothing here yet.")
		}
		return ""
	}

	end := min(m.offset+m.visible(), len(st.Items))
	width := max(m.width-6, 10)
	rows := make([]string, 0, end-m.offset+1)
	for i := m.offset; i < end; i++ {
		rows = append(rows, m.renderItem(st.Items[i], width, i == m.cursor))
	}
	if end == len(st.Items) {
		switch {
		case m.loading:
			rows = append(rows, m.styles.Muted.Render("  "+m.spinner.View()+" loading more"))
		case !st.HasMore:
			rows = append(rows, m.styles.Muted.Render("  (end of feed)"))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m Model) renderItem(p types.Post, width int, selected bool) string {
	head := m.styles.Avatar.Render(media.Initial(p.Author)) + " " + m.styles.Author.Render(p.Author.Name())
	if !p.CreatedAt.IsZero() {
		head += " " + m.styles.Muted.Render(p.CreatedAt.Local().Format("Jan 2 15:04"))
	}
	body := truncate(media.PlainText(p.Content), width)

	rs := p.Reactions()
	like := fmt.Sprintf("▲ %d", rs.Likes)
	dislike := fmt.Sprintf("▼ %d", rs.Dislikes)
	switch rs.Choice {
	case types.ChoiceLike:
		like = m.styles.Like.Render(like)
	case types.ChoiceDislike:
		dislike = m.styles.Dislike.Render(dislike)
	}
	meta := like + "  " + dislike + "  " + m.styles.Muted.Render(fmt.Sprintf("%d comments", p.CommentsCount))

	block := lipgloss.JoinVertical(lipgloss.Left, head, m.styles.Body.Render(body), meta)
	if selected {
		return m.styles.Selected.Render(block) + "\n"
	}
	return m.styles.Item.Render(block) + "\n"
}

// truncate cuts s to one line of at most width runes.
func truncate(s string, width int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " …"
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

// Run drives m until the user quits or the session expires, then closes
// its scope. The returned error is api.ErrUnauthorized when the server
// rejected the session.
func Run(ctx context.Context, m Model, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, opts...)
	final, err := tea.NewProgram(m, opts...).Run()
	if fm, ok := final.(Model); ok {
		if cerr := fm.Close(); cerr != nil {
			logging.FeedWarn("Browser tasks ended with error: %v", cerr)
		}
		if fm.err != nil {
			return fm.err
		}
	} else {
		_ = m.Close()
	}
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
