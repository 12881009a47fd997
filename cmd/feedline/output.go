package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"feedline/internal/media"
	"feedline/internal/types"
)

const timeLayout = "2006-01-02 15:04"

func (a *app) author(u types.UserProfile) string {
	name := a.styles.Author.Render(u.Name())
	if u.Login != "" && u.Login != u.Name() {
		name += " " + a.styles.Muted.Render("@"+u.Login)
	}
	return name
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(timeLayout)
}

func (a *app) reactions(rs types.ReactionState) string {
	like := fmt.Sprintf("▲ %d", rs.Likes)
	dislike := fmt.Sprintf("▼ %d", rs.Dislikes)
	switch rs.Choice {
	case types.ChoiceLike:
		like = a.styles.Like.Render(like + " (you)")
	case types.ChoiceDislike:
		dislike = a.styles.Dislike.Render(dislike + " (you)")
	}
	return like + "  " + dislike
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func (a *app) printPost(w io.Writer, p types.Post) {
	fmt.Fprintf(w, "%s  %s  %s\n", a.styles.Muted.Render("#"+string(p.ID)), a.author(p.Author), a.styles.Muted.Render(stamp(p.CreatedAt)))
	if text := media.PlainText(p.Content); text != "" {
		fmt.Fprintln(w, indent(text, "  "))
	}
	for _, ref := range p.Media {
		fmt.Fprintf(w, "  [media] %s\n", a.media.Resolve(ref))
	}
	fmt.Fprintf(w, "  %s  %s\n\n", a.reactions(p.Reactions()), a.styles.Muted.Render(fmt.Sprintf("%d comments", p.CommentsCount)))
}

func (a *app) printComment(w io.Writer, c types.Comment) {
	fmt.Fprintf(w, "  %s  %s  %s\n", a.styles.Muted.Render("#"+string(c.ID)), a.author(c.Author), a.styles.Muted.Render(stamp(c.CreatedAt)))
	fmt.Fprintln(w, indent(media.PlainText(c.Content), "    "))
	fmt.Fprintf(w, "    %s\n", a.reactions(c.Reactions()))
}

func (a *app) printUser(w io.Writer, u types.UserProfile) {
	line := fmt.Sprintf("%s %s  %s", a.styles.Avatar.Render(media.Initial(u)), a.author(u),
		a.styles.Muted.Render(fmt.Sprintf("#%s · %d followers · %d following", u.ID, u.FollowersCount, u.FollowingCount)))
	if u.IsFollowing {
		line += "  " + a.styles.Like.Render("following")
	}
	fmt.Fprintln(w, line)
}

func (a *app) printProfile(w io.Writer, u types.UserProfile) {
	a.printUser(w, u)
	if u.Role != "" {
		fmt.Fprintf(w, "  role:   %s\n", u.Role)
	}
	if avatar := a.media.Avatar(u); avatar != "" {
		fmt.Fprintf(w, "  avatar: %s\n", avatar)
	}
	if u.Bio != "" {
		fmt.Fprintln(w, indent(media.PlainText(u.Bio), "  "))
	}
}

func (a *app) printNotification(w io.Writer, n types.Notification) {
	marker := "  "
	if n.IsUnRead {
		marker = a.styles.Unread.Render("● ")
	}
	from := ""
	if n.Sender != nil {
		from = " " + a.author(*n.Sender)
	}
	fmt.Fprintf(w, "%s%s  %s%s  %s\n", marker, a.styles.Muted.Render("#"+string(n.ID)),
		a.styles.Muted.Render("["+n.Type+"]"), from, a.styles.Muted.Render(stamp(n.CreatedAt)))
	fmt.Fprintln(w, indent(n.Message, "    "))
}
