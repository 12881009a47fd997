package media

import (
	"strings"

	"golang.org/x/net/html"
)

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "tr": true,
}

// PlainText strips markup from post content. Block elements become line
// breaks, list items get a bullet, links keep their target in brackets and
// script or style bodies are dropped. Text without markup is returned with
// whitespace normalized.
func PlainText(content string) string {
	z := html.NewTokenizer(strings.NewReader(content))
	var (
		b        strings.Builder
		skip     int
		hrefs    []string
		lastText string
	)
	newline := func() {
		s := b.String()
		if s != "" && !strings.HasSuffix(s, "\n") {
			b.WriteByte('\n')
		}
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			return tidy(b.String())

		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := collapse(string(z.Text()))
			if s := b.String(); s == "" || strings.HasSuffix(s, "\n") || strings.HasSuffix(s, " ") {
				text = strings.TrimLeft(text, " ")
			}
			if text == "" {
				continue
			}
			b.WriteString(text)
			lastText = text

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			switch tag {
			case "script", "style":
				skip++
			case "li":
				newline()
				b.WriteString("• ")
			case "a":
				href := ""
				for hasAttr {
					var k, v []byte
					k, v, hasAttr = z.TagAttr()
					if string(k) == "href" {
						href = string(v)
					}
				}
				hrefs = append(hrefs, href)
			default:
				if blockTags[tag] {
					newline()
				}
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			switch tag {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "a":
				if n := len(hrefs); n > 0 {
					href := hrefs[n-1]
					hrefs = hrefs[:n-1]
					if href != "" && strings.TrimSpace(lastText) != href {
						b.WriteString(" [" + href + "]")
					}
				}
			default:
				if blockTags[tag] {
					newline()
				}
			}
		}
	}
}

// collapse squeezes runs of whitespace into single spaces.
func collapse(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	if space {
		b.WriteByte(' ')
	}
	return b.String()
}

// tidy trims each line and drops leading/trailing blank lines.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		out = append(out, strings.TrimSpace(l))
	}
	return strings.Trim(strings.Join(out, "\n"), "\n")
}
