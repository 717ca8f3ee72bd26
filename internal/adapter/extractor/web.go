package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"

	"coursekb/internal/adapter/normalize"
	"coursekb/internal/domain"
)

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Head:     true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Pre: true, atom.Blockquote: true,
	atom.Table: true, atom.Ul: true, atom.Ol: true, atom.Header: true, atom.Footer: true,
}

// ValidateURL accepts absolute http(s) URLs with a host.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid url %q", domain.ErrInvalidInput, raw)
	}
	return u, nil
}

// Fetch downloads a page and returns its visible text as a "web" payload.
// With classes, only elements carrying one of them contribute text.
func (e *Extractor) Fetch(ctx context.Context, raw string, classes []string) (domain.UploadPayload, error) {
	u, err := ValidateURL(raw)
	if err != nil {
		return domain.UploadPayload{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.UploadPayload{}, domain.NewCollaboratorError("extractor", "fetch", err)
	}
	req.Header.Set("User-Agent", "coursekb/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return domain.UploadPayload{}, domain.NewCollaboratorError("extractor", "fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.UploadPayload{}, domain.NewCollaboratorError("extractor", "fetch",
			fmt.Errorf("GET %s: status %d", u, resp.StatusCode))
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, maxPageBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return domain.UploadPayload{}, domain.NewCollaboratorError("extractor", "decode page", err)
	}
	doc, err := html.Parse(body)
	if err != nil {
		return domain.UploadPayload{}, domain.NewCollaboratorError("extractor", "parse page", err)
	}

	content := normalize.Normalize(strings.Join(pageParts(doc, cleanClasses(classes)), "\n\n"))
	if content == "" {
		e.log.Warn("extracted empty text", "url", u.String())
	}

	name := strings.TrimSpace(pageTitle(doc))
	if name == "" {
		name = nameFromURL(u)
	}
	return domain.UploadPayload{Name: name, DocType: "web", Content: content}, nil
}

func cleanClasses(classes []string) map[string]bool {
	set := make(map[string]bool)
	for _, c := range classes {
		if c = strings.TrimSpace(c); c != "" {
			set[c] = true
		}
	}
	return set
}

// pageParts returns the text of the outermost elements matching classes, or
// the text of the whole page when there is no class filter.
func pageParts(doc *html.Node, classes map[string]bool) []string {
	if len(classes) == 0 {
		var b strings.Builder
		writeText(&b, doc)
		return []string{b.String()}
	}

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.DataAtom] {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, classes) {
			var b strings.Builder
			writeText(&b, n)
			if text := strings.TrimSpace(b.String()); text != "" {
				parts = append(parts, text)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return parts
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipped[n.DataAtom] {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if n.Type == html.ElementNode && blocks[n.DataAtom] {
		b.WriteByte('\n')
	}
}

func hasClass(n *html.Node, classes map[string]bool) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if classes[c] {
				return true
			}
		}
	}
	return false
}

func pageTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		return b.String()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if title := pageTitle(c); title != "" {
			return title
		}
	}
	return ""
}

func nameFromURL(u *url.URL) string {
	p := strings.TrimRight(u.Path, "/")
	if p != "" {
		if last := path.Base(p); last != "" && last != "/" && last != "." {
			return last
		}
	}
	return u.Host
}
