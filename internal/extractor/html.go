package extractor

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type page struct {
	title  string
	text   string
	meta   Metadata
	images []Image
}

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Iframe:   true,
	atom.Head:     true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true,
	atom.Blockquote: true, atom.Pre: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
}

// parseHTML walks the token stream once. Relative image URLs are resolved
// against base.
func parseHTML(body []byte, base *url.URL, wantImages bool) page {
	var (
		p       page
		text    strings.Builder
		skip    int
		inTitle bool
		seen    = map[string]bool{}
	)

	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			p.text = normalizeText(text.String())
			if p.meta.Title == "" {
				p.meta.Title = p.title
			}
			return p

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Html:
				p.meta.Lang = attr(tok, "lang")
			case atom.Title:
				inTitle = tt == html.StartTagToken
			case atom.Meta:
				readMeta(tok, &p.meta)
			case atom.Img:
				if !wantImages || skip > 0 {
					break
				}
				src := resolve(base, attr(tok, "src"))
				if src == "" || seen[src] {
					break
				}
				seen[src] = true
				p.images = append(p.images, Image{URL: src, Alt: attr(tok, "alt")})
			}
			if skipped[tok.DataAtom] && tt == html.StartTagToken {
				skip++
			}
			if blocks[tok.DataAtom] {
				text.WriteByte('\n')
			}

		case html.EndTagToken:
			tok := z.Token()
			if tok.DataAtom == atom.Title {
				inTitle = false
			}
			if skipped[tok.DataAtom] && skip > 0 {
				skip--
			}
			if blocks[tok.DataAtom] {
				text.WriteByte('\n')
			}

		case html.TextToken:
			if inTitle {
				p.title += strings.TrimSpace(string(z.Text()))
				continue
			}
			if skip == 0 {
				text.Write(z.Text())
			}
		}
	}
}

func readMeta(tok html.Token, m *Metadata) {
	key := strings.ToLower(attr(tok, "name"))
	if key == "" {
		key = strings.ToLower(attr(tok, "property"))
	}
	content := strings.TrimSpace(attr(tok, "content"))
	if content == "" {
		return
	}
	switch key {
	case "description", "og:description":
		if m.Description == "" {
			m.Description = content
		}
	case "author", "article:author":
		if m.Author == "" {
			m.Author = content
		}
	case "og:site_name":
		m.SiteName = content
	case "og:title":
		m.Title = content
	case "article:published_time", "date":
		if m.Published == "" {
			m.Published = content
		}
	}
}

func attr(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	return u.String()
}

// normalizeText collapses runs of whitespace inside lines and drops blank
// lines.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
