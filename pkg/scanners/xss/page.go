package xss

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Form is an HTML form found on the target page.
type Form struct {
	Action string // resolved against the page URL
	Method string // "get" or "post"
	Fields []Field
}

// Field is a named form control.
type Field struct {
	Name string
	Tag  string // input, textarea, select
	Type string // input type, lowercased
}

// TextLike reports whether the field accepts free text.
func (f Field) TextLike() bool {
	switch f.Tag {
	case "textarea":
		return true
	case "input":
		switch f.Type {
		case "", "text", "search", "email", "url", "tel", "password":
			return true
		}
	}
	return false
}

// EventHandler is an on* attribute on an element.
type EventHandler struct {
	Tag   string
	Attr  string
	Value string
}

// Page is what the passive checks and the prober need from a document.
type Page struct {
	Scripts  []string // inline script bodies
	Handlers []EventHandler
	Forms    []Form
}

// ParsePage tokenizes an HTML document. Malformed markup is parsed as far
// as the tokenizer allows; base resolves form actions.
func ParsePage(r io.Reader, base *url.URL) *Page {
	page := &Page{}
	z := html.NewTokenizer(r)

	var (
		inScript bool
		script   strings.Builder
		form     *Form
	)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if form != nil {
				page.Forms = append(page.Forms, *form)
			}
			return page

		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			name := t.DataAtom.String()
			if name == "" {
				name = t.Data
			}

			for _, a := range t.Attr {
				if strings.HasPrefix(strings.ToLower(a.Key), "on") {
					page.Handlers = append(page.Handlers, EventHandler{Tag: name, Attr: strings.ToLower(a.Key), Value: a.Val})
				}
			}

			switch name {
			case "script":
				if tt == html.StartTagToken && attr(t, "src") == "" {
					inScript = true
					script.Reset()
				}
			case "form":
				if form != nil {
					page.Forms = append(page.Forms, *form)
				}
				form = &Form{
					Action: resolve(base, attr(t, "action")),
					Method: strings.ToLower(attr(t, "method")),
				}
				if form.Method != "post" {
					form.Method = "get"
				}
			case "input", "textarea", "select":
				if form == nil {
					continue
				}
				if n := attr(t, "name"); n != "" {
					form.Fields = append(form.Fields, Field{Name: n, Tag: name, Type: strings.ToLower(attr(t, "type"))})
				}
			}

		case html.EndTagToken:
			t := z.Token()
			switch t.DataAtom.String() {
			case "script":
				if inScript {
					page.Scripts = append(page.Scripts, script.String())
					inScript = false
				}
			case "form":
				if form != nil {
					page.Forms = append(page.Forms, *form)
					form = nil
				}
			}

		case html.TextToken:
			if inScript {
				script.Write(z.Text())
			}
		}
	}
}

func attr(t html.Token, key string) string {
	for _, a := range t.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	if strings.TrimSpace(ref) == "" {
		return base.String()
	}
	u, err := base.Parse(strings.TrimSpace(ref))
	if err != nil {
		return base.String()
	}
	return u.String()
}
