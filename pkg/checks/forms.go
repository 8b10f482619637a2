package checks

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/vulnscan/vulnscan/pkg/fetcher"
	"github.com/vulnscan/vulnscan/pkg/target"
)

const (
	maxForms      = 10
	maxFormFields = 20
)

// Field is one named form control.
type Field struct {
	Name  string
	Type  string // lowercased input type; "textarea" and "select" for those elements
	Value string
}

// Injectable reports whether a payload should replace the field value.
// Hidden fields, checkboxes and the like keep their values so the
// submission still passes server-side form handling.
func (f Field) Injectable() bool {
	switch f.Type {
	case "", "text", "search", "email", "url", "tel", "password", "textarea":
		return true
	}
	return false
}

// Form is an HTML form resolved against the page it was found on.
type Form struct {
	Action string // absolute URL
	Method string // GET or POST
	Fields []Field
}

// Values fills injectable fields with payload and keeps the rest.
func (f Form) Values(payload string) url.Values {
	v := make(url.Values, len(f.Fields))
	for _, field := range f.Fields {
		if field.Injectable() {
			v.Set(field.Name, payload)
		} else {
			v.Set(field.Name, field.Value)
		}
	}
	return v
}

// HasInjectable reports whether any field takes a payload.
func (f Form) HasInjectable() bool {
	for _, field := range f.Fields {
		if field.Injectable() {
			return true
		}
	}
	return false
}

// ExtractForms tokenizes body and returns the forms whose action stays on
// the target's origin. Malformed markup yields whatever was parsed before
// the error.
func ExtractForms(body []byte, t target.Target) []Form {
	var (
		forms   []Form
		current *Form
	)
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if current != nil {
				forms = appendForm(forms, *current, t)
			}
			return forms
		case html.EndTagToken:
			if current != nil && z.Token().DataAtom == atom.Form {
				forms = appendForm(forms, *current, t)
				current = nil
				if len(forms) >= maxForms {
					return forms
				}
			}
			continue
		case html.StartTagToken, html.SelfClosingTagToken:
		default:
			continue
		}

		tok := z.Token()
		switch tok.DataAtom {
		case atom.Form:
			if current != nil {
				forms = appendForm(forms, *current, t)
			}
			current = &Form{
				Action: attr(tok, "action"),
				Method: strings.ToUpper(strings.TrimSpace(attr(tok, "method"))),
			}
		case atom.Input, atom.Textarea, atom.Select:
			if current == nil || len(current.Fields) >= maxFormFields {
				continue
			}
			name := attr(tok, "name")
			if name == "" {
				continue
			}
			typ := strings.ToLower(strings.TrimSpace(attr(tok, "type")))
			switch tok.DataAtom {
			case atom.Textarea:
				typ = "textarea"
			case atom.Select:
				typ = "select"
			}
			switch typ {
			case "submit", "button", "reset", "image", "file":
				continue
			}
			current.Fields = append(current.Fields, Field{Name: name, Type: typ, Value: attr(tok, "value")})
		}
	}
}

func appendForm(forms []Form, f Form, t target.Target) []Form {
	if len(f.Fields) == 0 || len(forms) >= maxForms {
		return forms
	}
	action := t.ResolveReference(f.Action)
	if action.Scheme != t.Scheme() || !strings.EqualFold(action.Host, t.Host()) {
		return forms
	}
	action.Fragment = ""
	f.Action = action.String()
	if f.Method != http.MethodPost {
		f.Method = http.MethodGet
	}
	return append(forms, f)
}

func attr(t html.Token, name string) string {
	for _, a := range t.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// request returns the URL and fetch options that send values through f.
func (f Form) request(values url.Values) (string, fetcher.Options) {
	if f.Method == http.MethodPost {
		return f.Action, fetcher.Options{Method: http.MethodPost, Form: values}
	}
	u, err := url.Parse(f.Action)
	if err != nil {
		return f.Action, fetcher.Options{}
	}
	q := u.Query()
	for k, vs := range values {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), fetcher.Options{}
}
