package mailout

import (
	"strings"
	"time"
)

// Template is a named, reusable email layout. Subject and bodies may contain
// {{key}} placeholders substituted at render time.
type Template struct {
	// Name uniquely identifies the template and is immutable after creation.
	Name string
	// Subject is the subject template. Required.
	Subject string
	// HTMLBody is the optional HTML body template.
	HTMLBody string
	// TextBody is the optional plain-text body template.
	TextBody string
	// FromAddress is the optional default sender address.
	FromAddress string
	// FromName is the optional default sender display name.
	FromName string
	// Active controls whether new messages may be enqueued from this template.
	// Inactive templates remain readable; past messages keep their snapshot.
	Active bool
	// CreatedBy optionally records the creating actor.
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TemplateUpdate describes a partial template update. Nil fields are left
// unchanged; the name cannot be updated.
type TemplateUpdate struct {
	Subject     *string
	HTMLBody    *string
	TextBody    *string
	FromAddress *string
	FromName    *string
	Active      *bool
}

// Content is the rendered output of a template for one message.
type Content struct {
	Subject  string
	HTMLBody string
	TextBody string
}

// Validate checks required template fields.
func (t Template) Validate() error {
	if t.Name == "" {
		return ErrTemplateNameRequired
	}
	if t.Subject == "" {
		return ErrSubjectRequired
	}
	if t.HTMLBody == "" && t.TextBody == "" {
		return ErrBodyRequired
	}

	return nil
}

// Render substitutes {{key}} placeholders in the subject and bodies.
// It is pure: identical (template, vars) input yields identical output.
// A placeholder with no entry in vars fails with MissingVariableError.
func (t Template) Render(vars map[string]string) (Content, error) {
	subject, err := renderText(t.Subject, vars)
	if err != nil {
		return Content{}, err
	}
	html, err := renderText(t.HTMLBody, vars)
	if err != nil {
		return Content{}, err
	}
	text, err := renderText(t.TextBody, vars)
	if err != nil {
		return Content{}, err
	}

	return Content{Subject: subject, HTMLBody: html, TextBody: text}, nil
}

// renderText replaces each {{key}} occurrence with vars[key]. Surrounding
// whitespace inside the braces is ignored ({{ key }} equals {{key}}). An
// unterminated opening brace pair is kept as literal text.
func renderText(text string, vars map[string]string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	var out strings.Builder
	out.Grow(len(text))

	for {
		open := strings.Index(text, "{{")
		if open < 0 {
			out.WriteString(text)

			return out.String(), nil
		}

		close := strings.Index(text[open:], "}}")
		if close < 0 {
			out.WriteString(text)

			return out.String(), nil
		}
		close += open

		key := strings.TrimSpace(text[open+2 : close])
		value, ok := vars[key]
		if !ok {
			return "", &MissingVariableError{Key: key}
		}

		out.WriteString(text[:open])
		out.WriteString(value)
		text = text[close+2:]
	}
}
