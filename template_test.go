package mailout

import (
	"errors"
	"testing"
)

func TestTemplateValidate(t *testing.T) {
	cases := []struct {
		name string
		tpl  Template
		err  error
	}{
		{
			name: "missing name",
			tpl:  Template{Subject: "s", TextBody: "b"},
			err:  ErrTemplateNameRequired,
		},
		{
			name: "missing subject",
			tpl:  Template{Name: "welcome_email", TextBody: "b"},
			err:  ErrSubjectRequired,
		},
		{
			name: "missing bodies",
			tpl:  Template{Name: "welcome_email", Subject: "s"},
			err:  ErrBodyRequired,
		},
		{
			name: "valid with text body",
			tpl:  Template{Name: "welcome_email", Subject: "s", TextBody: "b"},
			err:  nil,
		},
		{
			name: "valid with html body",
			tpl:  Template{Name: "welcome_email", Subject: "s", HTMLBody: "<p>b</p>"},
			err:  nil,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := tc.tpl.Validate()
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
		})
	}
}

func TestTemplateRender(t *testing.T) {
	tpl := Template{
		Name:     "welcome_email",
		Subject:  "Welcome, {{userName}}!",
		HTMLBody: "<p>Hello {{userName}}, your plan is {{ plan }}.</p>",
		TextBody: "Hello {{userName}}.",
	}

	content, err := tpl.Render(map[string]string{"userName": "Alice", "plan": "pro"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if content.Subject != "Welcome, Alice!" {
		t.Fatalf("unexpected subject: %s", content.Subject)
	}
	if content.HTMLBody != "<p>Hello Alice, your plan is pro.</p>" {
		t.Fatalf("unexpected html body: %s", content.HTMLBody)
	}
	if content.TextBody != "Hello Alice." {
		t.Fatalf("unexpected text body: %s", content.TextBody)
	}
}

func TestTemplateRenderDeterministic(t *testing.T) {
	tpl := Template{Name: "t", Subject: "{{a}}-{{b}}-{{a}}", TextBody: "{{b}}"}
	vars := map[string]string{"a": "1", "b": "2"}

	first, err := tpl.Render(vars)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	second, err := tpl.Render(vars)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical output, got %+v and %+v", first, second)
	}
	if first.Subject != "1-2-1" {
		t.Fatalf("unexpected subject: %s", first.Subject)
	}
}

func TestTemplateRenderMissingVariable(t *testing.T) {
	tpl := Template{Name: "t", Subject: "Hi {{userName}}", TextBody: "b"}

	_, err := tpl.Render(map[string]string{})
	if !errors.Is(err, ErrMissingVariable) {
		t.Fatalf("expected missing variable error, got %v", err)
	}

	var missing *MissingVariableError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingVariableError, got %T", err)
	}
	if missing.Key != "userName" {
		t.Fatalf("unexpected key: %s", missing.Key)
	}
}

func TestTemplateRenderLiterals(t *testing.T) {
	cases := []struct {
		name string
		in   string
		vars map[string]string
		out  string
	}{
		{
			name: "no placeholders",
			in:   "plain text",
			out:  "plain text",
		},
		{
			name: "unterminated braces kept literal",
			in:   "broken {{userName",
			out:  "broken {{userName",
		},
		{
			name: "empty string",
			in:   "",
			out:  "",
		},
		{
			name: "adjacent placeholders",
			in:   "{{a}}{{b}}",
			vars: map[string]string{"a": "x", "b": "y"},
			out:  "xy",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := renderText(tc.in, tc.vars)
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			if got != tc.out {
				t.Fatalf("expected %q, got %q", tc.out, got)
			}
		})
	}
}
