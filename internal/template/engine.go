// Package template renders notification templates into channel content.
package template

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
)

var (
	// ErrMissingVariable is matched by every MissingVariableError.
	ErrMissingVariable = errors.New("missing template variable")
	// ErrInvalidVariable means a supplied value would leave a placeholder in the output.
	ErrInvalidVariable = errors.New("invalid template variable")
)

// SubjectSeparator joins subject and body on channels that carry a subject.
const SubjectSeparator = "\n\n"

// Any {{...}} token is a placeholder. Names that cannot be supplied never render.
var placeholderPattern = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// MissingVariableError names the first placeholder without a supplied value.
type MissingVariableError struct {
	Name string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("%s: %q", ErrMissingVariable.Error(), e.Name)
}

func (e *MissingVariableError) Is(target error) bool {
	return target == ErrMissingVariable
}

// Rendered is the output of a successful render.
type Rendered struct {
	Subject string
	Body    string
	Content string
}

// Render substitutes every {{name}} placeholder in subject and body in a
// single pass. It fails closed on the first placeholder without a value and
// on output that still holds a {{...}} token.
func Render(tpl domain.NotificationTemplate, vars map[string]string) (Rendered, error) {
	if name, ok := firstMissing(tpl.Subject, vars); ok {
		return Rendered{}, &MissingVariableError{Name: name}
	}
	if name, ok := firstMissing(tpl.Body, vars); ok {
		return Rendered{}, &MissingVariableError{Name: name}
	}

	subject := substitute(tpl.Subject, vars)
	body := substitute(tpl.Body, vars)
	for _, out := range []string{subject, body} {
		if token := placeholderPattern.FindString(out); token != "" {
			return Rendered{}, fmt.Errorf("%w: value renders as %s", ErrInvalidVariable, token)
		}
	}

	return Rendered{
		Subject: subject,
		Body:    body,
		Content: Compose(tpl.Channel, subject, body),
	}, nil
}

// Compose builds the channel payload: subject + separator + body where the
// channel carries a subject, the body alone otherwise.
func Compose(channel domain.Channel, subject string, body string) string {
	subject = strings.TrimSpace(subject)
	if !channel.HasSubject() || subject == "" {
		return body
	}
	return subject + SubjectSeparator + body
}

// Placeholders lists trimmed placeholder names in order of first appearance.
// An empty token such as {{ }} is reported as "".
func Placeholders(text string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

func firstMissing(text string, vars map[string]string) (string, bool) {
	for _, name := range Placeholders(text) {
		if name == "" {
			return name, true
		}
		if _, ok := vars[name]; !ok {
			return name, true
		}
	}
	return "", false
}

func substitute(text string, vars map[string]string) string {
	if text == "" {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(token string) string {
		name := strings.TrimSpace(placeholderPattern.FindStringSubmatch(token)[1])
		return vars[name]
	})
}
