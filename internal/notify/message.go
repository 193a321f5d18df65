package notify

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/vpnwatch/backend/internal/session"
)

const (
	DefaultLoginTemplate  = "{{.Identity}} 已登录 OpenVPN。登录IP: {{.Address}}"
	DefaultLogoutTemplate = "{{.Identity}} 已从 OpenVPN 登出。"
)

// MessageData is the value the message templates are executed against.
type MessageData struct {
	Identity  string
	SessionID string
	Address   string
	Duration  time.Duration // zero for logins
}

// Formatter renders transition messages from text templates.
type Formatter struct {
	login  *template.Template
	logout *template.Template
}

// NewFormatter parses the login and logout templates. Empty strings select
// the defaults.
func NewFormatter(login, logout string) (*Formatter, error) {
	if login == "" {
		login = DefaultLoginTemplate
	}
	if logout == "" {
		logout = DefaultLogoutTemplate
	}
	lt, err := template.New("login").Option("missingkey=error").Parse(login)
	if err != nil {
		return nil, fmt.Errorf("login template: %w", err)
	}
	ot, err := template.New("logout").Option("missingkey=error").Parse(logout)
	if err != nil {
		return nil, fmt.Errorf("logout template: %w", err)
	}
	return &Formatter{login: lt, logout: ot}, nil
}

// Format renders the message for ev. identity is the resolved label and
// now is used to compute the session duration for logouts.
func (f *Formatter) Format(ev session.Event, identity string, now time.Time) (string, error) {
	data := MessageData{
		Identity:  identity,
		SessionID: ev.Session.ID,
		Address:   ev.Session.Address,
	}
	tmpl := f.login
	if ev.Type == session.EventEnded {
		tmpl = f.logout
		data.Duration = ev.Session.ConnectedFor(now).Round(time.Second)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering %s message: %w", ev.Type, err)
	}
	return b.String(), nil
}
