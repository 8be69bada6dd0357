package email

import (
	_ "embed"
	"html/template"
	"strings"
	"time"
)

var (
	//go:embed change.html
	changeHTML     string
	changeTemplate = template.Must(template.New("change.html").Parse(changeHTML))
)

func mustFillTemplate(tmpl *template.Template, values any) string {
	buf := new(strings.Builder)
	err := tmpl.Execute(buf, values)
	if err != nil {
		return ""
	}
	return buf.String()
}

// ChangeEmailFormat holds what the change email shows. Test marks a
// channel test, which has no server details.
type ChangeEmailFormat struct {
	Subject          string
	Summary          string
	Description      string
	SubscriptionName string
	ServerName       string
	ChangeType       string
	PreviousVersion  string
	NewVersion       string
	Timestamp        time.Time
	Test             bool
}

func (ef *ChangeEmailFormat) HTMLBody() string {
	return mustFillTemplate(changeTemplate, ef)
}

// TextBody is the plain-text alternative derived from the HTML body.
func (ef *ChangeEmailFormat) TextBody() string {
	return PlainText(ef.HTMLBody())
}
