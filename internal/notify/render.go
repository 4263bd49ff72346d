package notify

import (
	"bytes"
	"fmt"
	htmlTemplate "html/template"
	"sort"
	textTemplate "text/template"
)

const (
	subjectTemplate = `New lead for {{.CampaignName}}{{if .LeadName}}: {{.LeadName}}{{end}}`

	textTemplateBody = `{{.CampaignName}} has a new completed lead.

Email: {{.LeadEmail}}
{{- if .LeadName}}
Name:  {{.LeadName}}{{end}}
{{- if .LeadPhone}}
Phone: {{.LeadPhone}}{{end}}
Completed: {{.CompletedAt.Format "2006-01-02 15:04 MST"}}
{{if .Answers}}
Answers:
{{range .Answers}}- {{.Question}}: {{.Value}}
{{end}}{{end}}
{{- if .Outputs}}
Results:
{{range .Outputs}}- {{.Name}}: {{.Value}}
{{end}}{{end}}
{{- if .DashboardURL}}
View all leads: {{.DashboardURL}}
{{end}}`

	htmlTemplateBody = `<p><strong>{{.CampaignName}}</strong> has a new completed lead.</p>
<table>
<tr><td>Email</td><td>{{.LeadEmail}}</td></tr>
{{if .LeadName}}<tr><td>Name</td><td>{{.LeadName}}</td></tr>{{end}}
{{if .LeadPhone}}<tr><td>Phone</td><td>{{.LeadPhone}}</td></tr>{{end}}
</table>
{{if .Answers}}<h3>Answers</h3><ul>{{range .Answers}}<li>{{.Question}}: {{.Value}}</li>{{end}}</ul>{{end}}
{{if .Outputs}}<h3>Results</h3><ul>{{range .Outputs}}<li>{{.Name}}: {{.Value}}</li>{{end}}</ul>{{end}}
{{if .DashboardURL}}<p><a href="{{.DashboardURL}}">View all leads</a></p>{{end}}
`
)

var (
	subjectTmpl = textTemplate.Must(textTemplate.New("subject").Parse(subjectTemplate))
	textTmpl    = textTemplate.Must(textTemplate.New("text").Parse(textTemplateBody))
	htmlTmpl    = htmlTemplate.Must(htmlTemplate.New("html").Parse(htmlTemplateBody))
)

type output struct {
	Name  string
	Value string
}

// Rendered is a notification ready to be wrapped in a message.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

// Render fills the notification templates. Output variables are listed in
// name order.
func Render(n LeadNotice) (*Rendered, error) {
	names := make([]string, 0, len(n.Outputs))
	for k := range n.Outputs {
		names = append(names, k)
	}
	sort.Strings(names)
	outputs := make([]output, len(names))
	for i, k := range names {
		outputs[i] = output{Name: k, Value: n.Outputs[k]}
	}

	data := struct {
		LeadNotice
		Outputs []output
	}{n, outputs}

	var subject, text, html bytes.Buffer
	if err := subjectTmpl.Execute(&subject, data); err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}
	if err := textTmpl.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("failed to render text: %w", err)
	}
	if err := htmlTmpl.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("failed to render html: %w", err)
	}

	return &Rendered{Subject: subject.String(), Text: text.String(), HTML: html.String()}, nil
}
