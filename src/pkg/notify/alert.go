package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"

	"safe-bite/src/pkg/analysis"
	"safe-bite/src/pkg/config"
	"safe-bite/src/pkg/geo"
)

/*
Notifier emails allergen alerts and reports to the configured recipients,
typically a travel companion or the user's own inbox.
*/
type Notifier struct {
	Provider   Provider
	Sender     string
	Recipients []string
	Enabled    bool
	Send       SendFunc // nil means the provider's own
}

func New(cfg config.NotifyConfig) *Notifier {
	return &Notifier{
		Provider:   Provider(cfg.Provider),
		Sender:     cfg.Sender,
		Recipients: cfg.Recipients,
		Enabled:    cfg.Enabled,
	}
}

var alertTemplate = template.Must(template.New("alert").Parse(`<html><body style="font-family:sans-serif">
<h2 style="color:#c62828">{{.Title}}</h2>
<p>{{.Explanation}}</p>
{{if .Matched}}<p><b>Allergens:</b> {{.Matched}}</p>{{end}}
{{if .Place}}<p><b>Where:</b> {{.Place}}</p>{{end}}
{{if .StaffQuestion}}<p><b>Ask the staff:</b> {{.StaffQuestion}}</p>{{end}}
</body></html>`))

type alertView struct {
	Title         string
	Explanation   string
	Matched       string
	Place         string
	StaffQuestion string
}

// AllergenAlert emails a short warning about an unsafe result.
func (n *Notifier) AllergenAlert(ctx context.Context, result *analysis.Result, location *geo.LocationContext) (e *xerr.Error) {
	if !n.Enabled || result == nil {
		return nil
	}

	name := result.DishNameEnglish
	if name == "" {
		name = result.DishName
	}
	view := alertView{
		Title:         fmt.Sprintf("Allergen alert: %s", name),
		Explanation:   result.Explanation,
		Matched:       strings.Join(result.MatchedAllergens, ", "),
		StaffQuestion: result.StaffQuestion,
	}
	if location != nil {
		view.Place = location.FormattedAddress
	}

	var html bytes.Buffer
	err := alertTemplate.Execute(&html, view)
	if err != nil {
		return xerr.NewError(err, "render allergen alert", name)
	}

	text := view.Title + "\n\n" + view.Explanation
	if view.Matched != "" {
		text += "\nAllergens: " + view.Matched
	}
	if view.Place != "" {
		text += "\nWhere: " + view.Place
	}

	tl.Log(tl.Notice, palette.PurpleBold, "%s for '%s' (%s)", "Sending allergen alert", name, view.Matched)
	return n.send(ctx, Message{Sender: n.Sender, Recipients: n.Recipients, Subject: view.Title, Text: text, HTML: html.String()})
}

// SendReport emails an already rendered HTML report.
func (n *Notifier) SendReport(ctx context.Context, subject string, html string, sendEmails bool) (e *xerr.Error) {
	message := Message{Sender: n.Sender, Recipients: n.Recipients, Subject: subject, Text: subject, HTML: html}
	if !sendEmails {
		return SendMessage(ctx, n.Provider, false, message)
	}
	return n.send(ctx, message)
}

func (n *Notifier) send(ctx context.Context, message Message) (e *xerr.Error) {
	if n.Send == nil {
		return SendMessage(ctx, n.Provider, true, message)
	}
	if len(message.Recipients) == 0 {
		return xerr.NewError(fmt.Errorf("no recipients"), "send email", message.Subject)
	}
	return n.Send(ctx, message)
}
