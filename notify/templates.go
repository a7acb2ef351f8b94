package notify

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"strings"
	"time"

	"trading-alerts/api/models"
)

var emailLayout = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background: #0f172a; color: #e2e8f0; padding: 24px;">
  <div style="max-width: 560px; margin: 0 auto; background: #1e293b; border-radius: 8px; padding: 24px;">
    <p>Hola {{.Name}},</p>
    <h2 style="color: #38bdf8;">{{.Title}}</h2>
    {{range .Lines}}<p>{{.}}</p>
    {{end}}
    {{if .ActionURL}}<p><a href="{{.ActionURL}}" style="background: #38bdf8; color: #0f172a; padding: 10px 16px; border-radius: 6px; text-decoration: none;">{{.ActionLabel}}</a></p>{{end}}
    <hr style="border-color: #334155;">
    <p style="font-size: 12px; color: #94a3b8;">Recibes este correo porque tienes notificaciones por email activas. Puedes desactivarlas en {{.PreferencesURL}}</p>
  </div>
</body>
</html>`))

type emailView struct {
	Name           string
	Title          string
	Lines          []string
	ActionURL      string
	ActionLabel    string
	PreferencesURL string
}

func render(view emailView) (string, error) {
	var buf bytes.Buffer
	if err := emailLayout.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("error rendering email: %w", err)
	}
	return buf.String(), nil
}

func displayName(u *models.User) string {
	if u.Name != "" {
		return u.Name
	}
	if i := strings.Index(u.Email, "@"); i > 0 {
		return u.Email[:i]
	}
	return "trader"
}

// Templates renders outbound mail and chat messages.
type Templates struct {
	FrontendURL string
}

func (t Templates) url(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return t.FrontendURL + path
}

// NotificationEmail renders the fan-out mail for n addressed to u.
func (t Templates) NotificationEmail(n *models.Notification, u *models.User) (Email, error) {
	subject := n.Title
	if n.Service != "" {
		subject = fmt.Sprintf("[%s] %s", n.Service, n.Title)
	}
	body, err := render(emailView{
		Name:           displayName(u),
		Title:          n.Title,
		Lines:          strings.Split(n.Message, "\n"),
		ActionURL:      t.url(n.ActionURL),
		ActionLabel:    "Ver en la plataforma",
		PreferencesURL: t.url("/perfil"),
	})
	if err != nil {
		return Email{}, err
	}
	return Email{To: u.Email, Subject: subject, HTML: body, Text: n.Title + "\n\n" + n.Message}, nil
}

func (t Templates) TrialReminderEmail(u *models.User, sub models.Subscription, now time.Time) (Email, error) {
	days := int(sub.EndDate.Sub(now).Hours()/24 + 0.5)
	title := fmt.Sprintf("Tu prueba de %s termina en %d días", sub.Service, days)
	body, err := render(emailView{
		Name:  displayName(u),
		Title: title,
		Lines: []string{
			fmt.Sprintf("Tu acceso de prueba a %s vence el %s.", sub.Service, sub.EndDate.Format("02/01/2006")),
			"Suscríbete para seguir recibiendo las alertas sin interrupciones.",
		},
		ActionURL:      t.url("/suscripciones"),
		ActionLabel:    "Suscribirme",
		PreferencesURL: t.url("/perfil"),
	})
	if err != nil {
		return Email{}, err
	}
	return Email{To: u.Email, Subject: title, HTML: body, Text: title}, nil
}

func money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

func (t Templates) EnrollmentEmail(u *models.User, tr *models.MonthlyTraining) (Email, error) {
	title := "Inscripción confirmada: " + tr.Title
	lines := []string{"Tu lugar está reservado. Estas son las clases:"}
	for _, c := range tr.Classes {
		line := fmt.Sprintf("%s %s: %s", c.Date.Format("02/01/2006"), c.StartTime, c.Title)
		if c.MeetingLink != "" {
			line += " (" + c.MeetingLink + ")"
		}
		lines = append(lines, strings.TrimSpace(line))
	}
	body, err := render(emailView{
		Name:           displayName(u),
		Title:          title,
		Lines:          lines,
		ActionURL:      t.url("/entrenamientos/" + tr.ID.Hex()),
		ActionLabel:    "Ver entrenamiento",
		PreferencesURL: t.url("/perfil"),
	})
	if err != nil {
		return Email{}, err
	}
	return Email{To: u.Email, Subject: title, HTML: body, Text: title + "\n\n" + strings.Join(lines, "\n")}, nil
}

// AlertMessage describes an alert event, for both Telegram and notifications.
func AlertMessage(a *models.Alert, event models.AlertEvent) (title string, lines []string) {
	switch event {
	case models.AlertEventCreated:
		title = fmt.Sprintf("Nueva alerta %s %s", a.Action, a.Symbol)
		lines = []string{
			fmt.Sprintf("Entrada: %s", money(a.EntryPrice)),
			fmt.Sprintf("Stop loss: %s", money(a.StopLoss)),
			fmt.Sprintf("Take profit: %s", money(a.TakeProfit)),
		}
		if a.Analysis != "" {
			lines = append(lines, a.Analysis)
		}
	case models.AlertEventUpdated:
		title = fmt.Sprintf("Alerta %s actualizada", a.Symbol)
		lines = []string{
			fmt.Sprintf("Stop loss: %s", money(a.StopLoss)),
			fmt.Sprintf("Take profit: %s", money(a.TakeProfit)),
		}
	case models.AlertEventPartialSale:
		title = fmt.Sprintf("Venta parcial en %s", a.Symbol)
		if n := len(a.PartialSales); n > 0 {
			s := a.PartialSales[n-1]
			lines = []string{
				fmt.Sprintf("Vendido: %.2f%% de la posición a %s (%+.2f%%)", s.Percentage, money(s.Price), s.Profit),
				fmt.Sprintf("Posición restante: %.2f%%", a.Participation),
			}
		}
	case models.AlertEventClosed:
		title = fmt.Sprintf("Alerta %s cerrada", a.Symbol)
		lines = []string{
			fmt.Sprintf("Salida: %s", money(a.ExitPrice)),
			fmt.Sprintf("Resultado: %+.2f%%", a.Profit),
		}
	case models.AlertEventDiscarded:
		title = fmt.Sprintf("Alerta %s descartada", a.Symbol)
		lines = []string{"La alerta fue descartada antes de operarse."}
	default:
		title = fmt.Sprintf("Alerta %s", a.Symbol)
	}
	if a.ExitReason != "" && (event == models.AlertEventClosed || event == models.AlertEventDiscarded) {
		lines = append(lines, "Motivo: "+a.ExitReason)
	}
	return title, lines
}

// AlertTelegram formats an alert event as Telegram HTML.
func AlertTelegram(a *models.Alert, event models.AlertEvent) string {
	title, lines := AlertMessage(a, event)
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(title))
	fmt.Fprintf(&b, "<i>%s</i>\n\n", html.EscapeString(string(a.Service)))
	for _, l := range lines {
		b.WriteString(html.EscapeString(l))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
