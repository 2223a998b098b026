// Package alerts delivers e-mail alerts for high and critical incidents.
package alerts

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/anac-tg/incident-desk/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

const (
	alertTemplate   = "templates/incident_alert.html.tmpl"
	unknownLocation = "Non spécifié"
	dateLayout      = "02/01/2006 à 15:04"
)

var priorityColors = map[domain.Priority]string{
	domain.PriorityCritical: "#DC2626",
	domain.PriorityHigh:     "#EA580C",
	domain.PriorityMedium:   "#F59E0B",
	domain.PriorityLow:      "#10B981",
}

var priorityLabels = map[domain.Priority]string{
	domain.PriorityCritical: "CRITIQUE",
	domain.PriorityHigh:     "ÉLEVÉE",
	domain.PriorityMedium:   "MOYENNE",
	domain.PriorityLow:      "FAIBLE",
}

var upper = cases.Upper(language.French)

// Message is a rendered alert ready to send.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
}

// alertView is the data passed to the HTML template.
type alertView struct {
	Title         string
	Description   string
	TypeLabel     string
	PriorityLabel string
	Color         string
	Location      string
	Date          string
	TrackingID    string
}

// Renderer renders incident alerts.
type Renderer struct {
	tmpl     *template.Template
	location *time.Location
}

// NewRenderer parses the embedded template. Dates are shown in loc; nil means UTC.
func NewRenderer(loc *time.Location) (*Renderer, error) {
	if loc == nil {
		loc = time.UTC
	}
	tmpl, err := template.ParseFS(templatesFS, alertTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse alert template: %w", err)
	}
	return &Renderer{tmpl: tmpl, location: loc}, nil
}

// Subject returns the alert subject line.
func Subject(inc *domain.Incident) string {
	return fmt.Sprintf("🚨 ALERTE - Incident %s - %s", PriorityLabel(inc.Priority), inc.Title)
}

// PriorityLabel returns the French display label of p.
func PriorityLabel(p domain.Priority) string {
	if label, ok := priorityLabels[p]; ok {
		return label
	}
	return string(p)
}

// PriorityColor returns the hex color associated with p.
func PriorityColor(p domain.Priority) string {
	if color, ok := priorityColors[p]; ok {
		return color
	}
	return priorityColors[domain.PriorityMedium]
}

// Render builds the subject and HTML body for inc.
func (r *Renderer) Render(inc *domain.Incident) (subject, body string, err error) {
	location := unknownLocation
	if inc.Location != nil && strings.TrimSpace(*inc.Location) != "" {
		location = *inc.Location
	}

	view := alertView{
		Title:         inc.Title,
		Description:   inc.Description,
		TypeLabel:     upper.String(inc.Type.Label()),
		PriorityLabel: PriorityLabel(inc.Priority),
		Color:         PriorityColor(inc.Priority),
		Location:      location,
		Date:          inc.CreatedAt.In(r.location).Format(dateLayout),
		TrackingID:    inc.TrackingID,
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "incident_alert.html.tmpl", view); err != nil {
		return "", "", fmt.Errorf("render alert: %w", err)
	}
	return Subject(inc), buf.String(), nil
}
