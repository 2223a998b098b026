package triage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anac-tg/incident-desk/internal/domain"
)

const reportTopLabels = 5

type gravity struct {
	headline string
	lines    []string
}

var gravityByPriority = map[domain.Priority]gravity{
	domain.PriorityCritical: {
		headline: "🔴 SITUATION CRITIQUE DÉTECTÉE",
		lines: []string{
			"Danger immédiat pour la sécurité ou la vie",
			"Intervention urgente requise",
			"Mobilisation immédiate des services d'urgence recommandée",
		},
	},
	domain.PriorityHigh: {
		headline: "🟠 SITUATION SÉRIEUSE",
		lines: []string{
			"Risque significatif identifié",
			"Intervention rapide nécessaire (sous 24-48h)",
			"Surveillance accrue recommandée",
		},
	},
	domain.PriorityMedium: {
		headline: "🟡 SITUATION À SURVEILLER",
		lines: []string{
			"Problème nécessitant une attention",
			"Intervention dans un délai raisonnable (3-7 jours)",
			"Pas de danger immédiat identifié",
		},
	},
	domain.PriorityLow: {
		headline: "🟢 SITUATION MINEURE",
		lines: []string{
			"Problème d'inconfort ou esthétique",
			"Peut être traité selon la planification normale",
			"Aucun risque immédiat",
		},
	},
}

var securePerimeter = []string{
	"Sécuriser le périmètre immédiatement",
	"Signaler aux autorités OACI compétentes",
	"Éviter l'accès à la zone concernée",
}

var recommendationsByType = map[domain.IncidentType][]string{
	domain.IncidentTypeRunwayIncursion: securePerimeter,
	domain.IncidentTypeSecurityBreach:  securePerimeter,
	domain.IncidentTypeFacilityMaintenance: {
		"Évaluer les dommages structurels",
		"Mettre en place une signalisation temporaire",
		"Planifier les travaux de réparation",
	},
	domain.IncidentTypeEnvironmental: {
		"Identifier la source de pollution",
		"Évaluer l'impact environnemental",
		"Prévoir un nettoyage approprié",
	},
	domain.IncidentTypePassengerSafety: {
		"Contacter les services de santé",
		"Assurer la sécurité des passagers",
		"Suivre les protocoles médicaux OACI",
	},
	domain.IncidentTypeFOD: {
		"Inspecter immédiatement la zone opérationnelle",
		"Retirer tout corps étranger détecté",
		"Vérifier l'intégrité des surfaces",
	},
	domain.IncidentTypeBirdStrike: {
		"Évaluer les dégâts potentiels sur les aéronefs",
		"Activer le plan de gestion de la faune",
		"Documenter l'incident selon OACI Annexe 14",
	},
	domain.IncidentTypeGroundHandling: {
		"Évaluer l'impact sur les opérations au sol",
		"Coordonner avec les équipes de handling",
		"Vérifier les équipements GSE",
	},
	domain.IncidentTypeOther: {
		"Analyser la situation en détail",
		"Déterminer les ressources nécessaires",
		"Établir un plan d'action conforme OACI",
	},
}

var (
	urgentActions = []string{
		"Assigner immédiatement à un technicien qualifié",
		"Informer les responsables et parties prenantes",
		"Mobiliser les ressources nécessaires",
		"Mettre en place un suivi en temps réel",
	}
	routineActions = []string{
		"Ajouter à la file d'attente de traitement",
		"Planifier l'intervention selon les priorités",
		"Rassembler les informations complémentaires si nécessaire",
	}
)

var typeActions = map[domain.IncidentType]string{
	domain.IncidentTypeRunwayIncursion:     "Coordonner avec les forces de sécurité aéroportuaire",
	domain.IncidentTypeSecurityBreach:      "Coordonner avec les forces de sécurité aéroportuaire",
	domain.IncidentTypeFacilityMaintenance: "Évaluer par un ingénieur qualifié OACI",
	domain.IncidentTypeEnvironmental:       "Consulter un expert environnemental aviation",
	domain.IncidentTypePassengerSafety:     "Impliquer les services sanitaires et médicaux",
	domain.IncidentTypeFOD:                 "Déployer équipe FOD avec inspection complète",
	domain.IncidentTypeBirdStrike:          "Activer protocole wildlife management",
	domain.IncidentTypeGroundHandling:      "Coordonner avec les équipes handling et GSE",
	domain.IncidentTypeOther:               "Déterminer les expertises requises selon OACI",
}

// RenderReport builds the human-readable triage report stored with the incident.
// result may be nil or a failure, in which case the image section is omitted.
func RenderReport(result *domain.AnalysisResult, description string, incidentType domain.IncidentType, priority domain.Priority, now time.Time) string {
	var b strings.Builder

	b.WriteString("=== ANALYSE IA DE L'INCIDENT ===\n\n")

	if result.Succeeded() {
		b.WriteString("📸 ANALYSE DE L'IMAGE:\n")
		if top := topLabels(result.Labels, reportTopLabels); len(top) > 0 {
			b.WriteString("Éléments détectés:\n")
			for _, l := range top {
				fmt.Fprintf(&b, "  • %s (confiance: %.1f%%)\n", l.Label, l.Score*100)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("🏷️ CLASSIFICATION:\n")
	fmt.Fprintf(&b, "  • Type: %s\n", incidentType)
	fmt.Fprintf(&b, "  • Priorité: %s\n\n", priority)

	b.WriteString("⚠️ ÉVALUATION DE LA GRAVITÉ:\n")
	writeGravity(&b, result, description, priority)
	b.WriteString("\n")

	b.WriteString("💡 RECOMMANDATIONS:\n")
	recs, ok := recommendationsByType[incidentType]
	if !ok {
		recs = recommendationsByType[domain.IncidentTypeOther]
	}
	writeBullets(&b, recs)
	if priority == domain.PriorityCritical &&
		(incidentType == domain.IncidentTypeRunwayIncursion || incidentType == domain.IncidentTypeSecurityBreach) {
		writeBullets(&b, []string{"Évacuer si nécessaire"})
	}
	b.WriteString("\n")

	b.WriteString("✓ ACTIONS SUGGÉRÉES:\n")
	actions := routineActions
	if priority.IsEscalated() {
		actions = urgentActions
	}
	specific, ok := typeActions[incidentType]
	if !ok {
		specific = typeActions[domain.IncidentTypeOther]
	}
	for i, a := range append(append([]string{}, actions...), specific) {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, a)
	}

	b.WriteString("\n---\n")
	b.WriteString("Analyse générée le: ")
	b.WriteString(now.Format("02/01/2006 15:04:05"))

	return b.String()
}

func writeGravity(b *strings.Builder, result *domain.AnalysisResult, description string, priority domain.Priority) {
	g, ok := gravityByPriority[priority]
	if !ok {
		g = gravityByPriority[domain.PriorityMedium]
	}
	b.WriteString("  " + g.headline + "\n")
	writeBullets(b, g.lines)

	if priority != domain.PriorityCritical {
		return
	}

	labels := ""
	if result.Succeeded() {
		labels = labelText(result)
	}
	desc := fold(description)

	if strings.Contains(labels, "fire") || containsAny(desc, []string{"feu", "incendie", "fire"}) {
		writeBullets(b, []string{"Risque d'incendie détecté - contacter les pompiers"})
	}
	if strings.Contains(labels, "injury") || containsAny(desc, []string{"blessé", "injury"}) {
		writeBullets(b, []string{"Présence de blessés - contacter les services médicaux"})
	}
}

func writeBullets(b *strings.Builder, lines []string) {
	for _, l := range lines {
		b.WriteString("  • " + l + "\n")
	}
}

// topLabels returns up to n labels ordered by descending score.
func topLabels(labels []domain.Label, n int) []domain.Label {
	sorted := make([]domain.Label, len(labels))
	copy(sorted, labels)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
