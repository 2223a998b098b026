// Package triage classifies incidents from image labels and free text.
//
// Every function here is pure and deterministic: the same inputs always
// produce the same type, priority and report.
package triage

import (
	"strings"

	"github.com/anac-tg/incident-desk/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// fold lower-cases s with French rules and normalizes it to NFC so that
// precomposed and combining accents compare equal.
func fold(s string) string {
	return norm.NFC.String(cases.Lower(language.French).String(s))
}

// keywordTables lists every keyword slice matched by containsAny.
func keywordTables() [][]string {
	tables := [][]string{
		imageCriticalKeywords, imageHighKeywords, imageMediumKeywords,
		textCriticalKeywords, textHighKeywords,
	}
	for _, rule := range typeRules {
		tables = append(tables, rule.keywords)
	}
	return tables
}

// Keywords are folded once so containsAny only folds the input text.
func init() {
	for _, table := range keywordTables() {
		for i, k := range table {
			table[i] = fold(k)
		}
	}
}

// containsAny reports whether folded text contains one of keywords.
func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func labelText(result *domain.AnalysisResult) string {
	parts := make([]string, 0, len(result.Labels))
	for _, l := range result.Labels {
		parts = append(parts, l.Label)
	}
	return fold(strings.Join(parts, " "))
}

// SuggestType infers an incident type from image labels.
// A failed or missing analysis yields OTHER.
func SuggestType(result *domain.AnalysisResult) domain.IncidentType {
	if !result.Succeeded() {
		return domain.IncidentTypeOther
	}

	labels := labelText(result)
	for _, rule := range typeRules {
		if containsAny(labels, rule.keywords) {
			return rule.incidentType
		}
	}
	return domain.IncidentTypeOther
}

// AssessPriorityWithImage derives a priority from image labels, the
// description and the resolved type. Keyword matches take precedence
// over the type fallback.
func AssessPriorityWithImage(result *domain.AnalysisResult, description string, incidentType domain.IncidentType) domain.Priority {
	if !result.Succeeded() {
		return domain.PriorityMedium
	}

	text := labelText(result) + " " + fold(description)

	switch {
	case containsAny(text, imageCriticalKeywords):
		return domain.PriorityCritical
	case containsAny(text, imageHighKeywords):
		return domain.PriorityHigh
	}

	if p, ok := imageTypePriority[incidentType]; ok {
		return p
	}

	if containsAny(text, imageMediumKeywords) {
		return domain.PriorityMedium
	}
	return domain.PriorityLow
}

// AssessPriorityWithoutImage derives a priority from the description and type only.
func AssessPriorityWithoutImage(description string, incidentType domain.IncidentType) domain.Priority {
	text := fold(description)

	switch {
	case containsAny(text, textCriticalKeywords):
		return domain.PriorityCritical
	case containsAny(text, textHighKeywords):
		return domain.PriorityHigh
	case textEscalatedTypes[incidentType]:
		return domain.PriorityHigh
	default:
		return domain.PriorityMedium
	}
}
