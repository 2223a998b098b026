package triage

import "github.com/anac-tg/incident-desk/internal/domain"

// typeRule binds an incident type to the label keywords that suggest it.
type typeRule struct {
	incidentType domain.IncidentType
	keywords     []string
}

// typeRules is evaluated top to bottom; the first match wins.
// Debris-like tokens must be checked before generic equipment tokens.
var typeRules = []typeRule{
	{domain.IncidentTypeRunwayIncursion, []string{"runway", "aircraft on ground", "taxiway", "unauthorized", "piste", "incursion"}},
	{domain.IncidentTypeFOD, []string{"debris", "object", "metal", "tire", "tool", "fod", "debris sur piste"}},
	{domain.IncidentTypeBirdStrike, []string{"bird", "animal", "wildlife", "oiseau", "faune"}},
	{domain.IncidentTypeSecurityBreach, []string{"unauthorized access", "breach", "intrusion", "fence", "perimeter", "sécurité", "violation"}},
	{domain.IncidentTypeFacilityMaintenance, []string{"crack", "damage", "broken", "building", "structure", "infrastructure", "fissure", "endommagé"}},
	{domain.IncidentTypeGroundHandling, []string{"vehicle", "equipment", "tug", "loader", "baggage cart", "ground support", "véhicule", "équipement"}},
	{domain.IncidentTypePassengerSafety, []string{"medical", "injury", "ambulance", "emergency", "passenger", "médical", "blessure", "passager"}},
	{domain.IncidentTypeEnvironmental, []string{"trash", "waste", "spill", "pollution", "dirty", "déchet", "propreté"}},
}

// Keywords used when an image analysis is available. They are matched
// against the detected labels and the reporter's description.
var (
	imageCriticalKeywords = []string{
		"runway incursion", "aircraft collision", "fire", "flame", "explosion",
		"death", "fatality", "multiple injuries", "structural collapse",
		"incursion piste", "collision avion", "feu", "incendie", "mort", "effondrement",
	}

	imageHighKeywords = []string{
		"fod", "foreign object", "bird strike", "bird", "wildlife", "smoke", "injury",
		"medical emergency", "fuel spill", "hazardous material", "hazmat", "unauthorized access",
		"corps étranger", "péril animalier", "oiseau", "fumée", "blessure",
		"urgence médicale", "fuite carburant", "accès non autorisé",
	}

	imageMediumKeywords = []string{
		"equipment failure", "malfunction", "crack", "damage", "delay",
		"panne équipement", "dysfonctionnement", "fissure", "endommagé", "retard",
	}
)

// Keywords used on the description alone.
var (
	textCriticalKeywords = []string{
		"urgent", "critique", "grave", "danger", "risque", "vie", "mort", "feu",
		"incendie", "explosion", "effondrement", "inondation", "blessé",
	}

	textHighKeywords = []string{
		"important", "prioritaire", "accident", "fuite", "gaz", "bloqué",
	}
)

// imageTypePriority is the type-based fallback when no image keyword matched.
var imageTypePriority = map[domain.IncidentType]domain.Priority{
	domain.IncidentTypeRunwayIncursion:     domain.PriorityCritical,
	domain.IncidentTypeSecurityBreach:      domain.PriorityCritical,
	domain.IncidentTypeFOD:                 domain.PriorityHigh,
	domain.IncidentTypeBirdStrike:          domain.PriorityHigh,
	domain.IncidentTypePassengerSafety:     domain.PriorityHigh,
	domain.IncidentTypeFacilityMaintenance: domain.PriorityMedium,
	domain.IncidentTypeGroundHandling:      domain.PriorityMedium,
	domain.IncidentTypeEnvironmental:       domain.PriorityLow,
	domain.IncidentTypeOther:               domain.PriorityLow,
}

// textEscalatedTypes get HIGH on the description-only path.
var textEscalatedTypes = map[domain.IncidentType]bool{
	domain.IncidentTypeSecurityBreach:  true,
	domain.IncidentTypePassengerSafety: true,
	domain.IncidentTypeRunwayIncursion: true,
}
