package domain

import "time"

// IncidentType is the operational category of an airside incident.
type IncidentType string

const (
	IncidentTypeRunwayIncursion     IncidentType = "RUNWAY_INCURSION"
	IncidentTypeFOD                 IncidentType = "FOD"
	IncidentTypeBirdStrike          IncidentType = "BIRD_STRIKE"
	IncidentTypeSecurityBreach      IncidentType = "SECURITY_BREACH"
	IncidentTypeFacilityMaintenance IncidentType = "FACILITY_MAINTENANCE"
	IncidentTypeGroundHandling      IncidentType = "GROUND_HANDLING"
	IncidentTypePassengerSafety     IncidentType = "PASSENGER_SAFETY"
	IncidentTypeEnvironmental       IncidentType = "ENVIRONMENTAL"
	IncidentTypeOther               IncidentType = "OTHER"
)

// IncidentTypes lists every incident type in declaration order.
var IncidentTypes = []IncidentType{
	IncidentTypeRunwayIncursion,
	IncidentTypeFOD,
	IncidentTypeBirdStrike,
	IncidentTypeSecurityBreach,
	IncidentTypeFacilityMaintenance,
	IncidentTypeGroundHandling,
	IncidentTypePassengerSafety,
	IncidentTypeEnvironmental,
	IncidentTypeOther,
}

var incidentTypeLabels = map[IncidentType]string{
	IncidentTypeRunwayIncursion:     "Incursion sur piste",
	IncidentTypeFOD:                 "Débris / corps étranger (FOD)",
	IncidentTypeBirdStrike:          "Péril animalier",
	IncidentTypeSecurityBreach:      "Atteinte à la sûreté",
	IncidentTypeFacilityMaintenance: "Maintenance des installations",
	IncidentTypeGroundHandling:      "Assistance en escale",
	IncidentTypePassengerSafety:     "Sécurité des passagers",
	IncidentTypeEnvironmental:       "Environnement",
	IncidentTypeOther:               "Autre",
}

// IsValid reports whether t is a known incident type.
func (t IncidentType) IsValid() bool {
	_, ok := incidentTypeLabels[t]
	return ok
}

// Label returns the French display name of the type.
func (t IncidentType) Label() string {
	if l, ok := incidentTypeLabels[t]; ok {
		return l
	}
	return string(t)
}

// Priority is the triage priority. Wire values are French.
type Priority string

const (
	PriorityCritical Priority = "CRITIQUE"
	PriorityHigh     Priority = "ELEVEE"
	PriorityMedium   Priority = "MOYENNE"
	PriorityLow      Priority = "FAIBLE"
)

// Priorities lists every priority from most to least severe.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

var priorityRank = map[Priority]int{
	PriorityCritical: 4,
	PriorityHigh:     3,
	PriorityMedium:   2,
	PriorityLow:      1,
}

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	_, ok := priorityRank[p]
	return ok
}

// IsEscalated reports whether an incident with this priority must raise an alert.
func (p Priority) IsEscalated() bool {
	return p == PriorityCritical || p == PriorityHigh
}

// Rank orders priorities; higher is more severe. Unknown values rank 0.
func (p Priority) Rank() int {
	return priorityRank[p]
}

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentStatusPending    IncidentStatus = "EN_ATTENTE"
	IncidentStatusInProgress IncidentStatus = "EN_COURS"
	IncidentStatusResolved   IncidentStatus = "RESOLU"
	IncidentStatusRejected   IncidentStatus = "REJETE"
)

// IncidentStatuses lists every status in lifecycle order.
var IncidentStatuses = []IncidentStatus{
	IncidentStatusPending,
	IncidentStatusInProgress,
	IncidentStatusResolved,
	IncidentStatusRejected,
}

var terminalStatuses = map[IncidentStatus]bool{
	IncidentStatusPending:    false,
	IncidentStatusInProgress: false,
	IncidentStatusResolved:   true,
	IncidentStatusRejected:   true,
}

// IsValid reports whether s is a known status.
func (s IncidentStatus) IsValid() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s IncidentStatus) IsTerminal() bool {
	return terminalStatuses[s]
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Re-applying the current status is always allowed.
func (s IncidentStatus) CanTransitionTo(next IncidentStatus) bool {
	if !next.IsValid() {
		return false
	}
	if s == next {
		return true
	}
	return !s.IsTerminal()
}

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether both components are within range.
func (c Coordinates) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Incident is a reported airside event after triage.
type Incident struct {
	ID          string         `json:"id"`
	TrackingID  string         `json:"tracking_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Type        IncidentType   `json:"type"`
	Priority    Priority       `json:"priority"`
	Status      IncidentStatus `json:"status"`
	Location    *string        `json:"location,omitempty"`
	Coordinates *Coordinates   `json:"coordinates,omitempty"`
	PhotoPath   *string        `json:"photo_path,omitempty"`
	AIAnalysis  string         `json:"ai_analysis"`
	DeclarantID string         `json:"declarant_id"`
	AssigneeID  *string        `json:"assignee_id,omitempty"`
	Deleted     bool           `json:"-"`
	Revision    int            `json:"revision"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
}

// IncidentStats aggregates incident counts.
type IncidentStats struct {
	Total      int                    `json:"total"`
	ByStatus   map[IncidentStatus]int `json:"by_status"`
	ByPriority map[Priority]int       `json:"by_priority"`
	LastWeek   int                    `json:"last_7_days"`
}
