package incidents

import (
	"context"
	"time"

	"github.com/anac-tg/incident-desk/internal/domain"
)

// Repository defines the interface for incident storage.
type Repository interface {
	Create(ctx context.Context, incident *domain.Incident) error
	GetByID(ctx context.Context, id string) (*domain.Incident, error)
	GetByTrackingID(ctx context.Context, trackingID string) (*domain.Incident, error)
	List(ctx context.Context, filter ListFilter) ([]*domain.Incident, int, error)
	// Update persists incident if its stored revision still equals expectedRevision.
	// On success incident.Revision and incident.UpdatedAt are refreshed.
	Update(ctx context.Context, incident *domain.Incident, expectedRevision int) error
	Delete(ctx context.Context, id string) error

	Stats(ctx context.Context, since time.Time) (*domain.IncidentStats, error)
	CountByType(ctx context.Context) (map[domain.IncidentType]int, error)
	CountByPriority(ctx context.Context) (map[domain.Priority]int, error)
}

// ListFilter holds filter options for listing incidents.
type ListFilter struct {
	Type        *domain.IncidentType
	Status      *domain.IncidentStatus
	Priority    *domain.Priority
	DeclarantID *string
	AssigneeID  *string
	From        *time.Time
	To          *time.Time
	Query       string // case-insensitive match on title or description
	Limit       int
	Offset      int
}
