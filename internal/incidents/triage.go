package incidents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anac-tg/incident-desk/internal/domain"
	"github.com/anac-tg/incident-desk/internal/photos"
	"github.com/anac-tg/incident-desk/internal/pkg/ctxlog"
	"github.com/anac-tg/incident-desk/internal/triage"
	"github.com/go-playground/validator/v10"
)

const maxTrackingIDAttempts = 3

// Analyzer classifies incident photos.
type Analyzer interface {
	Enabled() bool
	Analyze(ctx context.Context, photo []byte) domain.AnalysisResult
}

// Photo is an uploaded image.
type Photo struct {
	Data []byte
	Name string
}

// SubmitInput holds data for reporting a new incident.
type SubmitInput struct {
	Title       string               `validate:"required,max=200"`
	Description string               `validate:"required,max=2000"`
	Type        *domain.IncidentType `validate:"omitempty"`
	Location    *string              `validate:"omitempty,max=255"`
	Latitude    *float64             `validate:"omitempty,gte=-90,lte=90"`
	Longitude   *float64             `validate:"omitempty,gte=-180,lte=180"`
	Photo       *Photo               `validate:"-"`
	DeclarantID string               `validate:"required"`
}

// Triage turns submissions into persisted, classified incidents.
type Triage struct {
	repo     Repository
	photos   photos.Store
	analyzer Analyzer
	alerts   AlertHook
	validate *validator.Validate
	now      func() time.Time
}

// NewTriage creates the submission pipeline. analyzer and alerts may be nil.
func NewTriage(repo Repository, store photos.Store, analyzer Analyzer, alerts AlertHook) *Triage {
	return &Triage{
		repo:     repo,
		photos:   store,
		analyzer: analyzer,
		alerts:   alerts,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Submit validates, classifies and stores a new incident. High and
// critical incidents are escalated after they are committed.
func (t *Triage) Submit(ctx context.Context, input SubmitInput) (*domain.Incident, error) {
	logger := ctxlog.FromContext(ctx)

	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	if err := t.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if (input.Latitude == nil) != (input.Longitude == nil) {
		return nil, fmt.Errorf("%w: latitude and longitude must be provided together", ErrValidation)
	}
	if input.Type != nil && !input.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown incident type %q", ErrValidation, *input.Type)
	}

	var (
		photoPath *string
		analysis  *domain.AnalysisResult
	)

	if input.Photo != nil && len(input.Photo.Data) > 0 {
		if _, _, err := photos.SniffImage(input.Photo.Data); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		path, err := t.photos.Save(ctx, input.Photo.Data, input.Photo.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPhotoStorage, err)
		}
		photoPath = &path

		if t.analyzer != nil && t.analyzer.Enabled() {
			result := t.analyzer.Analyze(ctx, input.Photo.Data)
			analysis = &result
		}
	}

	incidentType := domain.IncidentTypeOther
	switch {
	case input.Type != nil:
		incidentType = *input.Type
	case analysis.Succeeded():
		incidentType = triage.SuggestType(analysis)
	}

	var priority domain.Priority
	switch {
	case analysis.Succeeded():
		priority = triage.AssessPriorityWithImage(analysis, input.Description, incidentType)
		triagePaths.WithLabelValues("image").Inc()
	case analysis != nil:
		priority = triage.AssessPriorityWithoutImage(input.Description, incidentType)
		triagePaths.WithLabelValues("image_failed").Inc()
		logger.Warn("image analysis unavailable, classifying from text",
			"reason", analysis.Failure,
		)
	default:
		priority = triage.AssessPriorityWithoutImage(input.Description, incidentType)
		triagePaths.WithLabelValues("text").Inc()
	}

	now := t.now()
	inc := &domain.Incident{
		Title:       input.Title,
		Description: input.Description,
		Type:        incidentType,
		Priority:    priority,
		Status:      domain.IncidentStatusPending,
		Location:    trimmedOrNil(input.Location),
		PhotoPath:   photoPath,
		AIAnalysis:  triage.RenderReport(analysis, input.Description, incidentType, priority, now),
		DeclarantID: input.DeclarantID,
		Revision:    1,
	}
	if input.Latitude != nil && input.Longitude != nil {
		inc.Coordinates = &domain.Coordinates{Latitude: *input.Latitude, Longitude: *input.Longitude}
	}

	if err := t.create(ctx, inc, now); err != nil {
		if photoPath != nil {
			if rmErr := t.photos.Remove(ctx, *photoPath); rmErr != nil {
				logger.Warn("failed to remove orphaned photo", "path", *photoPath, "error", rmErr)
			}
		}
		return nil, err
	}

	recordCreated(inc)
	logger.Info("incident created",
		"incident_id", inc.ID,
		"tracking_id", inc.TrackingID,
		"type", inc.Type,
		"priority", inc.Priority,
	)

	if inc.Priority.IsEscalated() {
		escalate(ctx, t.alerts, inc)
	}

	return inc, nil
}

func (t *Triage) create(ctx context.Context, inc *domain.Incident, now time.Time) error {
	for attempt := 1; ; attempt++ {
		inc.TrackingID = newTrackingID(now)
		err := t.repo.Create(ctx, inc)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateTrackingID) || attempt >= maxTrackingIDAttempts {
			return fmt.Errorf("create incident: %w", err)
		}
	}
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
