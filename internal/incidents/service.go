// Package incidents implements incident triage, storage and lifecycle.
package incidents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anac-tg/incident-desk/internal/domain"
	"github.com/anac-tg/incident-desk/internal/identity"
	"github.com/anac-tg/incident-desk/internal/photos"
	"github.com/anac-tg/incident-desk/internal/pkg/ctxlog"
	"github.com/anac-tg/incident-desk/internal/triage"
)

// maxMutateAttempts bounds the optimistic-concurrency retry loop.
const maxMutateAttempts = 3

// UserDirectory resolves user ids. Implemented by identity.Service.
type UserDirectory interface {
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// AlertHook receives incidents that were escalated to high or critical priority.
// It is called after the incident is committed.
type AlertHook interface {
	IncidentEscalated(ctx context.Context, incident *domain.Incident) error
}

// Service owns incident state transitions and queries.
type Service struct {
	repo   Repository
	users  UserDirectory
	photos photos.Store
	alerts AlertHook
	now    func() time.Time
}

// NewService creates a new incident lifecycle service. alerts may be nil.
func NewService(repo Repository, users UserDirectory, store photos.Store, alerts AlertHook) *Service {
	return &Service{
		repo:   repo,
		users:  users,
		photos: store,
		alerts: alerts,
		now:    time.Now,
	}
}

// Get returns an incident by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Incident, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByTrackingID returns an incident by its public tracking id.
func (s *Service) GetByTrackingID(ctx context.Context, trackingID string) (*domain.Incident, error) {
	return s.repo.GetByTrackingID(ctx, trackingID)
}

// List returns a page of incidents and the total matching count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*domain.Incident, int, error) {
	return s.repo.List(ctx, filter)
}

// Stats returns aggregate counts, including incidents from the last seven days.
func (s *Service) Stats(ctx context.Context) (*domain.IncidentStats, error) {
	return s.repo.Stats(ctx, s.now().AddDate(0, 0, -7))
}

// CountByType returns incident counts per type. Every type is present.
func (s *Service) CountByType(ctx context.Context) (map[domain.IncidentType]int, error) {
	counts, err := s.repo.CountByType(ctx)
	if err != nil {
		return nil, err
	}
	if counts == nil {
		counts = make(map[domain.IncidentType]int, len(domain.IncidentTypes))
	}
	for _, t := range domain.IncidentTypes {
		if _, ok := counts[t]; !ok {
			counts[t] = 0
		}
	}
	return counts, nil
}

// CountByPriority returns incident counts per priority. Every priority is present.
func (s *Service) CountByPriority(ctx context.Context) (map[domain.Priority]int, error) {
	counts, err := s.repo.CountByPriority(ctx)
	if err != nil {
		return nil, err
	}
	if counts == nil {
		counts = make(map[domain.Priority]int, len(domain.Priorities))
	}
	for _, p := range domain.Priorities {
		if _, ok := counts[p]; !ok {
			counts[p] = 0
		}
	}
	return counts, nil
}

// Assign sets the assignee and moves the incident to in-progress.
// Assigning the same user again is idempotent. Deactivated accounts cannot
// be assigned.
func (s *Service) Assign(ctx context.Context, id, assigneeID string) (*domain.Incident, error) {
	assignee, err := s.users.GetUserByID(ctx, assigneeID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, ErrAssigneeNotFound
		}
		return nil, fmt.Errorf("lookup assignee: %w", err)
	}
	if assignee.IsDeleted() {
		return nil, ErrAssigneeNotFound
	}

	return s.mutate(ctx, id, nil, func(inc *domain.Incident) error {
		if err := transition(inc, domain.IncidentStatusInProgress, s.now()); err != nil {
			return err
		}
		inc.AssigneeID = &assigneeID
		return nil
	})
}

// UpdateStatus moves the incident to status. Resolved and rejected are terminal.
func (s *Service) UpdateStatus(ctx context.Context, id string, status domain.IncidentStatus) (*domain.Incident, error) {
	return s.mutate(ctx, id, nil, func(inc *domain.Incident) error {
		return transition(inc, status, s.now())
	})
}

// Update applies a partial patch.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*domain.Incident, error) {
	var expected *int
	if rev, ok := patch.Revision.Get(); ok {
		expected = &rev
	}
	return s.mutate(ctx, id, expected, func(inc *domain.Incident) error {
		return patch.Apply(inc, s.now())
	})
}

// AttachPhoto stores a photo and links it to the incident, replacing any
// previous one. Triage is not re-run.
func (s *Service) AttachPhoto(ctx context.Context, id string, data []byte, name string) (*domain.Incident, error) {
	if _, _, err := photos.SniffImage(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}

	path, err := s.photos.Save(ctx, data, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPhotoStorage, err)
	}

	var previous *string
	inc, err := s.mutate(ctx, id, nil, func(inc *domain.Incident) error {
		previous = inc.PhotoPath
		inc.PhotoPath = &path
		return nil
	})
	if err != nil {
		s.removePhoto(ctx, path)
		return nil, err
	}
	if previous != nil && *previous != path {
		s.removePhoto(ctx, *previous)
	}
	return inc, nil
}

// Reclassify recomputes priority from the stored description and type and
// regenerates the report. The photo is not analyzed again, so an incident
// with a photo never drops below its stored priority. An alert is raised
// when the incident newly becomes high or critical.
func (s *Service) Reclassify(ctx context.Context, id string) (*domain.Incident, error) {
	var wasEscalated bool
	inc, err := s.mutate(ctx, id, nil, func(inc *domain.Incident) error {
		wasEscalated = inc.Priority.IsEscalated()
		recomputed := triage.AssessPriorityWithoutImage(inc.Description, inc.Type)
		if inc.PhotoPath == nil || recomputed.Rank() > inc.Priority.Rank() {
			inc.Priority = recomputed
		}
		inc.AIAnalysis = triage.RenderReport(nil, inc.Description, inc.Type, inc.Priority, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !wasEscalated && inc.Priority.IsEscalated() {
		escalate(ctx, s.alerts, inc)
	}
	return inc, nil
}

// Delete permanently removes an incident and its photo.
func (s *Service) Delete(ctx context.Context, id string) error {
	inc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if inc.PhotoPath != nil {
		s.removePhoto(ctx, *inc.PhotoPath)
	}
	return nil
}

// UserSummary resolves a user id for response enrichment. Lookup
// failures yield nil.
func (s *Service) UserSummary(ctx context.Context, id *string) *domain.User {
	if id == nil || *id == "" || s.users == nil {
		return nil
	}
	u, err := s.users.GetUserByID(ctx, *id)
	if err != nil {
		if !errors.Is(err, identity.ErrUserNotFound) {
			ctxlog.FromContext(ctx).Warn("failed to resolve user", "user_id", *id, "error", err)
		}
		return nil
	}
	return u
}

// mutate runs a read-modify-write under optimistic concurrency. When
// expected is nil, revision conflicts are retried on a fresh read.
func (s *Service) mutate(ctx context.Context, id string, expected *int, fn func(*domain.Incident) error) (*domain.Incident, error) {
	for attempt := 1; ; attempt++ {
		inc, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if expected != nil && inc.Revision != *expected {
			return nil, ErrConflict
		}

		revision := inc.Revision
		if err := fn(inc); err != nil {
			return nil, err
		}

		err = s.repo.Update(ctx, inc, revision)
		if err == nil {
			return inc, nil
		}
		if !errors.Is(err, ErrConflict) || expected != nil || attempt >= maxMutateAttempts {
			return nil, err
		}

		ctxlog.FromContext(ctx).Debug("incident revision conflict, retrying",
			"incident_id", id,
			"attempt", attempt,
		)
	}
}

func (s *Service) removePhoto(ctx context.Context, path string) {
	if s.photos == nil {
		return
	}
	if err := s.photos.Remove(ctx, path); err != nil {
		ctxlog.FromContext(ctx).Warn("failed to remove photo", "path", path, "error", err)
	}
}

// escalate hands an incident to the alert hook. Failures are logged and
// never propagated.
func escalate(ctx context.Context, hook AlertHook, inc *domain.Incident) {
	if hook == nil {
		return
	}
	if err := hook.IncidentEscalated(ctx, inc); err != nil {
		escalationsFailed.Inc()
		ctxlog.FromContext(ctx).Error("failed to escalate incident",
			"incident_id", inc.ID,
			"tracking_id", inc.TrackingID,
			"priority", inc.Priority,
			"error", err,
		)
		return
	}
	ctxlog.FromContext(ctx).Info("incident escalated",
		"tracking_id", inc.TrackingID,
		"priority", inc.Priority,
	)
}
