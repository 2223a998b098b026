package incidents

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/anac-tg/incident-desk/internal/domain"
	"github.com/anac-tg/incident-desk/internal/pkg/optional"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 2000
)

// Patch is a partial update. Only fields that are set are applied.
type Patch struct {
	Title       optional.Value[string]                `json:"title"`
	Description optional.Value[string]                `json:"description"`
	Location    optional.Value[string]                `json:"location"`
	Coordinates optional.Value[domain.Coordinates]    `json:"coordinates"`
	Status      optional.Value[domain.IncidentStatus] `json:"status"`
	// Revision, when set, must match the stored revision.
	Revision optional.Value[int] `json:"revision"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return !p.Title.IsSet() && !p.Description.IsSet() && !p.Location.IsSet() &&
		!p.Coordinates.IsSet() && !p.Status.IsSet()
}

// Apply merges the patch into inc. It validates every present field and
// leaves inc untouched when any field is invalid.
func (p Patch) Apply(inc *domain.Incident, now time.Time) error {
	next := *inc

	if p.Title.IsSet() {
		title, ok := p.Title.Get()
		if err := validateText("title", title, ok, maxTitleLength); err != nil {
			return err
		}
		next.Title = strings.TrimSpace(title)
	}

	if p.Description.IsSet() {
		desc, ok := p.Description.Get()
		if err := validateText("description", desc, ok, maxDescriptionLength); err != nil {
			return err
		}
		next.Description = strings.TrimSpace(desc)
	}

	if p.Location.IsSet() {
		next.Location = nil
		if loc, ok := p.Location.Get(); ok && strings.TrimSpace(loc) != "" {
			loc = strings.TrimSpace(loc)
			next.Location = &loc
		}
	}

	if p.Coordinates.IsSet() {
		next.Coordinates = nil
		if c, ok := p.Coordinates.Get(); ok {
			if !c.Valid() {
				return fmt.Errorf("%w: coordinates out of range", ErrValidation)
			}
			next.Coordinates = &c
		}
	}

	if p.Status.IsSet() {
		status, ok := p.Status.Get()
		if !ok {
			return fmt.Errorf("%w: status cannot be null", ErrValidation)
		}
		if err := transition(&next, status, now); err != nil {
			return err
		}
	}

	*inc = next
	return nil
}

func validateText(field, value string, present bool, limit int) error {
	value = strings.TrimSpace(value)
	switch {
	case !present || value == "":
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	case utf8.RuneCountInString(value) > limit:
		return fmt.Errorf("%w: %s exceeds %d characters", ErrValidation, field, limit)
	}
	return nil
}

// transition moves inc to status, enforcing the lifecycle rules.
// Resolved and rejected incidents are terminal.
func transition(inc *domain.Incident, status domain.IncidentStatus, now time.Time) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	if !inc.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inc.Status, status)
	}
	if status == domain.IncidentStatusResolved && inc.Status != domain.IncidentStatusResolved {
		resolvedAt := now
		inc.ResolvedAt = &resolvedAt
	}
	inc.Status = status
	return nil
}
