package incidents

import "errors"

var (
	ErrIncidentNotFound    = errors.New("incident not found")
	ErrValidation          = errors.New("validation error")
	ErrPhotoStorage        = errors.New("photo storage failed")
	ErrConflict            = errors.New("incident was modified concurrently")
	ErrInvalidTransition   = errors.New("status transition not allowed")
	ErrAssigneeNotFound    = errors.New("assignee not found")
	ErrDuplicateTrackingID = errors.New("tracking id already exists")
)
