// Package postgres provides PostgreSQL implementation of the incidents repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anac-tg/incident-desk/internal/domain"
	"github.com/anac-tg/incident-desk/internal/incidents"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const incidentColumns = `
	id, tracking_id, title, description, type, priority, status,
	location, latitude, longitude, photo_path, ai_analysis,
	declarant_id, assignee_id, deleted, revision,
	created_at, updated_at, resolved_at
`

// isUUID reports whether id can be bound to a UUID column. Anything else
// cannot name a stored incident.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Repository implements the incidents.Repository interface using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new incident.
func (r *Repository) Create(ctx context.Context, inc *domain.Incident) error {
	lat, lon := splitCoordinates(inc.Coordinates)
	query := `
		INSERT INTO incidents (
			tracking_id, title, description, type, priority, status,
			location, latitude, longitude, photo_path, ai_analysis,
			declarant_id, assignee_id, revision
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		inc.TrackingID,
		inc.Title,
		inc.Description,
		inc.Type,
		inc.Priority,
		inc.Status,
		inc.Location,
		lat,
		lon,
		inc.PhotoPath,
		inc.AIAnalysis,
		inc.DeclarantID,
		inc.AssigneeID,
		inc.Revision,
	).Scan(&inc.ID, &inc.CreatedAt, &inc.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return incidents.ErrDuplicateTrackingID
		}
		return fmt.Errorf("create incident: %w", err)
	}
	return nil
}

// GetByID retrieves an incident by its ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Incident, error) {
	if !isUUID(id) {
		return nil, incidents.ErrIncidentNotFound
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1 AND NOT deleted`
	inc, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident by id: %w", err)
	}
	return inc, nil
}

// GetByTrackingID retrieves an incident by its tracking ID.
func (r *Repository) GetByTrackingID(ctx context.Context, trackingID string) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE tracking_id = $1 AND NOT deleted`
	inc, err := scanIncident(r.db.QueryRow(ctx, query, trackingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, incidents.ErrIncidentNotFound
		}
		return nil, fmt.Errorf("get incident by tracking id: %w", err)
	}
	return inc, nil
}

// List retrieves incidents matching the filter, newest first, with the total match count.
func (r *Repository) List(ctx context.Context, filter incidents.ListFilter) ([]*domain.Incident, int, error) {
	where := " WHERE NOT deleted"
	var args []interface{}
	argNum := 1

	if filter.Type != nil {
		where += fmt.Sprintf(" AND type = $%d", argNum)
		args = append(args, *filter.Type)
		argNum++
	}
	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, *filter.Status)
		argNum++
	}
	if filter.Priority != nil {
		where += fmt.Sprintf(" AND priority = $%d", argNum)
		args = append(args, *filter.Priority)
		argNum++
	}
	if filter.DeclarantID != nil {
		where += fmt.Sprintf(" AND declarant_id = $%d", argNum)
		args = append(args, *filter.DeclarantID)
		argNum++
	}
	if filter.AssigneeID != nil {
		where += fmt.Sprintf(" AND assignee_id = $%d", argNum)
		args = append(args, *filter.AssigneeID)
		argNum++
	}
	if filter.From != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argNum)
		args = append(args, *filter.From)
		argNum++
	}
	if filter.To != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argNum)
		args = append(args, *filter.To)
		argNum++
	}
	if filter.Query != "" {
		where += fmt.Sprintf(" AND (title ILIKE $%d OR description ILIKE $%d)", argNum, argNum)
		args = append(args, "%"+filter.Query+"%")
		argNum++
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM incidents`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count incidents: %w", err)
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents` + where + ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan incident: %w", err)
		}
		result = append(result, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate incidents: %w", err)
	}

	return result, total, nil
}

// Update writes the incident when the stored revision matches expectedRevision.
func (r *Repository) Update(ctx context.Context, inc *domain.Incident, expectedRevision int) error {
	if !isUUID(inc.ID) {
		return incidents.ErrIncidentNotFound
	}
	lat, lon := splitCoordinates(inc.Coordinates)
	query := `
		UPDATE incidents
		SET title = $3, description = $4, type = $5, priority = $6, status = $7,
			location = $8, latitude = $9, longitude = $10, photo_path = $11,
			ai_analysis = $12, assignee_id = $13, resolved_at = $14,
			revision = revision + 1, updated_at = NOW()
		WHERE id = $1 AND revision = $2 AND NOT deleted
		RETURNING revision, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		inc.ID,
		expectedRevision,
		inc.Title,
		inc.Description,
		inc.Type,
		inc.Priority,
		inc.Status,
		inc.Location,
		lat,
		lon,
		inc.PhotoPath,
		inc.AIAnalysis,
		inc.AssigneeID,
		inc.ResolvedAt,
	).Scan(&inc.Revision, &inc.UpdatedAt)

	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update incident: %w", err)
	}

	// Distinguish a missing row from a stale revision.
	var exists bool
	err = r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM incidents WHERE id = $1 AND NOT deleted)`, inc.ID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check incident exists: %w", err)
	}
	if !exists {
		return incidents.ErrIncidentNotFound
	}
	return incidents.ErrConflict
}

// Delete removes an incident by its ID.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if !isUUID(id) {
		return incidents.ErrIncidentNotFound
	}
	result, err := r.db.Exec(ctx, `DELETE FROM incidents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	if result.RowsAffected() == 0 {
		return incidents.ErrIncidentNotFound
	}
	return nil
}

// Stats returns totals per status and priority plus the count created since the given time.
func (r *Repository) Stats(ctx context.Context, since time.Time) (*domain.IncidentStats, error) {
	stats := &domain.IncidentStats{
		ByStatus:   make(map[domain.IncidentStatus]int, len(domain.IncidentStatuses)),
		ByPriority: make(map[domain.Priority]int, len(domain.Priorities)),
	}
	for _, s := range domain.IncidentStatuses {
		stats.ByStatus[s] = 0
	}
	for _, p := range domain.Priorities {
		stats.ByPriority[p] = 0
	}

	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE created_at >= $1)
		FROM incidents
		WHERE NOT deleted
	`
	if err := r.db.QueryRow(ctx, query, since).Scan(&stats.Total, &stats.LastWeek); err != nil {
		return nil, fmt.Errorf("count incidents: %w", err)
	}

	byStatus, err := countBy[domain.IncidentStatus](ctx, r.db, "status")
	if err != nil {
		return nil, err
	}
	for k, v := range byStatus {
		stats.ByStatus[k] = v
	}

	byPriority, err := countBy[domain.Priority](ctx, r.db, "priority")
	if err != nil {
		return nil, err
	}
	for k, v := range byPriority {
		stats.ByPriority[k] = v
	}

	return stats, nil
}

// CountByType returns the number of incidents per type.
func (r *Repository) CountByType(ctx context.Context) (map[domain.IncidentType]int, error) {
	return countBy[domain.IncidentType](ctx, r.db, "type")
}

// CountByPriority returns the number of incidents per priority.
func (r *Repository) CountByPriority(ctx context.Context) (map[domain.Priority]int, error) {
	return countBy[domain.Priority](ctx, r.db, "priority")
}

// countBy groups live incidents by column. column is never user input.
func countBy[K ~string](ctx context.Context, db *pgxpool.Pool, column string) (map[K]int, error) {
	query := fmt.Sprintf(`SELECT %s, COUNT(*) FROM incidents WHERE NOT deleted GROUP BY %s`, column, column)
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count incidents by %s: %w", column, err)
	}
	defer rows.Close()

	counts := make(map[K]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan %s count: %w", column, err)
		}
		counts[K(key)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s counts: %w", column, err)
	}
	return counts, nil
}

func scanIncident(row pgx.Row) (*domain.Incident, error) {
	var (
		inc      domain.Incident
		lat, lon *float64
	)
	err := row.Scan(
		&inc.ID,
		&inc.TrackingID,
		&inc.Title,
		&inc.Description,
		&inc.Type,
		&inc.Priority,
		&inc.Status,
		&inc.Location,
		&lat,
		&lon,
		&inc.PhotoPath,
		&inc.AIAnalysis,
		&inc.DeclarantID,
		&inc.AssigneeID,
		&inc.Deleted,
		&inc.Revision,
		&inc.CreatedAt,
		&inc.UpdatedAt,
		&inc.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if lat != nil && lon != nil {
		inc.Coordinates = &domain.Coordinates{Latitude: *lat, Longitude: *lon}
	}
	return &inc, nil
}

func splitCoordinates(c *domain.Coordinates) (*float64, *float64) {
	if c == nil {
		return nil, nil
	}
	return &c.Latitude, &c.Longitude
}
