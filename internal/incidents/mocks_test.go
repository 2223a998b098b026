package incidents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/anac-tg/incident-desk/internal/domain"
	"github.com/anac-tg/incident-desk/internal/identity"
	"github.com/anac-tg/incident-desk/internal/photos"
)

// memoryRepository is an in-memory Repository with revision checks.
type memoryRepository struct {
	mu        sync.Mutex
	incidents map[string]*domain.Incident
	nextID    int

	createErrs []error
	// conflicts forces that many Update calls to report ErrConflict.
	conflicts   int
	updateCalls int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{incidents: make(map[string]*domain.Incident)}
}

func (r *memoryRepository) add(inc *domain.Incident) *domain.Incident {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inc.ID == "" {
		r.nextID++
		inc.ID = fmt.Sprintf("incident-%d", r.nextID)
	}
	if inc.Revision == 0 {
		inc.Revision = 1
	}
	cp := *inc
	r.incidents[inc.ID] = &cp
	return inc
}

func (r *memoryRepository) Create(_ context.Context, inc *domain.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		return err
	}
	r.nextID++
	inc.ID = fmt.Sprintf("incident-%d", r.nextID)
	inc.CreatedAt = time.Now()
	inc.UpdatedAt = inc.CreatedAt
	cp := *inc
	r.incidents[inc.ID] = &cp
	return nil
}

func (r *memoryRepository) GetByID(_ context.Context, id string) (*domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inc, ok := r.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	cp := *inc
	return &cp, nil
}

func (r *memoryRepository) GetByTrackingID(_ context.Context, trackingID string) (*domain.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inc := range r.incidents {
		if inc.TrackingID == trackingID {
			cp := *inc
			return &cp, nil
		}
	}
	return nil, ErrIncidentNotFound
}

func (r *memoryRepository) List(_ context.Context, filter ListFilter) ([]*domain.Incident, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Incident
	for _, inc := range r.incidents {
		if filter.Status != nil && inc.Status != *filter.Status {
			continue
		}
		cp := *inc
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (r *memoryRepository) Update(_ context.Context, inc *domain.Incident, expectedRevision int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++
	stored, ok := r.incidents[inc.ID]
	if !ok {
		return ErrIncidentNotFound
	}
	if r.conflicts > 0 {
		r.conflicts--
		stored.Revision++
		return ErrConflict
	}
	if stored.Revision != expectedRevision {
		return ErrConflict
	}
	inc.Revision = expectedRevision + 1
	inc.UpdatedAt = time.Now()
	cp := *inc
	r.incidents[inc.ID] = &cp
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.incidents[id]; !ok {
		return ErrIncidentNotFound
	}
	delete(r.incidents, id)
	return nil
}

func (r *memoryRepository) Stats(_ context.Context, _ time.Time) (*domain.IncidentStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &domain.IncidentStats{
		Total:      len(r.incidents),
		ByStatus:   map[domain.IncidentStatus]int{},
		ByPriority: map[domain.Priority]int{},
	}
	for _, inc := range r.incidents {
		stats.ByStatus[inc.Status]++
		stats.ByPriority[inc.Priority]++
	}
	return stats, nil
}

func (r *memoryRepository) CountByType(_ context.Context) (map[domain.IncidentType]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[domain.IncidentType]int{}
	for _, inc := range r.incidents {
		counts[inc.Type]++
	}
	return counts, nil
}

func (r *memoryRepository) CountByPriority(_ context.Context) (map[domain.Priority]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[domain.Priority]int{}
	for _, inc := range r.incidents {
		counts[inc.Priority]++
	}
	return counts, nil
}

type mockUsers struct {
	users map[string]*domain.User
	err   error
}

func (m *mockUsers) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, identity.ErrUserNotFound
}

var (
	jpegPhoto = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01")
	pngPhoto  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
)

// memoryPhotos is an in-memory photos.Store.
type memoryPhotos struct {
	mu      sync.Mutex
	files   map[string][]byte
	saveErr error
	saved   int
}

func newMemoryPhotos() *memoryPhotos {
	return &memoryPhotos{files: make(map[string][]byte)}
}

func (m *memoryPhotos) Save(_ context.Context, data []byte, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return "", m.saveErr
	}
	m.saved++
	p := fmt.Sprintf("incidents/2025/03/%d_%s", m.saved, name)
	m.files[p] = data
	return p, nil
}

func (m *memoryPhotos) Open(_ context.Context, relPath string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[relPath]
	if !ok {
		return nil, photos.ErrPhotoNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryPhotos) Remove(_ context.Context, relPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, relPath)
	return nil
}

func (m *memoryPhotos) has(relPath string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[relPath]
	return ok
}

type recordingHook struct {
	mu        sync.Mutex
	escalated []*domain.Incident
	err       error
}

func (h *recordingHook) IncidentEscalated(_ context.Context, inc *domain.Incident) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.escalated = append(h.escalated, inc)
	return h.err
}

func (h *recordingHook) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.escalated)
}

type fakeAnalyzer struct {
	enabled bool
	result  domain.AnalysisResult
	calls   int
}

func (a *fakeAnalyzer) Enabled() bool { return a.enabled }

func (a *fakeAnalyzer) Analyze(_ context.Context, _ []byte) domain.AnalysisResult {
	a.calls++
	return a.result
}

var errBoom = errors.New("boom")

func ptr[T any](v T) *T {
	return &v
}
