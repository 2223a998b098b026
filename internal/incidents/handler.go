package incidents

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anac-tg/incident-desk/internal/domain"
	"github.com/anac-tg/incident-desk/internal/photos"
	"github.com/anac-tg/incident-desk/internal/pkg/ctxlog"
	"github.com/anac-tg/incident-desk/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Pagination constants.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// DefaultMaxPhotoBytes caps uploaded photos when no limit is configured.
const DefaultMaxPhotoBytes = 10 << 20

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrIncidentNotFound, Status: http.StatusNotFound},
	{Error: ErrAssigneeNotFound, Status: http.StatusNotFound},
	{Error: ErrConflict, Status: http.StatusConflict},
	{Error: ErrInvalidTransition, Status: http.StatusConflict},
	{Error: photos.ErrNotAnImage, Status: http.StatusBadRequest},
	{Error: ErrPhotoStorage, Status: http.StatusInternalServerError, Message: "photo storage failed"},
	{Error: photos.ErrInvalidPath, Status: http.StatusBadRequest},
	{Error: photos.ErrPhotoNotFound, Status: http.StatusNotFound},
}

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service       *Service
	triage        *Triage
	photos        photos.Store
	validator     *validator.Validate
	maxPhotoBytes int64
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service, triage *Triage, store photos.Store, maxPhotoBytes int64) *Handler {
	if maxPhotoBytes <= 0 {
		maxPhotoBytes = DefaultMaxPhotoBytes
	}
	return &Handler{
		service:       service,
		triage:        triage,
		photos:        store,
		validator:     validator.New(),
		maxPhotoBytes: maxPhotoBytes,
	}
}

// RegisterRoutes registers routes available to any authenticated user.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/incidents", h.List)
	r.Post("/incidents", h.Create)
	r.Get("/incidents/mine", h.ListMine)
	r.Get("/incidents/assigned", h.ListAssigned)
	r.Get("/incidents/stats", h.Stats)
	r.Get("/incidents/stats/by-type", h.StatsByType)
	r.Get("/incidents/stats/by-priority", h.StatsByPriority)
	r.Get("/incidents/tracking/{trackingID}", h.GetByTrackingID)
	r.Get("/incidents/{id}", h.Get)
	r.Get("/files/*", h.ServePhoto)
}

// RegisterOperatorRoutes registers routes that require operator role.
func (h *Handler) RegisterOperatorRoutes(r chi.Router) {
	r.Patch("/incidents/{id}", h.Update)
	r.Put("/incidents/{id}/status", h.UpdateStatus)
	r.Put("/incidents/{id}/assign", h.Assign)
	r.Post("/incidents/{id}/photo", h.AttachPhoto)
	r.Post("/incidents/{id}/reclassify", h.Reclassify)
}

// RegisterAdminRoutes registers routes that require admin role.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Delete("/incidents/{id}", h.Delete)
}

// UserSummary is the public view of a declarant or assignee.
type UserSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// IncidentResponse is an incident enriched with user details.
type IncidentResponse struct {
	*domain.Incident
	TypeLabel string       `json:"type_label"`
	Declarant *UserSummary `json:"declarant,omitempty"`
	Assignee  *UserSummary `json:"assignee,omitempty"`
}

// CreateIncidentRequest is the JSON body for reporting an incident without a photo.
type CreateIncidentRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	Location    *string  `json:"location"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

// UpdateStatusRequest represents the request body for changing status.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=EN_ATTENTE EN_COURS RESOLU REJETE"`
}

// AssignRequest represents the request body for assigning an incident.
type AssignRequest struct {
	AssigneeID string `json:"assignee_id" validate:"required,uuid"`
}

// Create handles POST /incidents request.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var (
		input SubmitInput
		err   error
	)
	if isMultipart(r) {
		input, err = h.parseMultipart(w, r)
	} else {
		input, err = h.parseJSON(r)
	}
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	input.DeclarantID = httputil.GetUserID(r.Context())

	inc, err := h.triage.Submit(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, h.toResponse(r, inc))
}

func (h *Handler) parseJSON(r *http.Request) (SubmitInput, error) {
	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return SubmitInput{}, errors.New("invalid json")
	}

	input := SubmitInput{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
	}
	if req.Type != "" {
		t := domain.IncidentType(req.Type)
		input.Type = &t
	}
	return input, nil
}

func (h *Handler) parseMultipart(w http.ResponseWriter, r *http.Request) (SubmitInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxPhotoBytes+(1<<20))
	if err := r.ParseMultipartForm(h.maxPhotoBytes); err != nil {
		return SubmitInput{}, errors.New("invalid multipart form")
	}

	input := SubmitInput{
		Title:       formValue(r, "titre", "title"),
		Description: formValue(r, "description"),
	}
	if t := formValue(r, "type"); t != "" {
		it := domain.IncidentType(t)
		input.Type = &it
	}
	if loc := formValue(r, "localisation", "location"); loc != "" {
		input.Location = &loc
	}

	var err error
	if input.Latitude, err = parseFloatField(r, "latitude"); err != nil {
		return SubmitInput{}, err
	}
	if input.Longitude, err = parseFloatField(r, "longitude"); err != nil {
		return SubmitInput{}, err
	}

	photo, err := h.readPhoto(r)
	if err != nil {
		return SubmitInput{}, err
	}
	input.Photo = photo
	return input, nil
}

func (h *Handler) readPhoto(r *http.Request) (*Photo, error) {
	file, header, err := r.FormFile("photo")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, errors.New("invalid photo upload")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxPhotoBytes+1))
	if err != nil {
		return nil, errors.New("invalid photo upload")
	}
	if int64(len(data)) > h.maxPhotoBytes {
		return nil, fmt.Errorf("photo exceeds %d bytes", h.maxPhotoBytes)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &Photo{Data: data, Name: header.Filename}, nil
}

// Get handles GET /incidents/{id} request.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	inc, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, h.toResponse(r, inc))
}

// GetByTrackingID handles GET /incidents/tracking/{trackingID} request.
func (h *Handler) GetByTrackingID(w http.ResponseWriter, r *http.Request) {
	inc, err := h.service.GetByTrackingID(r.Context(), chi.URLParam(r, "trackingID"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, h.toResponse(r, inc))
}

// List handles GET /incidents request.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.list(w, r, filter)
}

// ListMine handles GET /incidents/mine request.
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := httputil.GetUserID(r.Context())
	filter.DeclarantID = &userID
	h.list(w, r, filter)
}

// ListAssigned handles GET /incidents/assigned request.
func (h *Handler) ListAssigned(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := httputil.GetUserID(r.Context())
	filter.AssigneeID = &userID
	h.list(w, r, filter)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, filter ListFilter) {
	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	resp := make([]IncidentResponse, 0, len(items))
	for _, inc := range items {
		resp = append(resp, h.toResponse(r, inc))
	}

	httputil.Success(w, http.StatusOK, map[string]interface{}{
		"incidents": resp,
		"total":     total,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	})
}

// Stats handles GET /incidents/stats request.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, stats)
}

// StatsByType handles GET /incidents/stats/by-type request.
func (h *Handler) StatsByType(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.CountByType(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, counts)
}

// StatsByPriority handles GET /incidents/stats/by-priority request.
func (h *Handler) StatsByPriority(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.CountByPriority(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, counts)
}

// Update handles PATCH /incidents/{id} request.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var patch Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if patch.IsEmpty() {
		httputil.Error(w, http.StatusBadRequest, "no fields to update")
		return
	}

	inc, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, h.toResponse(r, inc))
}

// UpdateStatus handles PUT /incidents/{id}/status request.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	inc, err := h.service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), domain.IncidentStatus(req.Status))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, h.toResponse(r, inc))
}

// Assign handles PUT /incidents/{id}/assign request.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	inc, err := h.service.Assign(r.Context(), chi.URLParam(r, "id"), req.AssigneeID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, h.toResponse(r, inc))
}

// AttachPhoto handles POST /incidents/{id}/photo request.
func (h *Handler) AttachPhoto(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxPhotoBytes+(1<<20))
	if err := r.ParseMultipartForm(h.maxPhotoBytes); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	photo, err := h.readPhoto(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if photo == nil {
		httputil.Error(w, http.StatusBadRequest, "photo is required")
		return
	}

	inc, err := h.service.AttachPhoto(r.Context(), chi.URLParam(r, "id"), photo.Data, photo.Name)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, h.toResponse(r, inc))
}

// Reclassify handles POST /incidents/{id}/reclassify request.
func (h *Handler) Reclassify(w http.ResponseWriter, r *http.Request) {
	inc, err := h.service.Reclassify(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, h.toResponse(r, inc))
}

// Delete handles DELETE /incidents/{id} request.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServePhoto handles GET /files/* request. The content type comes from the
// stored bytes, never from the file name; anything that is not an image is
// sent as an attachment.
func (h *Handler) ServePhoto(w http.ResponseWriter, r *http.Request) {
	relPath, err := photos.CleanPath(chi.URLParam(r, "*"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	rc, err := h.photos.Open(r.Context(), relPath)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	defer rc.Close()

	body := bufio.NewReaderSize(rc, 512)
	head, err := body.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) {
		ctxlog.FromContext(r.Context()).Warn("failed to read photo", "path", relPath, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	contentType := photos.ServedContentType(head)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if !strings.HasPrefix(contentType, "image/") {
		w.Header().Set("Content-Disposition", "attachment")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		ctxlog.FromContext(r.Context()).Warn("failed to stream photo", "path", relPath, "error", err)
	}
}

func (h *Handler) toResponse(r *http.Request, inc *domain.Incident) IncidentResponse {
	return IncidentResponse{
		Incident:  inc,
		TypeLabel: inc.Type.Label(),
		Declarant: summarize(h.service.UserSummary(r.Context(), &inc.DeclarantID)),
		Assignee:  summarize(h.service.UserSummary(r.Context(), inc.AssigneeID)),
	}
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrValidation) {
		httputil.ValidationError(w, err)
		return
	}
	httputil.HandleError(r.Context(), w, err, errorMappings)
}

func summarize(u *domain.User) *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{ID: u.ID, Name: u.DisplayName(), Email: u.Email}
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// formValue returns the first non-empty value among the given field names.
func formValue(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(r.FormValue(name)); v != "" {
			return v
		}
	}
	return ""
}

func parseFloatField(r *http.Request, name string) (*float64, error) {
	raw := formValue(r, name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", name)
	}
	return &v, nil
}

func parseListFilter(r *http.Request) (ListFilter, error) {
	q := r.URL.Query()
	filter := ListFilter{Limit: DefaultListLimit, Query: strings.TrimSpace(q.Get("q"))}

	if l := q.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			return filter, errors.New("limit must be a positive integer")
		}
		if parsed > MaxListLimit {
			parsed = MaxListLimit
		}
		filter.Limit = parsed
	}

	if o := q.Get("offset"); o != "" {
		parsed, err := strconv.Atoi(o)
		if err != nil || parsed < 0 {
			return filter, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = parsed
	}

	if v := q.Get("type"); v != "" {
		t := domain.IncidentType(v)
		if !t.IsValid() {
			return filter, fmt.Errorf("invalid type %q", v)
		}
		filter.Type = &t
	}
	if v := q.Get("status"); v != "" {
		s := domain.IncidentStatus(v)
		if !s.IsValid() {
			return filter, fmt.Errorf("invalid status %q", v)
		}
		filter.Status = &s
	}
	if v := q.Get("priority"); v != "" {
		p := domain.Priority(v)
		if !p.IsValid() {
			return filter, fmt.Errorf("invalid priority %q", v)
		}
		filter.Priority = &p
	}
	for name, dst := range map[string]**string{"declarant_id": &filter.DeclarantID, "assignee_id": &filter.AssigneeID} {
		if v := q.Get(name); v != "" {
			if _, err := uuid.Parse(v); err != nil {
				return filter, fmt.Errorf("%s must be a UUID", name)
			}
			*dst = &v
		}
	}

	var err error
	if filter.From, err = parseTimeParam(q.Get("from"), "from"); err != nil {
		return filter, err
	}
	if filter.To, err = parseTimeParam(q.Get("to"), "to"); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseTimeParam(raw, name string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	return &t, nil
}
