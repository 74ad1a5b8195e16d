package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Spatial-NVR/streamgrid/internal/grid"
	"github.com/Spatial-NVR/streamgrid/internal/layout"
	"github.com/Spatial-NVR/streamgrid/internal/revisions"
)

// RevisionStore reads committed configuration history
type RevisionStore interface {
	List(ctx context.Context, limit int) ([]revisions.Revision, error)
	Get(ctx context.Context, id string) (revisions.Revision, error)
}

// PlaybackSource returns the browser endpoints of a camera's stream
type PlaybackSource interface {
	PlaybackURLs(cameraID string) map[string]string
}

// GridHandler handles grid API requests. Mutations answer with the grid
// state after the change.
type GridHandler struct {
	ctrl      *grid.Controller
	revisions RevisionStore
	playback  PlaybackSource
	logger    *slog.Logger
}

// NewGridHandler creates a new grid handler. revisions and playback may be
// nil; their routes then answer 503.
func NewGridHandler(ctrl *grid.Controller, revisions RevisionStore, playback PlaybackSource) *GridHandler {
	return &GridHandler{
		ctrl:      ctrl,
		revisions: revisions,
		playback:  playback,
		logger:    slog.Default().With("component", "api"),
	}
}

// Routes returns the grid routes
func (h *GridHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.State)
	r.Get("/config", h.Config)
	r.Get("/layouts", h.Layouts)

	r.Route("/cameras", func(r chi.Router) {
		r.Post("/", h.AddCamera)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", h.RemoveCamera)
			r.Patch("/", h.UpdateCamera)
			r.Post("/connect", h.Connect)
			r.Post("/disconnect", h.Disconnect)
			r.Post("/select", h.Select)
			r.Delete("/select", h.Deselect)
			r.Post("/edit", h.OpenEditor)
			r.Delete("/edit", h.CloseEditor)
			r.Delete("/alerts", h.ClearAlerts)
			r.Delete("/alerts/{alertId}", h.DeleteAlert)
			r.Post("/recording", h.LoadRecording)
			r.Post("/ptz", h.SendPTZ)
			r.Get("/stream", h.Stream)
			r.Put("/position", h.MoveCamera)
			r.Put("/size", h.ResizeCamera)
		})
	})

	r.Put("/layout", h.SetLayout)
	r.Post("/layout/reset", h.ResetLayout)

	r.Post("/edit", h.BeginEdit)
	r.Post("/edit/save", h.Save)
	r.Post("/edit/cancel", h.Cancel)
	r.Put("/edit/toggles", h.SetToggles)
	r.Put("/edit/settings", h.UpdateSettings)

	r.Post("/connect", h.ConnectAll)
	r.Post("/live/toggle", h.ToggleLive)

	r.Get("/revisions", h.ListRevisions)
	r.Get("/revisions/{id}", h.GetRevision)

	return r
}

// State returns the rendered grid
func (h *GridHandler) State(w http.ResponseWriter, r *http.Request) {
	h.respondState(w, r, http.StatusOK)
}

// Config returns the working snapshot, or the committed one with
// ?committed=true
func (h *GridHandler) Config(w http.ResponseWriter, r *http.Request) {
	get := h.ctrl.Config
	if committed, _ := strconv.ParseBool(r.URL.Query().Get("committed")); committed {
		get = h.ctrl.Authoritative
	}
	snap, err := get(r.Context())
	if err != nil {
		GridError(w, err)
		return
	}
	OK(w, snap)
}

// Layouts lists the supported layout modes
func (h *GridHandler) Layouts(w http.ResponseWriter, r *http.Request) {
	OK(w, layout.Modes())
}

// AddCamera registers a camera
func (h *GridHandler) AddCamera(w http.ResponseWriter, r *http.Request) {
	var d grid.Descriptor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	if errs := NewDescriptorValidator().Validate(d); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	cam, err := h.ctrl.AddCamera(r.Context(), d)
	if err != nil {
		GridError(w, err)
		return
	}
	h.logger.Info("Camera added via API", "camera", cam.ID, "stream", SanitizeStreamURL(d.StreamURL))
	Created(w, cam)
}

// RemoveCamera deletes a camera
func (h *GridHandler) RemoveCamera(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, id string) error {
		return h.ctrl.RemoveCamera(ctx, id)
	})
}

// FieldUpdate is a single-field camera update
type FieldUpdate struct {
	Field string      `json:"field"`
	Value interface{} `json:"value"`
}

// UpdateCamera replaces one descriptor field
func (h *GridHandler) UpdateCamera(w http.ResponseWriter, r *http.Request) {
	var req FieldUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	if req.Field == "" {
		BadRequest(w, "field is required")
		return
	}
	if errs := NewDescriptorValidator().ValidateField(req.Field, req.Value); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	h.mutate(w, r, func(ctx context.Context, id string) error {
		return h.ctrl.UpdateCamera(ctx, id, req.Field, req.Value)
	})
}

// Connect starts a camera's stream
func (h *GridHandler) Connect(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.ctrl.Connect)
}

// ConnectAll reconnects every camera
func (h *GridHandler) ConnectAll(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.ctrl.ConnectAll)
}

// Disconnect stops a camera's stream
func (h *GridHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.ctrl.Disconnect)
}

// Select marks a camera as selected
func (h *GridHandler) Select(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.ctrl.SelectCamera)
}

// Deselect clears the selection
func (h *GridHandler) Deselect(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, _ string) error {
		return h.ctrl.SelectCamera(ctx, "")
	})
}

// OpenEditor marks a camera's settings dialog as open
func (h *GridHandler) OpenEditor(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.ctrl.EditCamera)
}

// CloseEditor closes the camera settings dialog
func (h *GridHandler) CloseEditor(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, _ string) error {
		return h.ctrl.EditCamera(ctx, "")
	})
}

// ClearAlerts empties a camera's alert log
func (h *GridHandler) ClearAlerts(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.ctrl.ClearAlerts)
}

// DeleteAlert removes one alert
func (h *GridHandler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	alertID, err := strconv.ParseInt(chi.URLParam(r, "alertId"), 10, 64)
	if err != nil {
		BadRequest(w, "Invalid alert id")
		return
	}
	h.mutate(w, r, func(ctx context.Context, id string) error {
		return h.ctrl.DeleteAlert(ctx, id, alertID)
	})
}

// RecordingRequest selects a recording window
type RecordingRequest struct {
	Date  string `json:"date"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// LoadRecording starts loading a recording; the camera reports connected
// once it is ready
func (h *GridHandler) LoadRecording(w http.ResponseWriter, r *http.Request) {
	var req RecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}

	var errs ValidationErrors
	day, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		errs = append(errs, ValidationError{Field: "date", Message: "date must be YYYY-MM-DD"})
	}
	for field, v := range map[string]string{"start": req.Start, "end": req.End} {
		if _, err := time.Parse("15:04", v); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: "time must be HH:MM"})
		}
	}
	if errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}

	window := grid.TimeRange{Start: req.Start, End: req.End}
	id := chi.URLParam(r, "id")
	if err := h.ctrl.LoadRecording(r.Context(), id, day, window); err != nil {
		GridError(w, err)
		return
	}
	h.respondState(w, r, http.StatusAccepted)
}

// PTZRequest is a pan/tilt/zoom command
type PTZRequest struct {
	Direction string `json:"direction"`
}

// SendPTZ relays a PTZ command
func (h *GridHandler) SendPTZ(w http.ResponseWriter, r *http.Request) {
	var req PTZRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	dir, err := grid.ParseDirection(req.Direction)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	err = h.ctrl.SendPTZ(r.Context(), chi.URLParam(r, "id"), dir)
	switch {
	case err == nil:
		h.respondState(w, r, http.StatusOK)
	case errors.Is(err, grid.ErrCameraNotFound):
		GridError(w, err)
	default:
		Error(w, http.StatusBadGateway, "PTZ_FAILED", err.Error())
	}
}

// Stream returns the playback endpoints of a camera
func (h *GridHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.playback == nil {
		Unavailable(w, "Stream relay not configured")
		return
	}
	id := chi.URLParam(r, "id")
	state, err := h.ctrl.State(r.Context())
	if err != nil {
		GridError(w, err)
		return
	}
	for _, cam := range state.Cameras {
		if cam.ID == id {
			OK(w, h.playback.PlaybackURLs(id))
			return
		}
	}
	NotFound(w, "camera not found: "+id)
}

// MoveCamera places a free-form tile
func (h *GridHandler) MoveCamera(w http.ResponseWriter, r *http.Request) {
	var p layout.Position
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	if errs := ValidatePosition(p); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}
	h.mutate(w, r, func(ctx context.Context, id string) error {
		return h.ctrl.MoveCamera(ctx, id, p)
	})
}

// ResizeCamera sizes a free-form tile
func (h *GridHandler) ResizeCamera(w http.ResponseWriter, r *http.Request) {
	var sz layout.Size
	if err := json.NewDecoder(r.Body).Decode(&sz); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	if errs := ValidateSize(sz); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}
	h.mutate(w, r, func(ctx context.Context, id string) error {
		return h.ctrl.ResizeCamera(ctx, id, sz)
	})
}

// LayoutRequest selects a layout mode
type LayoutRequest struct {
	Mode layout.Mode `json:"mode"`
}

// SetLayout switches the layout mode
func (h *GridHandler) SetLayout(w http.ResponseWriter, r *http.Request) {
	var req LayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	mode, err := layout.ParseMode(string(req.Mode))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	h.apply(w, r, func(ctx context.Context) error {
		return h.ctrl.SetLayout(ctx, mode)
	})
}

// ResetLayout retiles every camera
func (h *GridHandler) ResetLayout(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.ctrl.ResetLayout)
}

// BeginEdit opens an edit session
func (h *GridHandler) BeginEdit(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.ctrl.BeginEdit)
}

// Save commits the edit session and returns the committed snapshot
func (h *GridHandler) Save(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctrl.Save(r.Context())
	if err != nil {
		GridError(w, err)
		return
	}
	OK(w, snap)
}

// Cancel discards the edit session
func (h *GridHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.ctrl.Cancel)
}

// TogglesRequest sets the free-form interaction toggles
type TogglesRequest struct {
	Resizable bool `json:"resizable"`
	Draggable bool `json:"draggable"`
}

// SetToggles sets whether tiles can be resized and dragged
func (h *GridHandler) SetToggles(w http.ResponseWriter, r *http.Request) {
	var req TogglesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	h.apply(w, r, func(ctx context.Context) error {
		return h.ctrl.SetToggles(ctx, req.Resizable, req.Draggable)
	})
}

// UpdateSettings changes the draft's grid-wide settings
func (h *GridHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var s grid.Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}
	if errs := ValidateSettings(s); errs.HasErrors() {
		ValidationErrorResponse(w, errs)
		return
	}
	h.apply(w, r, func(ctx context.Context) error {
		return h.ctrl.UpdateSettings(ctx, s)
	})
}

// ToggleLive switches between live and playback mode
func (h *GridHandler) ToggleLive(w http.ResponseWriter, r *http.Request) {
	live, err := h.ctrl.ToggleLive(r.Context())
	if err != nil {
		GridError(w, err)
		return
	}
	OK(w, map[string]bool{"live": live})
}

// ListRevisions returns committed snapshots, newest first
func (h *GridHandler) ListRevisions(w http.ResponseWriter, r *http.Request) {
	if h.revisions == nil {
		Unavailable(w, "Revision history not configured")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			BadRequest(w, "Invalid limit")
			return
		}
		limit = n
	}

	revs, err := h.revisions.List(r.Context(), limit)
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	JSONWithMeta(w, http.StatusOK, revs, &Meta{Total: len(revs), Limit: limit})
}

// GetRevision returns one committed snapshot
func (h *GridHandler) GetRevision(w http.ResponseWriter, r *http.Request) {
	if h.revisions == nil {
		Unavailable(w, "Revision history not configured")
		return
	}
	rev, err := h.revisions.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, revisions.ErrNotFound) {
		NotFound(w, err.Error())
		return
	}
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	OK(w, rev)
}

// mutate runs fn for the camera in the URL and answers with the new state
func (h *GridHandler) mutate(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "id")
	h.apply(w, r, func(ctx context.Context) error {
		return fn(ctx, id)
	})
}

func (h *GridHandler) apply(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) error) {
	if err := fn(r.Context()); err != nil {
		GridError(w, err)
		return
	}
	h.respondState(w, r, http.StatusOK)
}

func (h *GridHandler) respondState(w http.ResponseWriter, r *http.Request, status int) {
	state, err := h.ctrl.State(r.Context())
	if err != nil {
		GridError(w, err)
		return
	}
	JSON(w, status, state)
}
