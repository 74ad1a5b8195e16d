package grid

import (
	"context"

	"github.com/Spatial-NVR/streamgrid/internal/layout"
)

// editSession holds the draft and everything needed to undo it
type editSession struct {
	draft    Snapshot
	before   liveState
	deferred *Snapshot
}

// liveState is the rendered part of the controller state
type liveState struct {
	title         string
	refreshRate   int
	cameras       []Camera
	layout        layout.State
	resizable     bool
	draggable     bool
	selected      *int
	editingCamera string
}

func (c *Controller) captureLive() liveState {
	ls := liveState{
		title:         c.st.title,
		refreshRate:   c.st.refreshRate,
		cameras:       c.st.cameras,
		layout:        c.st.layout,
		resizable:     c.st.resizable,
		draggable:     c.st.draggable,
		editingCamera: c.st.editingCamera,
	}
	if c.st.selected != nil {
		i := *c.st.selected
		ls.selected = &i
	}
	return ls
}

// Settings are grid-wide fields of the configuration
type Settings struct {
	Title       string `json:"title"`
	RefreshRate int    `json:"refreshRate"`
}

// BeginEdit opens an edit session. The authoritative snapshot becomes the
// draft and is mirrored into the rendered grid.
func (c *Controller) BeginEdit(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.st.edit != nil {
			return ErrAlreadyEditing
		}
		auth := c.st.authoritative
		c.st.title = auth.Title
		c.st.refreshRate = auth.RefreshRate
		c.adoptCameras(auth.Cameras, nil, c.st.live)
		c.st.layout = c.snapshotLayout(auth)
		c.st.resizable = auth.Resizable
		c.st.draggable = auth.Draggable

		c.st.edit = &editSession{
			draft:  auth.Clone(),
			before: c.captureLive(),
		}
		c.dirty = true
		c.logger.Debug("Edit session started")
		return nil
	})
}

// UpdateSettings changes the grid-wide settings of the draft
func (c *Controller) UpdateSettings(ctx context.Context, s Settings) error {
	return c.do(ctx, func() error {
		if c.st.edit == nil {
			return ErrNotEditing
		}
		c.st.edit.draft.Title = s.Title
		c.st.edit.draft.RefreshRate = s.RefreshRate
		c.st.title = s.Title
		c.st.refreshRate = s.RefreshRate
		c.dirty = true
		return nil
	})
}

// SetToggles sets whether free-form tiles can be resized and dragged
func (c *Controller) SetToggles(ctx context.Context, resizable, draggable bool) error {
	return c.do(ctx, func() error {
		c.st.resizable = resizable
		c.st.draggable = draggable
		if c.st.edit != nil {
			c.st.edit.draft.Resizable = resizable
			c.st.edit.draft.Draggable = draggable
		}
		c.dirty = true
		return nil
	})
}

// Save commits the draft merged with the current cameras, layout and
// toggles, emits it to OnConfigChange and closes the session
func (c *Controller) Save(ctx context.Context) (Snapshot, error) {
	var saved Snapshot
	err := c.do(ctx, func() error {
		if c.st.edit == nil {
			return ErrNotEditing
		}
		saved = c.merged(c.st.edit.draft)
		if c.st.edit.deferred != nil {
			c.logger.Warn("Discarding configuration change received during edit")
		}
		c.st.authoritative = saved.Clone()
		c.st.edit = nil
		c.dirty = true

		c.logger.Info("Grid configuration saved", "cameras", len(saved.Cameras), "layout", saved.GridLayout)
		if c.onConfigChange != nil {
			c.onConfigChange(saved.Clone())
		}
		return nil
	})
	return saved, err
}

// Cancel discards the session and restores the state captured when it
// began. An authoritative change received meanwhile is applied afterwards.
func (c *Controller) Cancel(ctx context.Context) error {
	return c.do(ctx, func() error {
		if c.st.edit == nil {
			return ErrNotEditing
		}
		session := c.st.edit
		c.st.edit = nil
		c.restore(session.before)
		if session.deferred != nil {
			c.applyAuthoritative(*session.deferred)
		}
		c.dirty = true
		c.logger.Debug("Edit session cancelled")
		return nil
	})
}

func (c *Controller) restore(ls liveState) {
	previous := make(map[string]Camera, len(ls.cameras))
	configs := make([]CameraConfig, len(ls.cameras))
	for i, cam := range ls.cameras {
		previous[cam.ID] = cam
		configs[i] = cam.Config()
	}
	c.adoptCameras(configs, previous, c.st.live)

	c.st.title = ls.title
	c.st.refreshRate = ls.refreshRate
	c.st.layout = ls.layout
	c.st.resizable = ls.resizable
	c.st.draggable = ls.draggable
	c.st.selected = ls.selected
	c.st.editingCamera = ls.editingCamera
}

// SetAuthoritative replaces the committed configuration, e.g. after the
// config file changed. During an edit session it is held until the
// session ends.
func (c *Controller) SetAuthoritative(ctx context.Context, s Snapshot) error {
	return c.do(ctx, func() error {
		s = normalizeSnapshot(s)
		if c.st.edit != nil {
			c.st.edit.deferred = &s
			return nil
		}
		c.applyAuthoritative(s)
		return nil
	})
}

func (c *Controller) applyAuthoritative(s Snapshot) {
	c.st.authoritative = s.Clone()
	c.adoptSnapshot(s, c.st.live)
	c.dirty = true
}

// adoptSnapshot makes the rendered grid match s
func (c *Controller) adoptSnapshot(s Snapshot, connect bool) {
	c.st.title = s.Title
	c.st.refreshRate = s.RefreshRate
	c.adoptCameras(s.Cameras, nil, connect)
	c.st.layout = c.snapshotLayout(s)
	c.st.resizable = s.Resizable
	c.st.draggable = s.Draggable
	c.st.selected = nil
}

// snapshotLayout is the stored layout of s. Free-form cameras without a
// stored position or size get their tiled placement; stored ones are kept.
func (c *Controller) snapshotLayout(s Snapshot) layout.State {
	l := layout.State{
		Mode:      s.GridLayout,
		Positions: s.CameraPositions,
		Sizes:     s.CameraSizes,
	}.Clone()
	if l.Mode != layout.FreeForm {
		return l
	}
	for i, cam := range c.st.cameras {
		_, hasPos := l.Positions[cam.ID]
		_, hasSize := l.Sizes[cam.ID]
		if !hasPos || !hasSize {
			l = l.Place(cam.ID, i)
		}
	}
	return l
}

// adoptCameras replaces the camera list by configs. Known cameras keep
// their runtime state, vanished cameras are torn down and new ones start
// fresh (or from previous when given). Cameras that are new or whose
// stream URL changed are connected when connect is set.
func (c *Controller) adoptCameras(configs []CameraConfig, previous map[string]Camera, connect bool) {
	current := make(map[string]Camera, len(c.st.cameras))
	for _, cam := range c.st.cameras {
		current[cam.ID] = cam
	}

	next := make([]Camera, 0, len(configs))
	wanted := make(map[string]bool, len(configs))
	var reconnect []string
	for _, cc := range configs {
		wanted[cc.ID] = true
		if cam, ok := current[cc.ID]; ok {
			if cam.StreamURL != cc.StreamURL {
				delete(c.unsupported, cc.ID)
				reconnect = append(reconnect, cc.ID)
			}
			cam.Descriptor = cc.Descriptor
			next = append(next, cam)
			continue
		}
		cam := newCamera(cc.ID, cc.Descriptor)
		if prev, ok := previous[cc.ID]; ok {
			cam.Alerts = prev.Alerts
		}
		next = append(next, cam)
		reconnect = append(reconnect, cc.ID)
	}

	for id := range current {
		if !wanted[id] {
			c.teardownCamera(id)
		}
	}
	c.st.cameras = next
	c.dirty = true

	if connect {
		for _, id := range reconnect {
			c.connect(id)
		}
	}
}

// Config returns the configuration as it would be saved now
func (c *Controller) Config(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.do(ctx, func() error {
		base := c.st.authoritative
		if c.st.edit != nil {
			base = c.st.edit.draft
		}
		s = c.merged(base)
		return nil
	})
	return s, err
}

// Authoritative returns the last committed configuration
func (c *Controller) Authoritative(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.do(ctx, func() error {
		s = c.st.authoritative.Clone()
		return nil
	})
	return s, err
}

func (c *Controller) merged(base Snapshot) Snapshot {
	out := base.Clone()
	out.Title = c.st.title
	out.RefreshRate = c.st.refreshRate
	out.Cameras = make([]CameraConfig, len(c.st.cameras))
	for i, cam := range c.st.cameras {
		out.Cameras[i] = cam.Config()
	}
	l := c.st.layout.Clone()
	out.GridLayout = l.Mode
	out.CameraPositions = l.Positions
	out.CameraSizes = l.Sizes
	out.Resizable = c.st.resizable
	out.Draggable = c.st.draggable
	return out
}
