// Package grid implements the multi-camera stream grid controller.
//
// A Controller owns the camera collection, its layout, per-camera stream
// decoders, motion-detection timers and the staged edit session. All
// state lives on a single goroutine: public methods, timer callbacks and
// decoder events are turned into actions applied one at a time, so no
// action ever observes a half-applied update from another.
package grid

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/Spatial-NVR/streamgrid/internal/clock"
	"github.com/Spatial-NVR/streamgrid/internal/layout"
)

// Timing and probability of the simulated motion detector and the
// recording loader
const (
	MotionInterval    = 15 * time.Second
	MotionProbability = 0.3
	MotionClearAfter  = 3 * time.Second
	PlaybackLatency   = 1500 * time.Millisecond
)

// Options configures a Controller
type Options struct {
	Targets  TargetRegistry
	Decoders DecoderFactory

	Clock    clock.Clock
	Rand     Rand
	PTZ      PTZRelay
	Notifier Notifier
	Logger   *slog.Logger

	// Initial is the authoritative configuration the grid starts from
	Initial Snapshot

	// OnConfigChange receives the merged snapshot on Save. It runs on the
	// controller goroutine and must not call back into the Controller.
	OnConfigChange func(Snapshot)

	// OnStateChange receives a view after every action that changed state.
	// Same goroutine rules as OnConfigChange.
	OnStateChange func(State)
}

type action func(c *Controller)

// state is owned by the loop goroutine
type state struct {
	title         string
	refreshRate   int
	cameras       []Camera
	layout        layout.State
	resizable     bool
	draggable     bool
	live          bool
	selected      *int
	editingCamera string

	authoritative Snapshot
	edit          *editSession
}

// Controller is the stream grid controller
type Controller struct {
	targets        TargetRegistry
	decoders       DecoderFactory
	clock          clock.Clock
	rand           Rand
	ptz            PTZRelay
	notifier       Notifier
	onConfigChange func(Snapshot)
	onStateChange  func(State)
	logger         *slog.Logger

	mu       sync.Mutex
	queue    []action
	stopping bool
	wake     chan struct{}
	done     chan struct{}
	once     sync.Once

	// Loop-owned
	st          state
	dirty       bool
	closed      bool
	gen         uint64
	lastAlertID int64
	bindings    map[string]*binding
	pending     map[string]uint64
	unsupported map[string]string
	motion      map[string]*motionTimers
	playback    map[string]*playbackLoad
}

// New creates a controller and starts its loop. Cameras start idle; the
// caller connects them once their render targets are mounted.
func New(opts Options) (*Controller, error) {
	if opts.Targets == nil {
		return nil, errors.New("grid: target registry is required")
	}
	if opts.Decoders == nil {
		return nil, errors.New("grid: decoder factory is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Controller{
		targets:        opts.Targets,
		decoders:       opts.Decoders,
		clock:          opts.Clock,
		rand:           opts.Rand,
		ptz:            opts.PTZ,
		notifier:       opts.Notifier,
		onConfigChange: opts.OnConfigChange,
		onStateChange:  opts.OnStateChange,
		logger:         opts.Logger.With("component", "grid"),
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
		bindings:       make(map[string]*binding),
		pending:        make(map[string]uint64),
		unsupported:    make(map[string]string),
		motion:         make(map[string]*motionTimers),
		playback:       make(map[string]*playbackLoad),
	}

	initial := normalizeSnapshot(opts.Initial)
	c.st = state{
		live:          true,
		layout:        layout.New(initial.GridLayout),
		authoritative: initial,
	}
	c.adoptSnapshot(initial, false)
	c.reconcileMotion()
	c.dirty = false

	go c.run()
	return c, nil
}

func normalizeSnapshot(s Snapshot) Snapshot {
	s = s.Clone()
	if _, ok := layout.Lookup(s.GridLayout); !ok {
		s.GridLayout = layout.Grid2x2
	}
	if s.Cameras == nil {
		s.Cameras = []CameraConfig{}
	}
	return s
}

// post enqueues an action. Never blocks; returns false once closing.
func (c *Controller) post(a action) bool {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, a)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

func (c *Controller) run() {
	defer close(c.done)

	for range c.wake {
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			a := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.mu.Unlock()

			a(c)
			if c.closed {
				return
			}
			c.reconcileMotion()
			if c.dirty {
				c.dirty = false
				if c.onStateChange != nil {
					c.onStateChange(c.view())
				}
			}
		}
	}
}

// do runs fn on the loop and waits for its result
func (c *Controller) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if !c.post(func(*Controller) { errc <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-c.done:
		select {
		case err := <-errc:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync blocks until every queued action, including the follow-up actions
// they enqueue, has been applied
func (c *Controller) Sync(ctx context.Context) error {
	for {
		idle := false
		err := c.do(ctx, func() error {
			c.mu.Lock()
			idle = len(c.queue) == 0
			c.mu.Unlock()
			return nil
		})
		if err != nil {
			return err
		}
		if idle {
			return nil
		}
	}
}

// State returns a view of the controller
func (c *Controller) State(ctx context.Context) (State, error) {
	var s State
	err := c.do(ctx, func() error {
		s = c.view()
		return nil
	})
	return s, err
}

// Close destroys every decoder, stops every timer and stops the loop.
// Pending actions are discarded.
func (c *Controller) Close() error {
	c.once.Do(func() {
		teardown := func(c *Controller) {
			for id := range c.bindings {
				c.release(id)
			}
			for id := range c.motion {
				c.stopMotion(id)
			}
			for id := range c.playback {
				c.stopPlayback(id)
			}
			c.closed = true
			c.logger.Info("Grid controller stopped")
		}

		c.mu.Lock()
		c.queue = []action{teardown}
		c.stopping = true
		c.mu.Unlock()

		select {
		case c.wake <- struct{}{}:
		default:
		}
	})
	<-c.done
	return nil
}

func (c *Controller) view() State {
	s := State{
		Title:           c.st.title,
		Cameras:         c.st.cameras,
		Layout:          c.st.layout,
		Resizable:       c.st.resizable,
		Draggable:       c.st.draggable,
		Live:            c.st.live,
		Editing:         c.st.edit != nil,
		EditingCameraID: c.st.editingCamera,
	}
	mode := c.st.layout.Mode
	s.Visible = layout.Visible(mode, len(c.st.cameras))
	if mode != layout.FreeForm {
		s.Tiles = make(map[string]Tile, s.Visible)
		for i, cam := range c.st.cameras {
			if row, col, ok := layout.Cell(mode, i); ok {
				s.Tiles[cam.ID] = Tile{Row: row, Col: col}
			}
		}
	}
	if c.st.selected != nil {
		i := *c.st.selected
		s.SelectedIndex = &i
	}
	return s
}

func (c *Controller) indexOf(id string) int {
	for i, cam := range c.st.cameras {
		if cam.ID == id {
			return i
		}
	}
	return -1
}

func (c *Controller) camera(id string) (Camera, bool) {
	if i := c.indexOf(id); i >= 0 {
		return c.st.cameras[i], true
	}
	return Camera{}, false
}

// updateCamera replaces one camera through fn, producing a new slice
func (c *Controller) updateCamera(id string, fn func(cam Camera) Camera) bool {
	i := c.indexOf(id)
	if i < 0 {
		return false
	}
	next := make([]Camera, len(c.st.cameras))
	copy(next, c.st.cameras)
	next[i] = fn(next[i])
	c.st.cameras = next
	c.dirty = true
	return true
}

func (c *Controller) cameraIDs() []string {
	ids := make([]string, len(c.st.cameras))
	for i, cam := range c.st.cameras {
		ids[i] = cam.ID
	}
	return ids
}

func (c *Controller) nextAlertID() int64 {
	id := c.clock.Now().UnixMilli()
	if id <= c.lastAlertID {
		id = c.lastAlertID + 1
	}
	c.lastAlertID = id
	return id
}

// addAlert appends message to the camera's log and returns the entry
func (c *Controller) addAlert(id, message string) (Alert, bool) {
	a := Alert{
		ID:        c.nextAlertID(),
		Message:   message,
		Timestamp: c.clock.Now(),
	}
	ok := c.updateCamera(id, func(cam Camera) Camera {
		cam.Alerts = appendAlert(cam.Alerts, a)
		return cam
	})
	return a, ok
}
