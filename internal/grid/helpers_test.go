package grid

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Spatial-NVR/streamgrid/internal/clock"
	"github.com/Spatial-NVR/streamgrid/internal/layout"
)

type testTarget string

func (t testTarget) TargetID() string { return string(t) }

type fakeTargets struct {
	mu      sync.Mutex
	mounted map[string]bool
}

func newFakeTargets() *fakeTargets {
	return &fakeTargets{mounted: make(map[string]bool)}
}

func (f *fakeTargets) Target(id string) (Target, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.mounted[id] {
		return nil, false
	}
	return testTarget(id), true
}

func (f *fakeTargets) mount(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.mounted[id] = true
	}
}

func (f *fakeTargets) unmount(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.mounted, id)
}

type fakeDecoder struct {
	factory   *fakeFactory
	events    DecoderEvents
	target    string
	url       string
	playing   bool
	destroyed bool
}

func (d *fakeDecoder) Attach(t Target) error {
	d.factory.mu.Lock()
	d.target = t.TargetID()
	err := d.factory.attachErr
	d.factory.mu.Unlock()
	return err
}

func (d *fakeDecoder) LoadSource(url string) error {
	d.factory.mu.Lock()
	d.url = url
	auto := d.factory.autoReady
	d.factory.mu.Unlock()
	if auto {
		d.events.OnReady()
	}
	return nil
}

func (d *fakeDecoder) Play() error {
	d.factory.mu.Lock()
	defer d.factory.mu.Unlock()
	if d.factory.playErr != nil {
		return d.factory.playErr
	}
	d.playing = true
	return nil
}

func (d *fakeDecoder) Destroy() {
	d.factory.mu.Lock()
	defer d.factory.mu.Unlock()
	if d.destroyed {
		d.factory.doubleDestroy++
	}
	d.destroyed = true
	d.factory.destroyed++
}

func (d *fakeDecoder) ready()         { d.events.OnReady() }
func (d *fakeDecoder) fail(err error) { d.events.OnError(err) }

type fakeFactory struct {
	mu            sync.Mutex
	autoReady     bool
	newErr        error
	attachErr     error
	playErr       error
	attempts      int
	decoders      []*fakeDecoder
	destroyed     int
	doubleDestroy int
}

func (f *fakeFactory) NewDecoder(events DecoderEvents) (Decoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.newErr != nil {
		return nil, f.newErr
	}
	d := &fakeDecoder{factory: f, events: events}
	f.decoders = append(f.decoders, d)
	return d, nil
}

// live counts decoders for a camera that have not been destroyed
func (f *fakeFactory) live(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.decoders {
		if d.target == id && !d.destroyed {
			n++
		}
	}
	return n
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.decoders)
}

func (f *fakeFactory) destroyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

func (f *fakeFactory) last() *fakeDecoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.decoders) == 0 {
		return nil
	}
	return f.decoders[len(f.decoders)-1]
}

func (f *fakeFactory) set(fn func(f *fakeFactory)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// fixedRand always returns the same value
type fixedRand float64

func (r fixedRand) Float64() float64 { return float64(r) }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(msg Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type recordingRelay struct {
	mu       sync.Mutex
	commands []string
	err      error
}

func (r *recordingRelay) SendPTZ(_ context.Context, id string, dir Direction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, id+":"+string(dir))
	return r.err
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	ctrl     *Controller
	clock    *clock.Fake
	targets  *fakeTargets
	decoders *fakeFactory
	notifier *recordingNotifier
	relay    *recordingRelay
	commits  []Snapshot
	commitMu sync.Mutex
}

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, initial Snapshot, configure ...func(*Options)) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		ctx:      context.Background(),
		clock:    clock.NewFake(testStart),
		targets:  newFakeTargets(),
		decoders: &fakeFactory{autoReady: true},
		notifier: &recordingNotifier{},
		relay:    &recordingRelay{},
	}

	opts := Options{
		Targets:  h.targets,
		Decoders: h.decoders,
		Clock:    h.clock,
		Rand:     fixedRand(0.99),
		PTZ:      h.relay,
		Notifier: h.notifier,
		Initial:  initial,
		OnConfigChange: func(s Snapshot) {
			h.commitMu.Lock()
			h.commits = append(h.commits, s)
			h.commitMu.Unlock()
		},
	}
	for _, fn := range configure {
		fn(&opts)
	}

	ctrl, err := New(opts)
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	h.ctrl = ctrl
	t.Cleanup(func() { _ = ctrl.Close() })
	return h
}

func (h *harness) sync() {
	h.t.Helper()
	if err := h.ctrl.Sync(h.ctx); err != nil {
		h.t.Fatalf("Sync failed: %v", err)
	}
}

func (h *harness) state() State {
	h.t.Helper()
	h.sync()
	s, err := h.ctrl.State(h.ctx)
	if err != nil {
		h.t.Fatalf("State failed: %v", err)
	}
	return s
}

func (h *harness) camera(id string) Camera {
	h.t.Helper()
	cam, ok := h.state().Camera(id)
	if !ok {
		h.t.Fatalf("Camera %s not found", id)
	}
	return cam
}

func (h *harness) add(title string) Camera {
	h.t.Helper()
	cam, err := h.ctrl.AddCamera(h.ctx, Descriptor{
		Title:     title,
		StreamURL: "rtsp://10.0.0.1/" + title,
	})
	if err != nil {
		h.t.Fatalf("AddCamera failed: %v", err)
	}
	return cam
}

func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	h.clock.Advance(d)
	h.sync()
}

// snapshotWith builds an initial configuration with the given camera ids
func snapshotWith(mode layout.Mode, ids ...string) Snapshot {
	s := Snapshot{
		Title:      "Fleet",
		GridLayout: mode,
		Resizable:  true,
		Draggable:  true,
	}
	for _, id := range ids {
		s.Cameras = append(s.Cameras, CameraConfig{
			ID: id,
			Descriptor: Descriptor{
				Title:     "Camera " + id,
				StreamURL: "rtsp://10.0.0.1/" + id,
			},
		})
	}
	return s
}

func lastAlert(cam Camera) string {
	if len(cam.Alerts) == 0 {
		return ""
	}
	return cam.Alerts[len(cam.Alerts)-1].Message
}

var errBoom = errors.New("boom")
