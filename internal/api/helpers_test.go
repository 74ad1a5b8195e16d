package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Spatial-NVR/streamgrid/internal/clock"
	"github.com/Spatial-NVR/streamgrid/internal/grid"
	"github.com/Spatial-NVR/streamgrid/internal/layout"
	"github.com/Spatial-NVR/streamgrid/internal/revisions"
	"github.com/Spatial-NVR/streamgrid/internal/streaming"
)

// readyDecoder reports ready as soon as a source is loaded
type readyDecoder struct {
	events grid.DecoderEvents
}

func (d *readyDecoder) Attach(grid.Target) error { return nil }
func (d *readyDecoder) LoadSource(string) error  { d.events.OnReady(); return nil }
func (d *readyDecoder) Play() error              { return nil }
func (d *readyDecoder) Destroy()                 {}

type readyFactory struct{}

func (readyFactory) NewDecoder(events grid.DecoderEvents) (grid.Decoder, error) {
	return &readyDecoder{events: events}, nil
}

type fakeRelay struct {
	mu       sync.Mutex
	commands []string
	err      error
}

func (r *fakeRelay) SendPTZ(_ context.Context, id string, dir grid.Direction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, id+":"+string(dir))
	return r.err
}

type fakeRevisions struct {
	revs []revisions.Revision
}

func (f *fakeRevisions) List(_ context.Context, limit int) ([]revisions.Revision, error) {
	if limit < len(f.revs) {
		return f.revs[:limit], nil
	}
	return f.revs, nil
}

func (f *fakeRevisions) Get(_ context.Context, id string) (revisions.Revision, error) {
	for _, rev := range f.revs {
		if rev.ID == id {
			return rev, nil
		}
	}
	return revisions.Revision{}, revisions.ErrNotFound
}

type fakePlayback struct{}

func (fakePlayback) PlaybackURLs(id string) map[string]string {
	return map[string]string{"webrtc": "http://relay/api/webrtc?src=" + id}
}

type testEnv struct {
	t       *testing.T
	server  *httptest.Server
	ctrl    *grid.Controller
	targets *streaming.TargetTable
	clock   *clock.Fake
	relay   *fakeRelay

	mu    sync.Mutex
	saved []grid.Snapshot
}

func testSnapshot() grid.Snapshot {
	return grid.Snapshot{
		Title:       "Lobby",
		RefreshRate: 30,
		GridLayout:  layout.Grid2x2,
		Cameras: []grid.CameraConfig{
			{ID: "cam1", Descriptor: grid.Descriptor{Title: "Door", StreamURL: "rtsp://10.0.0.1/door", PTZ: true}},
			{ID: "cam2", Descriptor: grid.Descriptor{Title: "Yard", StreamURL: "rtsp://10.0.0.2/yard"}},
		},
		Resizable: true,
		Draggable: true,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		t:       t,
		targets: streaming.NewTargetTable(),
		clock:   clock.NewFake(time.Date(2024, 2, 28, 8, 0, 0, 0, time.UTC)),
		relay:   &fakeRelay{},
	}

	ctrl, err := grid.New(grid.Options{
		Targets:  env.targets,
		Decoders: readyFactory{},
		Clock:    env.clock,
		PTZ:      env.relay,
		Initial:  testSnapshot(),
		OnConfigChange: func(s grid.Snapshot) {
			env.mu.Lock()
			env.saved = append(env.saved, s)
			env.mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	t.Cleanup(func() { _ = ctrl.Close() })
	env.ctrl = ctrl

	handler := NewGridHandler(ctrl, &fakeRevisions{revs: []revisions.Revision{
		{ID: "rev2", Source: revisions.SourceSave, Title: "Lobby"},
		{ID: "rev1", Source: revisions.SourceStart, Title: "Lobby"},
	}}, fakePlayback{})
	env.server = httptest.NewServer(NewRouter(RouterConfig{Grid: handler}))
	t.Cleanup(env.server.Close)
	return env
}

// envelope is Response with the data left undecoded
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorInfo      `json:"error"`
	Meta    *Meta           `json:"meta"`
}

func (e *testEnv) request(method, path string, body any) (int, envelope) {
	e.t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			e.t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+"/api/grid"+path, reader)
	if err != nil {
		e.t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
			e.t.Fatalf("Failed to decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode, env
}

func (e *testEnv) sync() {
	e.t.Helper()
	if err := e.ctrl.Sync(context.Background()); err != nil {
		e.t.Fatalf("Sync failed: %v", err)
	}
}

func (e *testEnv) state() grid.State {
	e.t.Helper()
	e.sync()
	s, err := e.ctrl.State(context.Background())
	if err != nil {
		e.t.Fatalf("State failed: %v", err)
	}
	return s
}

func cameraIn(t *testing.T, s grid.State, id string) grid.Camera {
	t.Helper()
	for _, cam := range s.Cameras {
		if cam.ID == id {
			return cam
		}
	}
	t.Fatalf("Camera %s not in state", id)
	return grid.Camera{}
}

func decodeInto(t *testing.T, raw json.RawMessage, out any) {
	t.Helper()
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("Failed to decode data: %v", err)
	}
}

func expectError(t *testing.T, status int, env envelope, wantStatus int, wantCode string) {
	t.Helper()
	if status != wantStatus {
		t.Fatalf("Expected status %d, got %d (%+v)", wantStatus, status, env.Error)
	}
	if env.Success || env.Error == nil || env.Error.Code != wantCode {
		t.Errorf("Expected error code %s, got %+v", wantCode, env.Error)
	}
}
