package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Spatial-NVR/streamgrid/internal/grid"
	"github.com/Spatial-NVR/streamgrid/internal/layout"
)

type fakeSource struct {
	state grid.State
	err   error
}

func (f *fakeSource) State(context.Context) (grid.State, error) {
	return f.state, f.err
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	return string(body)
}

func TestCollector_GridState(t *testing.T) {
	source := &fakeSource{state: grid.State{
		Live:    true,
		Layout:  layout.State{Mode: layout.Grid2x2},
		Visible: 2,
		Cameras: []grid.Camera{
			{ID: "a", Descriptor: grid.Descriptor{Title: "Door"}, IsConnected: true, Alerts: []grid.Alert{{ID: 1}, {ID: 2}}},
			{ID: "b", Descriptor: grid.Descriptor{Title: "Gate"}, IsLoading: true, MotionDetected: true},
		},
	}}

	out := scrape(t, New(source))

	for _, want := range []string{
		"streamgrid_up 1",
		`streamgrid_camera_connected{id="a",title="Door"} 1`,
		`streamgrid_camera_connected{id="b",title="Gate"} 0`,
		`streamgrid_camera_motion_detected{id="b"} 1`,
		`streamgrid_camera_alerts{id="a"} 2`,
		`streamgrid_cameras{state="connected"} 1`,
		`streamgrid_cameras{state="loading"} 1`,
		`streamgrid_cameras{state="idle"} 0`,
		"streamgrid_live 1",
		"streamgrid_editing 0",
		`streamgrid_layout_info{mode="2x2"} 1`,
		"streamgrid_visible_cameras 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
}

func TestCollector_SourceError(t *testing.T) {
	out := scrape(t, New(&fakeSource{err: errors.New("closed")}))

	if !strings.Contains(out, "streamgrid_up 0") {
		t.Errorf("Expected streamgrid_up 0, got:\n%s", out)
	}
	if strings.Contains(out, "streamgrid_camera_connected") {
		t.Error("No camera metrics expected when the state is unavailable")
	}
}

type fakeMounts []string

func (f fakeMounts) Mounted() []string { return f }

func TestWatchMounts(t *testing.T) {
	m := New(nil)
	m.WatchMounts(fakeMounts{"cam1", "cam3"})

	if out := scrape(t, m); !strings.Contains(out, "streamgrid_mounted_cameras 2") {
		t.Errorf("Expected mounted gauge in output:\n%s", out)
	}
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	m := New(nil)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/cameras/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cameras/"+id, nil))
	}

	out := scrape(t, m)
	want := `streamgrid_http_requests_total{method="GET",route="/cameras/{id}",status="404"} 2`
	if !strings.Contains(out, want) {
		t.Errorf("Expected %q in output:\n%s", want, out)
	}
}
