package grid

import (
	"errors"
	"testing"
	"time"

	"github.com/Spatial-NVR/streamgrid/internal/layout"
)

func TestToggleLive_RoundTrip(t *testing.T) {
	h := connectedHarness(t, "cam1", "cam2", "cam3")
	created := h.decoders.created()

	live, err := h.ctrl.ToggleLive(h.ctx)
	if err != nil {
		t.Fatalf("ToggleLive failed: %v", err)
	}
	if live {
		t.Fatal("Expected playback mode")
	}
	if h.decoders.destroyCount() != 3 {
		t.Errorf("Expected 3 decoders destroyed, got %d", h.decoders.destroyCount())
	}
	for _, cam := range h.state().Cameras {
		if cam.IsConnected || cam.Stream != StreamIdle {
			t.Errorf("Camera %s should be idle, got %+v", cam.ID, cam)
		}
	}

	live, _ = h.ctrl.ToggleLive(h.ctx)
	if !live {
		t.Fatal("Expected live mode")
	}
	h.sync()
	if got := h.decoders.created() - created; got != 3 {
		t.Errorf("Expected exactly 3 new decoders, got %d", got)
	}
	for _, id := range []string{"cam1", "cam2", "cam3"} {
		if h.decoders.live(id) != 1 {
			t.Errorf("Camera %s should have one live decoder, got %d", id, h.decoders.live(id))
		}
	}
	if h.decoders.doubleDestroy != 0 {
		t.Errorf("Decoder destroyed twice: %d", h.decoders.doubleDestroy)
	}
}

func TestLoadRecording(t *testing.T) {
	h := newHarness(t, snapshotWith(layout.Grid2x2, "cam1"))
	_, _ = h.ctrl.ToggleLive(h.ctx)

	day := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)
	err := h.ctrl.LoadRecording(h.ctx, "cam1", day, TimeRange{Start: "08:00", End: "09:30"})
	if err != nil {
		t.Fatalf("LoadRecording failed: %v", err)
	}

	cam := h.camera("cam1")
	if !cam.IsLoading || cam.Stream != StreamLoading {
		t.Fatalf("Expected loading, got %+v", cam)
	}

	h.advance(PlaybackLatency - time.Millisecond)
	if !h.camera("cam1").IsLoading {
		t.Fatal("Recording should still be loading")
	}

	h.advance(time.Millisecond)
	cam = h.camera("cam1")
	if cam.IsLoading || !cam.IsConnected {
		t.Errorf("Expected loaded recording, got %+v", cam)
	}
	if got, want := lastAlert(cam), "Loaded recording for 2024-02-28 08:00-09:30"; got != want {
		t.Errorf("Expected alert %q, got %q", want, got)
	}
}

func TestLoadRecording_Superseded(t *testing.T) {
	h := newHarness(t, snapshotWith(layout.Grid2x2, "cam1"))
	_, _ = h.ctrl.ToggleLive(h.ctx)

	day := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)
	_ = h.ctrl.LoadRecording(h.ctx, "cam1", day, TimeRange{Start: "08:00", End: "09:00"})
	h.advance(PlaybackLatency / 2)
	_ = h.ctrl.LoadRecording(h.ctx, "cam1", day, TimeRange{Start: "10:00", End: "11:00"})
	h.advance(PlaybackLatency)

	cam := h.camera("cam1")
	if len(cam.Alerts) != 1 {
		t.Fatalf("Expected one alert, got %d", len(cam.Alerts))
	}
	if got := lastAlert(cam); got != "Loaded recording for 2024-02-28 10:00-11:00" {
		t.Errorf("Unexpected alert %q", got)
	}
}

func TestLoadRecording_CancelledByLiveToggle(t *testing.T) {
	h := newHarness(t, snapshotWith(layout.Grid2x2, "cam1"))
	_, _ = h.ctrl.ToggleLive(h.ctx)

	_ = h.ctrl.LoadRecording(h.ctx, "cam1", testStart, TimeRange{Start: "00:00", End: "01:00"})
	_, _ = h.ctrl.ToggleLive(h.ctx)
	h.advance(PlaybackLatency)

	for _, a := range h.camera("cam1").Alerts {
		if a.Message != "Video element not found" {
			t.Errorf("Unexpected alert %q", a.Message)
		}
	}
}

func TestLoadRecording_UnknownCamera(t *testing.T) {
	h := newHarness(t, snapshotWith(layout.Grid2x2))
	err := h.ctrl.LoadRecording(h.ctx, "nope", testStart, TimeRange{})
	if !errors.Is(err, ErrCameraNotFound) {
		t.Errorf("Expected ErrCameraNotFound, got %v", err)
	}
}
