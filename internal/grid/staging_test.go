package grid

import (
	"errors"
	"reflect"
	"testing"

	"github.com/Spatial-NVR/streamgrid/internal/layout"
)

func connectedHarness(t *testing.T, ids ...string) *harness {
	t.Helper()
	h := newHarness(t, snapshotWith(layout.Grid2x2, ids...))
	h.targets.mount(ids...)
	if err := h.ctrl.ConnectAll(h.ctx); err != nil {
		t.Fatalf("ConnectAll failed: %v", err)
	}
	h.sync()
	return h
}

func TestEdit_CancelRestoresConfig(t *testing.T) {
	h := connectedHarness(t, "cam1", "cam2")

	before, err := h.ctrl.Config(h.ctx)
	if err != nil {
		t.Fatalf("Config failed: %v", err)
	}

	if err := h.ctrl.BeginEdit(h.ctx); err != nil {
		t.Fatalf("BeginEdit failed: %v", err)
	}
	added := h.add("garage")
	if err := h.ctrl.RemoveCamera(h.ctx, "cam1"); err != nil {
		t.Fatalf("RemoveCamera failed: %v", err)
	}
	_ = h.ctrl.UpdateCamera(h.ctx, "cam2", FieldTitle, "Renamed")
	_ = h.ctrl.SetLayout(h.ctx, layout.FreeForm)
	_ = h.ctrl.UpdateSettings(h.ctx, Settings{Title: "Draft", RefreshRate: 10})

	if err := h.ctrl.Cancel(h.ctx); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	after, err := h.ctrl.Config(h.ctx)
	if err != nil {
		t.Fatalf("Config failed: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("Config after cancel differs:\nbefore: %+v\nafter:  %+v", before, after)
	}

	s := h.state()
	if s.Editing {
		t.Error("Session should be closed")
	}
	if _, ok := s.Camera(added.ID); ok {
		t.Error("Camera added during the session should be gone")
	}
	if h.decoders.live("cam1") != 1 {
		t.Errorf("Restored camera should be reconnected, got %d live decoders", h.decoders.live("cam1"))
	}
	if h.decoders.doubleDestroy != 0 {
		t.Errorf("Decoder destroyed twice: %d", h.decoders.doubleDestroy)
	}
	if len(h.commits) != 0 {
		t.Errorf("Cancel must not commit, got %d commits", len(h.commits))
	}
}

func TestEdit_SaveCommitsMerged(t *testing.T) {
	h := connectedHarness(t, "cam1")

	_ = h.ctrl.BeginEdit(h.ctx)
	added := h.add("porch")
	_ = h.ctrl.SetLayout(h.ctx, layout.Grid3x3)
	_ = h.ctrl.UpdateSettings(h.ctx, Settings{Title: "Site B", RefreshRate: 30})
	_ = h.ctrl.SetToggles(h.ctx, false, true)

	auth, _ := h.ctrl.Authoritative(h.ctx)
	if len(auth.Cameras) != 1 || auth.Title != "Fleet" {
		t.Fatalf("Authoritative config should not change before save, got %+v", auth)
	}
	if len(h.commits) != 0 {
		t.Fatalf("Nothing should be committed before save, got %d", len(h.commits))
	}

	saved, err := h.ctrl.Save(h.ctx)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if saved.Title != "Site B" || saved.RefreshRate != 30 {
		t.Errorf("Unexpected settings: %+v", saved)
	}
	if saved.GridLayout != layout.Grid3x3 {
		t.Errorf("Expected layout %s, got %s", layout.Grid3x3, saved.GridLayout)
	}
	if saved.Resizable || !saved.Draggable {
		t.Errorf("Unexpected toggles resizable=%v draggable=%v", saved.Resizable, saved.Draggable)
	}
	if len(saved.Cameras) != 2 || saved.Cameras[1].ID != added.ID {
		t.Fatalf("Expected both cameras in order, got %+v", saved.Cameras)
	}

	if len(h.commits) != 1 {
		t.Fatalf("Expected one commit, got %d", len(h.commits))
	}
	if !reflect.DeepEqual(h.commits[0], saved) {
		t.Error("Committed snapshot should match the returned one")
	}

	auth, _ = h.ctrl.Authoritative(h.ctx)
	if !reflect.DeepEqual(auth, saved) {
		t.Error("Authoritative config should be the saved snapshot")
	}
	if h.state().Editing {
		t.Error("Session should be closed after save")
	}
}

func TestEdit_SessionErrors(t *testing.T) {
	h := newHarness(t, snapshotWith(layout.Grid2x2, "cam1"))

	if _, err := h.ctrl.Save(h.ctx); !errors.Is(err, ErrNotEditing) {
		t.Errorf("Expected ErrNotEditing from Save, got %v", err)
	}
	if err := h.ctrl.Cancel(h.ctx); !errors.Is(err, ErrNotEditing) {
		t.Errorf("Expected ErrNotEditing from Cancel, got %v", err)
	}
	if err := h.ctrl.UpdateSettings(h.ctx, Settings{Title: "x"}); !errors.Is(err, ErrNotEditing) {
		t.Errorf("Expected ErrNotEditing from UpdateSettings, got %v", err)
	}

	if err := h.ctrl.BeginEdit(h.ctx); err != nil {
		t.Fatalf("BeginEdit failed: %v", err)
	}
	if err := h.ctrl.BeginEdit(h.ctx); !errors.Is(err, ErrAlreadyEditing) {
		t.Errorf("Expected ErrAlreadyEditing, got %v", err)
	}
}

func TestEdit_TogglesOutsideSession(t *testing.T) {
	h := newHarness(t, snapshotWith(layout.FreeForm, "cam1"))

	if err := h.ctrl.SetToggles(h.ctx, false, false); err != nil {
		t.Fatalf("SetToggles failed: %v", err)
	}
	s := h.state()
	if s.Resizable || s.Draggable {
		t.Error("Toggles should apply immediately")
	}
	err := h.ctrl.MoveCamera(h.ctx, "cam1", layout.Position{X: 1, Y: 1})
	if !errors.Is(err, ErrLayoutLocked) {
		t.Errorf("Expected ErrLayoutLocked, got %v", err)
	}
}

func TestSetAuthoritative_Immediate(t *testing.T) {
	h := connectedHarness(t, "cam1", "cam2")

	next := snapshotWith(layout.Grid3x2, "cam2", "cam3")
	next.Title = "Reloaded"
	h.targets.mount("cam3")
	if err := h.ctrl.SetAuthoritative(h.ctx, next); err != nil {
		t.Fatalf("SetAuthoritative failed: %v", err)
	}

	s := h.state()
	if s.Title != "Reloaded" || s.Layout.Mode != layout.Grid3x2 {
		t.Errorf("Unexpected state: title=%s mode=%s", s.Title, s.Layout.Mode)
	}
	if len(s.Cameras) != 2 || s.Cameras[0].ID != "cam2" || s.Cameras[1].ID != "cam3" {
		t.Fatalf("Unexpected cameras: %+v", s.Cameras)
	}
	if h.decoders.live("cam1") != 0 {
		t.Error("Dropped camera should be torn down")
	}
	if !s.Cameras[0].IsConnected {
		t.Error("Kept camera should keep its connection")
	}
	if h.decoders.live("cam3") != 1 {
		t.Error("New camera should be connected")
	}
}

func TestSetAuthoritative_DeferredDuringEdit(t *testing.T) {
	h := newHarness(t, snapshotWith(layout.Grid2x2, "cam1"))

	_ = h.ctrl.BeginEdit(h.ctx)
	_ = h.ctrl.UpdateSettings(h.ctx, Settings{Title: "Draft"})

	next := snapshotWith(layout.Grid1x1, "cam9")
	next.Title = "External"
	if err := h.ctrl.SetAuthoritative(h.ctx, next); err != nil {
		t.Fatalf("SetAuthoritative failed: %v", err)
	}

	s := h.state()
	if s.Title != "Draft" {
		t.Errorf("Draft should be untouched during the session, got %s", s.Title)
	}

	_ = h.ctrl.Cancel(h.ctx)
	s = h.state()
	if s.Title != "External" || len(s.Cameras) != 1 || s.Cameras[0].ID != "cam9" {
		t.Errorf("Deferred config should apply after cancel, got %+v", s)
	}
	auth, _ := h.ctrl.Authoritative(h.ctx)
	if auth.Title != "External" {
		t.Errorf("Expected authoritative title External, got %s", auth.Title)
	}
}

func TestBeginEdit_MirrorsAuthoritative(t *testing.T) {
	h := newHarness(t, snapshotWith(layout.Grid2x2, "cam1"))

	_ = h.ctrl.SetToggles(h.ctx, false, false)
	if err := h.ctrl.BeginEdit(h.ctx); err != nil {
		t.Fatalf("BeginEdit failed: %v", err)
	}

	s := h.state()
	if !s.Editing {
		t.Error("Expected editing")
	}
	if !s.Resizable || !s.Draggable {
		t.Error("Rendered toggles should mirror the committed config")
	}
}

func TestBeginEdit_KeepsFreeFormPlacement(t *testing.T) {
	initial := snapshotWith(layout.FreeForm, "cam1", "cam2")
	initial.CameraPositions = map[string]layout.Position{"cam1": {X: 500, Y: 400}}
	initial.CameraSizes = map[string]layout.Size{"cam1": {Width: 640, Height: 480}}
	h := newHarness(t, initial)

	// Uncommitted drag outside a session; the session starts from the
	// committed placement.
	_ = h.ctrl.MoveCamera(h.ctx, "cam1", layout.Position{X: 1, Y: 1})

	if err := h.ctrl.BeginEdit(h.ctx); err != nil {
		t.Fatalf("BeginEdit failed: %v", err)
	}
	s := h.state()
	if got := s.Layout.Positions["cam1"]; got != (layout.Position{X: 500, Y: 400}) {
		t.Errorf("Expected stored position, got %+v", got)
	}
	if got := s.Layout.Sizes["cam1"]; got != (layout.Size{Width: 640, Height: 480}) {
		t.Errorf("Expected stored size, got %+v", got)
	}
	wantPos, wantSize := layout.PositionFor(1)
	if s.Layout.Positions["cam2"] != wantPos || s.Layout.Sizes["cam2"] != wantSize {
		t.Errorf("Camera without placement should be tiled, got %+v %+v", s.Layout.Positions["cam2"], s.Layout.Sizes["cam2"])
	}

	saved, err := h.ctrl.Save(h.ctx)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved.CameraPositions["cam1"] != (layout.Position{X: 500, Y: 400}) {
		t.Errorf("Save should keep the stored position, got %+v", saved.CameraPositions["cam1"])
	}
	if saved.CameraSizes["cam1"] != (layout.Size{Width: 640, Height: 480}) {
		t.Errorf("Save should keep the stored size, got %+v", saved.CameraSizes["cam1"])
	}
}
