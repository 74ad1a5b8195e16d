package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Spatial-NVR/streamgrid/internal/grid"
	"github.com/Spatial-NVR/streamgrid/internal/layout"
)

func startBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := New(Config{Port: -1}, nil)
	if err != nil {
		t.Fatalf("Failed to start bus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

func receive[T any](t *testing.T, ch chan *nats.Msg) (string, T) {
	t.Helper()
	var v T
	select {
	case msg := <-ch:
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			t.Fatalf("Failed to decode %s: %v", msg.Subject, err)
		}
		return msg.Subject, v
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for message")
	}
	return "", v
}

func subscribe(t *testing.T, bus *Bus, subject string) chan *nats.Msg {
	t.Helper()
	ch := make(chan *nats.Msg, 8)
	if _, err := bus.Subscribe(subject, func(m *nats.Msg) { ch <- m }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := bus.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	return ch
}

func TestBus_StartAndHealth(t *testing.T) {
	bus := startBus(t)

	if bus.ClientURL() == "" {
		t.Error("Expected a client URL")
	}
	if err := bus.Health(context.Background()); err != nil {
		t.Errorf("Health failed: %v", err)
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := startBus(t)
	ch := subscribe(t, bus, "test.subject")

	if err := bus.Publish("test.subject", map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	_, got := receive[map[string]string](t, ch)
	if got["hello"] != "world" {
		t.Errorf("Unexpected payload %v", got)
	}
}

func TestBus_PublishUnencodable(t *testing.T) {
	bus := startBus(t)
	if err := bus.Publish("x", make(chan int)); err == nil {
		t.Error("Expected marshal error")
	}
}

func TestNotifier(t *testing.T) {
	bus := startBus(t)
	ch := subscribe(t, bus, SubjectAlerts+".>")

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	NewNotifier(bus).Notify(grid.Notification{
		CameraID: "cam1",
		Title:    "Front Door",
		Alert:    grid.Alert{ID: 42, Message: "Motion detected", Timestamp: at},
	})

	subject, ev := receive[AlertEvent](t, ch)
	if subject != "grid.alerts.cam1" {
		t.Errorf("Unexpected subject %s", subject)
	}
	if ev.CameraID != "cam1" || ev.CameraTitle != "Front Door" || ev.AlertID != 42 {
		t.Errorf("Unexpected event %+v", ev)
	}
	if !ev.Timestamp.Equal(at) {
		t.Errorf("Unexpected timestamp %v", ev.Timestamp)
	}
}

func TestPTZRelay(t *testing.T) {
	bus := startBus(t)
	ch := subscribe(t, bus, PTZSubject("cam7"))

	relay := NewPTZRelay(bus)
	if err := relay.SendPTZ(context.Background(), "cam7", grid.ZoomIn); err != nil {
		t.Fatalf("SendPTZ failed: %v", err)
	}

	_, cmd := receive[PTZCommand](t, ch)
	if cmd.CameraID != "cam7" || cmd.Direction != grid.ZoomIn {
		t.Errorf("Unexpected command %+v", cmd)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := relay.SendPTZ(ctx, "cam7", grid.PanLeft); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestPublishConfig(t *testing.T) {
	bus := startBus(t)
	ch := subscribe(t, bus, SubjectConfigCommitted)

	snap := grid.Snapshot{
		Title:      "Lobby",
		GridLayout: layout.Grid3x2,
		Cameras:    []grid.CameraConfig{{ID: "a"}, {ID: "b"}},
	}
	if err := bus.PublishConfig("rev-1", "save", snap); err != nil {
		t.Fatalf("PublishConfig failed: %v", err)
	}

	_, ev := receive[ConfigEvent](t, ch)
	if ev.RevisionID != "rev-1" || ev.Layout != layout.Grid3x2 || ev.CameraCount != 2 {
		t.Errorf("Unexpected event %+v", ev)
	}
}
