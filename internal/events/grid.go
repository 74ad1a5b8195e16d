package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Spatial-NVR/streamgrid/internal/grid"
	"github.com/Spatial-NVR/streamgrid/internal/layout"
)

// AlertEvent is published for every external alert notification
type AlertEvent struct {
	CameraID    string    `json:"camera_id"`
	CameraTitle string    `json:"camera_title"`
	AlertID     int64     `json:"alert_id"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// PTZCommand is published for every PTZ command of a ptz-capable camera
type PTZCommand struct {
	CameraID  string         `json:"camera_id"`
	Direction grid.Direction `json:"direction"`
	Timestamp time.Time      `json:"timestamp"`
}

// ConfigEvent announces a committed configuration
type ConfigEvent struct {
	RevisionID  string      `json:"revision_id,omitempty"`
	Source      string      `json:"source"`
	Title       string      `json:"title"`
	Layout      layout.Mode `json:"layout"`
	CameraCount int         `json:"camera_count"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Notifier publishes grid notifications as AlertEvents. Publishing only
// buffers, so it is safe on the controller goroutine.
type Notifier struct {
	bus    *Bus
	logger *slog.Logger
}

// NewNotifier creates a notifier on bus
func NewNotifier(bus *Bus) *Notifier {
	return &Notifier{bus: bus, logger: bus.logger}
}

// Notify implements grid.Notifier
func (n *Notifier) Notify(msg grid.Notification) {
	err := n.bus.Publish(AlertSubject(msg.CameraID), AlertEvent{
		CameraID:    msg.CameraID,
		CameraTitle: msg.Title,
		AlertID:     msg.Alert.ID,
		Message:     msg.Alert.Message,
		Timestamp:   msg.Alert.Timestamp,
	})
	if err != nil {
		n.logger.Warn("Failed to publish alert", "camera", msg.CameraID, "error", err)
	}
}

// PTZRelay forwards PTZ commands to whoever drives the camera
type PTZRelay struct {
	bus *Bus
	now func() time.Time
}

// NewPTZRelay creates a relay on bus
func NewPTZRelay(bus *Bus) *PTZRelay {
	return &PTZRelay{bus: bus, now: time.Now}
}

// SendPTZ implements grid.PTZRelay
func (r *PTZRelay) SendPTZ(ctx context.Context, cameraID string, dir grid.Direction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cmd := PTZCommand{CameraID: cameraID, Direction: dir, Timestamp: r.now()}
	if err := r.bus.Publish(PTZSubject(cameraID), cmd); err != nil {
		return fmt.Errorf("publish %s: %w", PTZSubject(cameraID), err)
	}
	return nil
}

// PublishConfig announces a committed snapshot
func (b *Bus) PublishConfig(revisionID, source string, s grid.Snapshot) error {
	return b.Publish(SubjectConfigCommitted, ConfigEvent{
		RevisionID:  revisionID,
		Source:      source,
		Title:       s.Title,
		Layout:      s.GridLayout,
		CameraCount: len(s.Cameras),
		Timestamp:   time.Now(),
	})
}
