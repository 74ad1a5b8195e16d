package grid

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/Spatial-NVR/streamgrid/internal/layout"
)

// Descriptor is the user-authored part of a camera, as sent by the
// add-camera form
type Descriptor struct {
	Title             string `json:"title" yaml:"title"`
	StreamURL         string `json:"streamUrl" yaml:"stream_url"`
	Username          string `json:"username,omitempty" yaml:"username,omitempty"`
	Password          string `json:"password,omitempty" yaml:"password,omitempty"`
	RefreshInterval   int    `json:"refreshInterval" yaml:"refresh_interval"`
	MotionDetection   bool   `json:"motionDetection" yaml:"motion_detection"`
	MotionSensitivity int    `json:"motionSensitivity" yaml:"motion_sensitivity"`
	Notifications     bool   `json:"notifications" yaml:"notifications"`
	RecordingEnabled  bool   `json:"recordingEnabled" yaml:"recording_enabled"`
	StorageRetention  int    `json:"storageRetention" yaml:"storage_retention"`
	PTZ               bool   `json:"ptz" yaml:"ptz"`
}

// CameraConfig is a descriptor with its stable id
type CameraConfig struct {
	ID         string `json:"id" yaml:"id"`
	Descriptor `yaml:",inline"`
}

// StreamState is the per-camera connection state machine
type StreamState string

const (
	StreamIdle      StreamState = "idle"
	StreamLoading   StreamState = "loading"
	StreamConnected StreamState = "connected"
	StreamError     StreamState = "error"
)

// Alert is one entry of a camera's alert log
type Alert struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MaxAlerts bounds each camera's alert log
const MaxAlerts = 50

// Camera is one tile: its descriptor plus runtime state. Camera values in
// a published State are never modified; updates replace them.
type Camera struct {
	ID string `json:"id"`
	Descriptor

	IsPlaying      bool        `json:"isPlaying"`
	IsConnected    bool        `json:"isConnected"`
	IsLoading      bool        `json:"isLoading"`
	MotionDetected bool        `json:"motionDetected"`
	Stream         StreamState `json:"streamState"`
	Alerts         []Alert     `json:"alerts"`
}

func newCamera(id string, d Descriptor) Camera {
	return Camera{
		ID:         id,
		Descriptor: d,
		IsPlaying:  true,
		Stream:     StreamIdle,
		Alerts:     []Alert{},
	}
}

// SourceURL is the stream URL with the descriptor's credentials filled in,
// unless the URL already carries its own
func (d Descriptor) SourceURL() string {
	if d.Username == "" {
		return d.StreamURL
	}
	u, err := url.Parse(d.StreamURL)
	if err != nil || u.Host == "" || u.User != nil {
		return d.StreamURL
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.Username, d.Password)
	} else {
		u.User = url.User(d.Username)
	}
	return u.String()
}

// Config returns the persisted part of the camera
func (c Camera) Config() CameraConfig {
	return CameraConfig{ID: c.ID, Descriptor: c.Descriptor}
}

// appendAlert returns a new log with a appended, dropping the oldest
// entries beyond MaxAlerts
func appendAlert(log []Alert, a Alert) []Alert {
	start := 0
	if len(log)+1 > MaxAlerts {
		start = len(log) + 1 - MaxAlerts
	}
	out := make([]Alert, 0, min(len(log)+1, MaxAlerts))
	out = append(out, log[start:]...)
	return append(out, a)
}

func removeAlert(log []Alert, alertID int64) ([]Alert, bool) {
	out := make([]Alert, 0, len(log))
	found := false
	for _, a := range log {
		if a.ID == alertID {
			found = true
			continue
		}
		out = append(out, a)
	}
	return out, found
}

// Field names accepted by UpdateCamera, matching the descriptor JSON keys
const (
	FieldTitle             = "title"
	FieldStreamURL         = "streamUrl"
	FieldUsername          = "username"
	FieldPassword          = "password"
	FieldRefreshInterval   = "refreshInterval"
	FieldMotionDetection   = "motionDetection"
	FieldMotionSensitivity = "motionSensitivity"
	FieldNotifications     = "notifications"
	FieldRecordingEnabled  = "recordingEnabled"
	FieldStorageRetention  = "storageRetention"
	FieldPTZ               = "ptz"
)

// withField returns d with one field replaced
func withField(d Descriptor, field string, value any) (Descriptor, error) {
	var err error
	switch field {
	case FieldTitle:
		d.Title, err = asString(value)
	case FieldStreamURL:
		d.StreamURL, err = asString(value)
	case FieldUsername:
		d.Username, err = asString(value)
	case FieldPassword:
		d.Password, err = asString(value)
	case FieldRefreshInterval:
		d.RefreshInterval, err = asInt(value)
	case FieldMotionDetection:
		d.MotionDetection, err = asBool(value)
	case FieldMotionSensitivity:
		d.MotionSensitivity, err = asInt(value)
	case FieldNotifications:
		d.Notifications, err = asBool(value)
	case FieldRecordingEnabled:
		d.RecordingEnabled, err = asBool(value)
	case FieldStorageRetention:
		d.StorageRetention, err = asInt(value)
	case FieldPTZ:
		d.PTZ, err = asBool(value)
	default:
		return d, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	if err != nil {
		return d, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: want string, got %T", ErrInvalidValue, v)
	}
	return s, nil
}

func asBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: want bool, got %T", ErrInvalidValue, v)
	}
	return b, nil
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: %v is not an integer", ErrInvalidValue, n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("%w: want number, got %T", ErrInvalidValue, v)
	}
}

// Snapshot is the full grid configuration: what the settings UI edits and
// what Save commits
type Snapshot struct {
	Title           string                     `json:"title" yaml:"title"`
	RefreshRate     int                        `json:"refreshRate" yaml:"refresh_rate"`
	Cameras         []CameraConfig             `json:"cameras" yaml:"cameras"`
	GridLayout      layout.Mode                `json:"gridLayout" yaml:"grid_layout"`
	CameraPositions map[string]layout.Position `json:"cameraPositions" yaml:"camera_positions"`
	CameraSizes     map[string]layout.Size     `json:"cameraSizes" yaml:"camera_sizes"`
	Resizable       bool                       `json:"resizable" yaml:"resizable"`
	Draggable       bool                       `json:"draggable" yaml:"draggable"`
}

// Clone returns a deep copy
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Cameras = append([]CameraConfig(nil), s.Cameras...)
	l := layout.State{Positions: s.CameraPositions, Sizes: s.CameraSizes}.Clone()
	out.CameraPositions = l.Positions
	out.CameraSizes = l.Sizes
	return out
}

// Tile is a camera's implicit cell under a fixed grid
type Tile struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// State is a read-only view of the controller. Under a fixed grid only
// the first Visible cameras have a Tile; the rest are not shown.
type State struct {
	Title           string          `json:"title"`
	Cameras         []Camera        `json:"cameras"`
	Layout          layout.State    `json:"layout"`
	Visible         int             `json:"visibleCount"`
	Tiles           map[string]Tile `json:"tiles,omitempty"`
	Resizable       bool            `json:"resizable"`
	Draggable       bool            `json:"draggable"`
	Live            bool            `json:"live"`
	Editing         bool            `json:"editing"`
	SelectedIndex   *int            `json:"selectedCameraIndex"`
	EditingCameraID string          `json:"editingCameraId,omitempty"`
}

// Camera returns the camera with id from the view
func (s State) Camera(id string) (Camera, bool) {
	for _, c := range s.Cameras {
		if c.ID == id {
			return c, true
		}
	}
	return Camera{}, false
}
