package grid

import (
	"context"
	"errors"
)

// Target is an addressable video sink a decoder attaches to. Its concrete
// type is owned by the TargetRegistry and the DecoderFactory.
type Target interface {
	TargetID() string
}

// TargetRegistry resolves the render target mounted for a camera
type TargetRegistry interface {
	Target(cameraID string) (Target, bool)
}

// DecoderEvents are the callbacks a decoder reports through. They may be
// invoked from any goroutine, including synchronously from Attach or
// LoadSource.
type DecoderEvents struct {
	OnReady func()
	OnError func(err error)
}

// Decoder is one media-playback instance bound to a target and a URL
type Decoder interface {
	Attach(target Target) error
	LoadSource(url string) error
	Play() error
	Destroy()
}

// DecoderFactory constructs decoders. It returns ErrUnsupportedFormat when
// neither a decoder nor a native fallback can play streams.
type DecoderFactory interface {
	NewDecoder(events DecoderEvents) (Decoder, error)
}

// PTZRelay forwards pan/tilt/zoom commands to the device-control API
type PTZRelay interface {
	SendPTZ(ctx context.Context, cameraID string, dir Direction) error
}

// Notification is the external side effect of a motion alert
type Notification struct {
	CameraID string `json:"camera_id"`
	Title    string `json:"title"`
	Alert    Alert  `json:"alert"`
}

// Notifier delivers notifications. Notify is called on the controller
// goroutine and must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(n Notification)

// Notify calls f(n)
func (f NotifierFunc) Notify(n Notification) { f(n) }

// Rand is the source of motion-detection randomness
type Rand interface {
	Float64() float64
}

var (
	ErrClosed            = errors.New("grid controller closed")
	ErrCameraNotFound    = errors.New("camera not found")
	ErrUnknownField      = errors.New("unknown camera field")
	ErrInvalidValue      = errors.New("invalid field value")
	ErrUnknownLayout     = errors.New("unknown layout mode")
	ErrLayoutLocked      = errors.New("layout is locked")
	ErrNotEditing        = errors.New("not in edit mode")
	ErrAlreadyEditing    = errors.New("already in edit mode")
	ErrInvalidDirection  = errors.New("invalid PTZ direction")
	ErrUnsupportedFormat = errors.New("stream format not supported")
)
