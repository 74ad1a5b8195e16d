package grid

import (
	"context"
	"errors"
	"fmt"
)

// Alert messages raised by the stream lifecycle
const (
	msgTargetNotFound = "Video element not found"
	msgUnsupported    = "Stream format not supported"
)

// binding is the single decoder attached to a camera's render target
type binding struct {
	gen     uint64
	decoder Decoder
}

// Connect (re)connects a camera's stream. The render target is looked up
// one loop turn later so a target mounted in the same turn is found.
// During playback it is a no-op; going live connects every camera.
func (c *Controller) Connect(ctx context.Context, id string) error {
	return c.do(ctx, func() error {
		if !c.connect(id) {
			return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
		}
		return nil
	})
}

// Disconnect destroys the camera's decoder, if any, and returns it to idle
func (c *Controller) Disconnect(ctx context.Context, id string) error {
	return c.do(ctx, func() error {
		if !c.disconnect(id) {
			return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
		}
		return nil
	})
}

func (c *Controller) connect(id string) bool {
	cam, ok := c.camera(id)
	if !ok {
		return false
	}

	if !c.st.live {
		c.logger.Debug("Skipping connect during playback", "camera", id)
		return true
	}
	if url, latched := c.unsupported[id]; latched && url == cam.StreamURL {
		c.logger.Debug("Skipping connect for unsupported stream", "camera", id)
		return true
	}

	c.gen++
	gen := c.gen
	c.pending[id] = gen

	c.updateCamera(id, func(cam Camera) Camera {
		cam.IsLoading = true
		cam.Stream = StreamLoading
		return cam
	})

	c.post(func(c *Controller) { c.resolve(id, gen) })
	return true
}

// resolve runs one turn after connect and binds a fresh decoder
func (c *Controller) resolve(id string, gen uint64) {
	if c.pending[id] != gen {
		return
	}
	delete(c.pending, id)

	cam, ok := c.camera(id)
	if !ok {
		return
	}

	target, ok := c.targets.Target(id)
	if !ok {
		c.logger.Warn("Render target not found", "camera", id)
		c.fail(id, msgTargetNotFound)
		return
	}

	// Never two decoders on one target: the old one goes first.
	c.release(id)

	dec, err := c.decoders.NewDecoder(DecoderEvents{
		OnReady: func() {
			c.post(func(c *Controller) { c.onReady(id, gen) })
		},
		OnError: func(err error) {
			c.post(func(c *Controller) { c.onDecoderError(id, gen, err) })
		},
	})
	if err != nil {
		if errors.Is(err, ErrUnsupportedFormat) {
			c.unsupported[id] = cam.StreamURL
			c.fail(id, msgUnsupported)
			return
		}
		c.fail(id, fmt.Sprintf("Failed to create decoder: %v", err))
		return
	}
	c.bindings[id] = &binding{gen: gen, decoder: dec}

	if err := dec.Attach(target); err != nil {
		c.fail(id, fmt.Sprintf("Failed to attach stream: %v", err))
		return
	}
	if err := dec.LoadSource(cam.SourceURL()); err != nil {
		c.fail(id, fmt.Sprintf("Failed to load stream: %v", err))
		return
	}
	c.logger.Debug("Decoder attached", "camera", id, "target", target.TargetID())
}

func (c *Controller) current(id string, gen uint64) (*binding, bool) {
	b, ok := c.bindings[id]
	if !ok || b.gen != gen {
		return nil, false
	}
	return b, true
}

func (c *Controller) onReady(id string, gen uint64) {
	b, ok := c.current(id, gen)
	if !ok {
		return
	}
	if err := b.decoder.Play(); err != nil {
		c.fail(id, fmt.Sprintf("Playback failed: %v", err))
		return
	}
	c.updateCamera(id, func(cam Camera) Camera {
		cam.IsLoading = false
		cam.IsConnected = true
		cam.Stream = StreamConnected
		return cam
	})
	c.logger.Info("Stream connected", "camera", id)
}

func (c *Controller) onDecoderError(id string, gen uint64, err error) {
	if _, ok := c.current(id, gen); !ok {
		return
	}
	if errors.Is(err, ErrUnsupportedFormat) {
		if cam, ok := c.camera(id); ok {
			c.unsupported[id] = cam.StreamURL
		}
		c.release(id)
		c.fail(id, msgUnsupported)
		return
	}
	c.fail(id, fmt.Sprintf("Stream error: %v", err))
}

// fail records a scoped stream failure. The decoder stays bound so the
// next connect tears it down before creating another, but its events no
// longer count.
func (c *Controller) fail(id, message string) {
	if b, ok := c.bindings[id]; ok {
		b.gen = 0
	}
	c.addAlert(id, message)
	c.updateCamera(id, func(cam Camera) Camera {
		cam.IsLoading = false
		cam.IsConnected = false
		cam.Stream = StreamError
		return cam
	})
	c.logger.Warn("Stream failed", "camera", id, "reason", message)
}

func (c *Controller) disconnect(id string) bool {
	if c.indexOf(id) < 0 {
		return false
	}
	delete(c.pending, id)
	c.release(id)
	c.updateCamera(id, func(cam Camera) Camera {
		cam.IsLoading = false
		cam.IsConnected = false
		cam.Stream = StreamIdle
		return cam
	})
	return true
}

// release destroys the decoder bound to id, if any
func (c *Controller) release(id string) {
	b, ok := c.bindings[id]
	if !ok {
		return
	}
	delete(c.bindings, id)
	b.decoder.Destroy()
}

// ConnectAll connects every camera
func (c *Controller) ConnectAll(ctx context.Context) error {
	return c.do(ctx, func() error {
		for _, id := range c.cameraIDs() {
			c.connect(id)
		}
		return nil
	})
}
