package grid

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AddCamera registers a new camera and places it after the existing tiles.
// Descriptors are accepted as given; required fields are not checked here.
func (c *Controller) AddCamera(ctx context.Context, d Descriptor) (Camera, error) {
	var added Camera
	err := c.do(ctx, func() error {
		added = c.addCamera(uuid.NewString(), d)
		return nil
	})
	return added, err
}

func (c *Controller) addCamera(id string, d Descriptor) Camera {
	cam := newCamera(id, d)
	index := len(c.st.cameras)

	next := make([]Camera, 0, index+1)
	next = append(next, c.st.cameras...)
	c.st.cameras = append(next, cam)
	c.st.layout = c.st.layout.Place(id, index)
	c.dirty = true

	c.logger.Info("Camera added", "camera", id, "title", d.Title)

	if c.st.live {
		c.connect(id)
	}
	cam, _ = c.camera(id)
	return cam
}

// RemoveCamera deletes a camera together with its layout entries, timers
// and decoder
func (c *Controller) RemoveCamera(ctx context.Context, id string) error {
	return c.do(ctx, func() error {
		if !c.removeCamera(id) {
			return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
		}
		return nil
	})
}

func (c *Controller) removeCamera(id string) bool {
	index := c.indexOf(id)
	if index < 0 {
		return false
	}

	c.teardownCamera(id)

	next := make([]Camera, 0, len(c.st.cameras)-1)
	next = append(next, c.st.cameras[:index]...)
	c.st.cameras = append(next, c.st.cameras[index+1:]...)
	c.st.layout = c.st.layout.Remove(id)

	if sel := c.st.selected; sel != nil {
		switch {
		case *sel == index:
			c.st.selected = nil
		case *sel > index:
			shifted := *sel - 1
			c.st.selected = &shifted
		}
	}
	if c.st.editingCamera == id {
		c.st.editingCamera = ""
	}
	c.dirty = true

	c.logger.Info("Camera removed", "camera", id)
	return true
}

// teardownCamera releases every resource held for a camera
func (c *Controller) teardownCamera(id string) {
	c.release(id)
	delete(c.pending, id)
	delete(c.unsupported, id)
	c.stopMotion(id)
	c.stopPlayback(id)
}

// UpdateCamera replaces one descriptor field. field uses the descriptor's
// JSON key, e.g. "streamUrl".
func (c *Controller) UpdateCamera(ctx context.Context, id, field string, value any) error {
	return c.do(ctx, func() error {
		cam, ok := c.camera(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
		}
		d, err := withField(cam.Descriptor, field, value)
		if err != nil {
			return err
		}

		c.updateCamera(id, func(cam Camera) Camera {
			cam.Descriptor = d
			return cam
		})

		if field == FieldStreamURL && d.StreamURL != cam.StreamURL {
			delete(c.unsupported, id)
			if c.st.live {
				c.connect(id)
			}
		}
		if field == FieldMotionDetection && !d.MotionDetection {
			c.updateCamera(id, func(cam Camera) Camera {
				cam.MotionDetected = false
				return cam
			})
		}
		return nil
	})
}

// SelectCamera marks a camera as selected; an empty id clears the selection
func (c *Controller) SelectCamera(ctx context.Context, id string) error {
	return c.do(ctx, func() error {
		if id == "" {
			c.st.selected = nil
			c.dirty = true
			return nil
		}
		index := c.indexOf(id)
		if index < 0 {
			return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
		}
		c.st.selected = &index
		c.dirty = true
		return nil
	})
}

// EditCamera marks the camera whose settings dialog is open; an empty id
// closes it
func (c *Controller) EditCamera(ctx context.Context, id string) error {
	return c.do(ctx, func() error {
		if id != "" && c.indexOf(id) < 0 {
			return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
		}
		c.st.editingCamera = id
		c.dirty = true
		return nil
	})
}
