package grid

import (
	"context"
	"fmt"

	"github.com/Spatial-NVR/streamgrid/internal/layout"
)

// SetLayout switches the layout mode. Entering or leaving free-form
// retiles every camera; fixed-grid switches keep stored placement.
func (c *Controller) SetLayout(ctx context.Context, mode layout.Mode) error {
	return c.do(ctx, func() error {
		if _, ok := layout.Lookup(mode); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownLayout, mode)
		}
		c.st.layout = c.st.layout.WithMode(mode, c.cameraIDs())
		c.dirty = true
		return nil
	})
}

// MoveCamera replaces a tile's free-form position
func (c *Controller) MoveCamera(ctx context.Context, id string, p layout.Position) error {
	return c.do(ctx, func() error {
		if err := c.checkFreeForm(id, c.st.draggable, "dragging"); err != nil {
			return err
		}
		c.st.layout = c.st.layout.Move(id, p)
		c.dirty = true
		return nil
	})
}

// ResizeCamera replaces a tile's free-form size
func (c *Controller) ResizeCamera(ctx context.Context, id string, sz layout.Size) error {
	return c.do(ctx, func() error {
		if err := c.checkFreeForm(id, c.st.resizable, "resizing"); err != nil {
			return err
		}
		c.st.layout = c.st.layout.Resize(id, sz)
		c.dirty = true
		return nil
	})
}

func (c *Controller) checkFreeForm(id string, enabled bool, what string) error {
	if c.indexOf(id) < 0 {
		return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}
	if c.st.layout.Mode != layout.FreeForm {
		return fmt.Errorf("%w: %s requires free-form layout", ErrLayoutLocked, what)
	}
	if !enabled {
		return fmt.Errorf("%w: %s is disabled", ErrLayoutLocked, what)
	}
	return nil
}

// ResetLayout retiles every camera regardless of mode
func (c *Controller) ResetLayout(ctx context.Context) error {
	return c.do(ctx, func() error {
		c.st.layout = c.st.layout.Reset(c.cameraIDs())
		c.dirty = true
		return nil
	})
}
