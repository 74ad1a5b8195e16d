package grid

import (
	"context"
	"fmt"
)

// Direction is a PTZ movement
type Direction string

const (
	PanLeft  Direction = "left"
	PanRight Direction = "right"
	TiltUp   Direction = "up"
	TiltDown Direction = "down"
	ZoomIn   Direction = "zoom-in"
	ZoomOut  Direction = "zoom-out"
	PTZHome  Direction = "home"
)

// ParseDirection validates a direction name
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case PanLeft, PanRight, TiltUp, TiltDown, ZoomIn, ZoomOut, PTZHome:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// SendPTZ records a PTZ command and forwards it to the relay. Cameras
// without the ptz capability ignore commands.
func (c *Controller) SendPTZ(ctx context.Context, id string, dir Direction) error {
	if _, err := ParseDirection(string(dir)); err != nil {
		return err
	}

	enabled := false
	err := c.do(ctx, func() error {
		cam, ok := c.camera(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
		}
		if !cam.PTZ {
			return nil
		}
		enabled = true
		c.addAlert(id, fmt.Sprintf("PTZ command: %s", dir))
		return nil
	})
	if err != nil || !enabled || c.ptz == nil {
		return err
	}

	if err := c.ptz.SendPTZ(ctx, id, dir); err != nil {
		return fmt.Errorf("failed to relay PTZ command: %w", err)
	}
	return nil
}
