package grid

import (
	"context"
	"fmt"

	"github.com/Spatial-NVR/streamgrid/internal/clock"
)

const msgMotion = "Motion detected"

// motionTimers are the simulated detector timers of one camera
type motionTimers struct {
	gen   uint64
	tick  clock.Timer
	clear clock.Timer
}

// reconcileMotion makes the set of running detectors match the cameras
// that have motion detection enabled. Runs after every action.
func (c *Controller) reconcileMotion() {
	wanted := make(map[string]bool, len(c.st.cameras))
	for _, cam := range c.st.cameras {
		if cam.MotionDetection {
			wanted[cam.ID] = true
			if _, running := c.motion[cam.ID]; !running {
				c.startMotion(cam.ID)
			}
		}
	}
	for id := range c.motion {
		if !wanted[id] {
			c.stopMotion(id)
		}
	}
}

func (c *Controller) startMotion(id string) {
	c.gen++
	m := &motionTimers{gen: c.gen}
	c.motion[id] = m
	c.scheduleMotion(id, m)
}

func (c *Controller) scheduleMotion(id string, m *motionTimers) {
	gen := m.gen
	m.tick = c.clock.AfterFunc(MotionInterval, func() {
		c.post(func(c *Controller) { c.motionTick(id, gen) })
	})
}

func (c *Controller) stopMotion(id string) {
	m, ok := c.motion[id]
	if !ok {
		return
	}
	delete(c.motion, id)
	if m.tick != nil {
		m.tick.Stop()
	}
	if m.clear != nil {
		m.clear.Stop()
	}
}

func (c *Controller) liveMotion(id string, gen uint64) (*motionTimers, bool) {
	m, ok := c.motion[id]
	if !ok || m.gen != gen {
		return nil, false
	}
	return m, true
}

func (c *Controller) motionTick(id string, gen uint64) {
	m, ok := c.liveMotion(id, gen)
	if !ok {
		return
	}
	c.scheduleMotion(id, m)

	if c.rand.Float64() >= MotionProbability {
		return
	}
	c.detectMotion(id, m)
}

// detectMotion raises a motion event. The alert log always records it;
// the external notification only fires when the camera has notifications
// enabled.
func (c *Controller) detectMotion(id string, m *motionTimers) {
	c.updateCamera(id, func(cam Camera) Camera {
		cam.MotionDetected = true
		return cam
	})
	alert, ok := c.addAlert(id, msgMotion)
	if !ok {
		return
	}

	cam, _ := c.camera(id)
	if cam.Notifications && c.notifier != nil {
		c.notifier.Notify(Notification{CameraID: id, Title: cam.Title, Alert: alert})
	}

	if m.clear != nil {
		m.clear.Stop()
	}
	gen := m.gen
	m.clear = c.clock.AfterFunc(MotionClearAfter, func() {
		c.post(func(c *Controller) { c.clearMotion(id, gen) })
	})
}

func (c *Controller) clearMotion(id string, gen uint64) {
	m, ok := c.liveMotion(id, gen)
	if !ok {
		return
	}
	m.clear = nil
	c.updateCamera(id, func(cam Camera) Camera {
		cam.MotionDetected = false
		return cam
	})
}

// ClearAlerts empties a camera's alert log
func (c *Controller) ClearAlerts(ctx context.Context, id string) error {
	return c.do(ctx, func() error {
		ok := c.updateCamera(id, func(cam Camera) Camera {
			cam.Alerts = []Alert{}
			return cam
		})
		if !ok {
			return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
		}
		return nil
	})
}

// DeleteAlert removes one alert by id. Deleting an unknown alert is a no-op.
func (c *Controller) DeleteAlert(ctx context.Context, id string, alertID int64) error {
	return c.do(ctx, func() error {
		ok := c.updateCamera(id, func(cam Camera) Camera {
			cam.Alerts, _ = removeAlert(cam.Alerts, alertID)
			return cam
		})
		if !ok {
			return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
		}
		return nil
	})
}
