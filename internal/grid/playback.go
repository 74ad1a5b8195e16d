package grid

import (
	"context"
	"fmt"
	"time"

	"github.com/Spatial-NVR/streamgrid/internal/clock"
)

// TimeRange is a window of a recording day, as "HH:MM" strings
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type playbackLoad struct {
	gen   uint64
	timer clock.Timer
}

// ToggleLive flips between live streaming and playback. Going to playback
// disconnects every camera; coming back connects every camera.
func (c *Controller) ToggleLive(ctx context.Context) (bool, error) {
	var live bool
	err := c.do(ctx, func() error {
		c.st.live = !c.st.live
		live = c.st.live
		c.dirty = true

		for id := range c.playback {
			c.stopPlayback(id)
		}
		for _, id := range c.cameraIDs() {
			if live {
				c.connect(id)
			} else {
				c.disconnect(id)
			}
		}
		c.logger.Info("Grid mode changed", "live", live)
		return nil
	})
	return live, err
}

// LoadRecording simulates loading a camera's recording for a day and
// time window
func (c *Controller) LoadRecording(ctx context.Context, id string, day time.Time, window TimeRange) error {
	return c.do(ctx, func() error {
		if c.indexOf(id) < 0 {
			return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
		}
		c.stopPlayback(id)

		c.updateCamera(id, func(cam Camera) Camera {
			cam.IsLoading = true
			cam.IsConnected = false
			cam.Stream = StreamLoading
			return cam
		})

		c.gen++
		gen := c.gen
		message := fmt.Sprintf("Loaded recording for %s %s-%s", day.Format("2006-01-02"), window.Start, window.End)
		load := &playbackLoad{gen: gen}
		load.timer = c.clock.AfterFunc(PlaybackLatency, func() {
			c.post(func(c *Controller) { c.finishRecording(id, gen, message) })
		})
		c.playback[id] = load
		return nil
	})
}

func (c *Controller) finishRecording(id string, gen uint64, message string) {
	load, ok := c.playback[id]
	if !ok || load.gen != gen {
		return
	}
	delete(c.playback, id)

	c.updateCamera(id, func(cam Camera) Camera {
		cam.IsLoading = false
		cam.IsConnected = true
		cam.Stream = StreamConnected
		return cam
	})
	c.addAlert(id, message)
}

func (c *Controller) stopPlayback(id string) {
	load, ok := c.playback[id]
	if !ok {
		return
	}
	delete(c.playback, id)
	load.timer.Stop()
}
