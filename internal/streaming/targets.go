// Package streaming connects the grid to real video: browser render
// targets and the go2rtc relay that serves their streams
package streaming

import (
	"sort"
	"sync"
	"time"

	"github.com/Spatial-NVR/streamgrid/internal/grid"
)

// Target is a video element a browser client has mounted for a camera
type Target struct {
	CameraID  string    `json:"camera_id"`
	ClientID  string    `json:"client_id"`
	MountedAt time.Time `json:"mounted_at"`
}

// TargetID implements grid.Target
func (t Target) TargetID() string { return t.CameraID }

// TargetTable tracks mounted render targets. Several clients may show the
// same camera; the camera has a target while at least one is mounted.
type TargetTable struct {
	mu       sync.RWMutex
	byCamera map[string][]Target
}

// NewTargetTable creates an empty table
func NewTargetTable() *TargetTable {
	return &TargetTable{byCamera: make(map[string][]Target)}
}

// Mount records a target. Returns true if it is the camera's first one.
func (t *TargetTable) Mount(clientID, cameraID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing := t.byCamera[cameraID]
	for _, target := range existing {
		if target.ClientID == clientID {
			return false
		}
	}
	t.byCamera[cameraID] = append(existing, Target{
		CameraID:  cameraID,
		ClientID:  clientID,
		MountedAt: time.Now(),
	})
	return len(existing) == 0
}

// Unmount removes a target. Returns true if the camera has none left.
func (t *TargetTable) Unmount(clientID, cameraID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unmountLocked(clientID, cameraID)
}

func (t *TargetTable) unmountLocked(clientID, cameraID string) bool {
	existing, ok := t.byCamera[cameraID]
	if !ok {
		return false
	}
	kept := make([]Target, 0, len(existing))
	for _, target := range existing {
		if target.ClientID != clientID {
			kept = append(kept, target)
		}
	}
	if len(kept) == len(existing) {
		return false
	}
	if len(kept) == 0 {
		delete(t.byCamera, cameraID)
		return true
	}
	t.byCamera[cameraID] = kept
	return false
}

// UnmountClient removes every target of a client and returns the cameras
// left without a target, sorted
func (t *TargetTable) UnmountClient(clientID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var orphaned []string
	for cameraID := range t.byCamera {
		if t.unmountLocked(clientID, cameraID) {
			orphaned = append(orphaned, cameraID)
		}
	}
	sort.Strings(orphaned)
	return orphaned
}

// Target implements grid.TargetRegistry
func (t *TargetTable) Target(cameraID string) (grid.Target, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	targets := t.byCamera[cameraID]
	if len(targets) == 0 {
		return nil, false
	}
	return targets[0], true
}

// Mounted returns the cameras that have a target, sorted
func (t *TargetTable) Mounted() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.byCamera))
	for id := range t.byCamera {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
