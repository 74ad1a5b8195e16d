package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Spatial-NVR/streamgrid/internal/grid"
)

// ErrDestroyed is returned by a decoder used after Destroy
var ErrDestroyed = errors.New("decoder destroyed")

// Factory creates decoders that publish a camera's source through go2rtc.
// The browser then plays the relayed stream in the mounted target.
type Factory struct {
	client *Client
	logger *slog.Logger

	mu sync.Mutex
	// removing holds, per stream name, a channel closed once the last
	// removal issued by Destroy has finished
	removing map[string]chan struct{}
}

// NewFactory creates a factory on client
func NewFactory(client *Client) *Factory {
	return &Factory{
		client:   client,
		logger:   slog.Default().With("component", "decoder"),
		removing: make(map[string]chan struct{}),
	}
}

// remove deletes name from go2rtc in the background. Removals of one name
// run in order, and registrations wait for them in awaitRemoval.
func (f *Factory) remove(name string) {
	done := make(chan struct{})
	f.mu.Lock()
	prev := f.removing[name]
	f.removing[name] = done
	f.mu.Unlock()

	go func() {
		defer func() {
			close(done)
			f.mu.Lock()
			if f.removing[name] == done {
				delete(f.removing, name)
			}
			f.mu.Unlock()
		}()
		if prev != nil {
			<-prev
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.client.RemoveStream(ctx, name); err != nil {
			f.logger.Warn("Failed to remove stream", "stream", name, "error", err)
		}
	}()
}

// awaitRemoval blocks until no removal of name is in flight
func (f *Factory) awaitRemoval(ctx context.Context, name string) error {
	f.mu.Lock()
	done := f.removing[name]
	f.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep removes every grid stream go2rtc still holds, e.g. after an
// unclean shutdown. Call it before the first decoder is created.
func (f *Factory) Sweep(ctx context.Context) (int, error) {
	streams, err := f.client.Streams(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for name := range streams {
		if !strings.HasPrefix(name, streamPrefix) {
			continue
		}
		if err := f.client.RemoveStream(ctx, name); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		f.logger.Info("Removed leftover streams", "count", removed)
	}
	return removed, nil
}

// NewDecoder implements grid.DecoderFactory
func (f *Factory) NewDecoder(events grid.DecoderEvents) (grid.Decoder, error) {
	ctx, cancel := context.WithCancel(context.Background())
	return &decoder{
		factory: f,
		events:  events,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

type decoder struct {
	factory *Factory
	events  grid.DecoderEvents
	ctx     context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	name      string
	playing   bool
	destroyed bool
}

func (d *decoder) Attach(t grid.Target) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDestroyed
	}
	d.name = StreamName(t.TargetID())
	return nil
}

// LoadSource validates src and registers it in the background; the
// outcome arrives as OnReady or OnError
func (d *decoder) LoadSource(src string) error {
	d.mu.Lock()
	name, destroyed := d.name, d.destroyed
	d.mu.Unlock()

	if destroyed {
		return ErrDestroyed
	}
	if name == "" {
		return errors.New("decoder not attached")
	}
	u, err := url.Parse(src)
	if err != nil {
		return fmt.Errorf("invalid stream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid stream url %q", src)
	}

	go func() {
		if err := d.factory.awaitRemoval(d.ctx, name); err != nil {
			return
		}
		err := d.factory.client.AddStream(d.ctx, name, src)
		if d.ctx.Err() != nil {
			return
		}
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && se.Code == http.StatusBadRequest {
				err = fmt.Errorf("%w: %s", grid.ErrUnsupportedFormat, se.Body)
			}
			d.events.OnError(err)
			return
		}
		d.factory.logger.Debug("Stream registered", "stream", name)
		d.events.OnReady()
	}()
	return nil
}

func (d *decoder) Play() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDestroyed
	}
	d.playing = true
	return nil
}

// Destroy stops pending registration and removes the stream from go2rtc.
// A later registration of the same name waits for the removal. Safe to
// call more than once.
func (d *decoder) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.playing = false
	name := d.name
	d.mu.Unlock()

	d.cancel()
	if name == "" {
		return
	}
	d.factory.remove(name)
}
