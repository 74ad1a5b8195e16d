// Package events runs the embedded NATS bus that carries grid alerts,
// committed configurations and PTZ commands to other processes
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Subjects
const (
	SubjectAlerts          = "grid.alerts"           // grid.alerts.<camera id>
	SubjectPTZ             = "grid.ptz"              // grid.ptz.<camera id>
	SubjectConfigCommitted = "grid.config.committed" // one message per saved snapshot
)

// AlertSubject returns the alert subject of a camera
func AlertSubject(cameraID string) string {
	return SubjectAlerts + "." + cameraID
}

// PTZSubject returns the PTZ command subject of a camera
func PTZSubject(cameraID string) string {
	return SubjectPTZ + "." + cameraID
}

// Config configures the embedded server
type Config struct {
	Host string
	// Port of the server; -1 picks a free port
	Port int
}

// Bus is an embedded NATS server with a client connection
type Bus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subsMu sync.Mutex
	subs   []*nats.Subscription
}

// New starts the embedded server and connects to it
func New(cfg Config, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = server.RANDOM_PORT
	}

	ns, err := server.NewServer(&server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoSigs: true,
		NoLog:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds (port %d)", cfg.Port)
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Name("streamgrid"))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	b := &Bus{
		server: ns,
		conn:   nc,
		logger: logger.With("component", "eventbus"),
	}
	b.logger.Info("Event bus started", "url", ns.ClientURL())
	return b, nil
}

// ClientURL returns the URL other processes connect to
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Publish sends data as JSON
func (b *Bus) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return b.conn.Publish(subject, payload)
}

// Subscribe registers handler for subject. Subscriptions end on Close.
func (b *Bus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}

	b.subsMu.Lock()
	b.subs = append(b.subs, sub)
	b.subsMu.Unlock()
	return sub, nil
}

// Flush waits until the server has processed everything sent so far
func (b *Bus) Flush(ctx context.Context) error {
	return b.conn.FlushWithContext(ctx)
}

// Health reports whether the client connection is up
func (b *Bus) Health(context.Context) error {
	if !b.conn.IsConnected() {
		return errors.New("NATS connection not active")
	}
	return nil
}

// Close drains the connection and stops the server
func (b *Bus) Close() {
	b.subsMu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.subsMu.Unlock()

	_ = b.conn.Drain()
	b.server.Shutdown()
	b.logger.Info("Event bus stopped")
}
