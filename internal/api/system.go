package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/Spatial-NVR/streamgrid/internal/logging"
)

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

// HealthStatus is the body of the health endpoint
type HealthStatus struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// HealthHandler runs every check. Any failure marks the service degraded
// and answers 503.
func HealthHandler(version string, checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := HealthStatus{Status: "healthy", Version: version, Checks: make(map[string]string, len(checks))}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				health.Status = "degraded"
				health.Checks[name] = err.Error()
				continue
			}
			health.Checks[name] = "ok"
		}

		status := http.StatusOK
		if health.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(health)
	}
}

// LogsHandler returns recent log entries. Query parameters: limit,
// component and level (minimum).
func LogsHandler(buffer *logging.Buffer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := logQuery(r)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}
		entries := buffer.Recent(q)
		JSONWithMeta(w, http.StatusOK, entries, &Meta{Total: len(entries), Limit: q.Limit})
	}
}

// LogStreamHandler streams new log entries as Server-Sent Events
func LogStreamHandler(buffer *logging.Buffer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := logQuery(r)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		entries := buffer.Subscribe()
		defer buffer.Unsubscribe(entries)

		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case e, ok := <-entries:
				if !ok {
					return
				}
				if q.Component != "" && e.Component != q.Component {
					continue
				}
				if lvl, err := logging.ParseLevel(e.Level); err == nil && lvl < q.MinLevel {
					continue
				}
				data, err := json.Marshal(e)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}

func logQuery(r *http.Request) (logging.Query, error) {
	values := r.URL.Query()
	q := logging.Query{Limit: 200, Component: values.Get("component"), MinLevel: slog.LevelDebug}

	if v := values.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return q, fmt.Errorf("invalid limit %q", v)
		}
		q.Limit = n
	}
	if v := values.Get("level"); v != "" {
		lvl, err := logging.ParseLevel(v)
		if err != nil {
			return q, err
		}
		q.MinLevel = lvl
	}
	return q, nil
}
