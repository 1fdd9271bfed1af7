// Package sse implements C7: the two long-lived Server-Sent-Events
// endpoints that merge the log aggregator's pull-based log search with the
// event bus's push-based status stream. Grounded on
// apps/ReleaseParty/backend/internal/api/server.go's handler-method-per-
// endpoint shape; SSE framing itself (the `event:`/`data:`/`id:` wire
// format) has no third-party library in the pack, so it is written
// directly against `net/http` and `http.Flusher` the way the teacher
// writes its own hand-rolled wire protocols.
package sse

import (
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"drydock/internal/eventbus"
	"drydock/internal/logaggregator"
	"drydock/internal/store"
)

const (
	deploymentLogBatchSize = 5000
	deploymentStreamCap    = 30 * time.Minute
	pollInterval           = 500 * time.Millisecond
	settleAfter            = 5 * time.Second
)

// Handler wires the collaborators both SSE endpoints read from.
type Handler struct {
	Store      *store.Store
	Bus        *eventbus.Bus
	Logs       *logaggregator.Client
	ProjectTTL time.Duration // stream_expired cap for the per-project endpoint
}

func New(s *store.Store, bus *eventbus.Bus, logs *logaggregator.Client, projectTTL time.Duration) *Handler {
	return &Handler{Store: s, Bus: bus, Logs: logs, ProjectTTL: projectTTL}
}

func writeHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, id, event, data string) bool {
	var b strings.Builder
	if id != "" {
		fmt.Fprintf(&b, "id: %s\n", id)
	}
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	if _, err := w.Write([]byte(b.String())); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

// DeploymentEvents implements C7's per-deployment stream.
func (h *Handler) DeploymentEvents(w http.ResponseWriter, r *http.Request, projectID, deploymentID, startTimestamp string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	writeHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	dep, err := h.Store.GetDeployment(ctx, deploymentID)
	if err != nil {
		writeEvent(w, flusher, "", "deployment_log_closed", "not_found")
		return
	}

	cursor := r.Header.Get("Last-Event-ID")
	if cursor == "" {
		cursor = startTimestamp
	}
	if cursor == "" {
		cursor = strconv.FormatInt(dep.CreatedAt.UTC().UnixNano(), 10)
	}

	statusStream := eventbus.DeploymentStatusStream(projectID, deploymentID)
	statusCursor := "0-0"
	concludedEmitted := false

	deadline := time.Now().Add(deploymentStreamCap)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if time.Now().After(deadline) {
			writeEvent(w, flusher, "", "deployment_log_closed", "timeout")
			return
		}

		lines, err := h.Logs.GetLogs(ctx, logaggregator.Query{
			ProjectID:      projectID,
			DeploymentID:   deploymentID,
			StartTimestamp: cursor,
			Limit:          deploymentLogBatchSize,
		})
		if err == nil && len(lines) > 0 {
			var body strings.Builder
			maxTS := cursor
			for _, l := range lines {
				body.WriteString(html.EscapeString(l.Message))
				body.WriteString("<br>")
				if l.Timestamp > maxTS {
					maxTS = l.Timestamp
				}
			}
			if !writeEvent(w, flusher, "", "deployment_log", body.String()) {
				return
			}
			if n, convErr := strconv.ParseInt(maxTS, 10, 64); convErr == nil {
				cursor = strconv.FormatInt(n+1, 10)
			}
		}

		if !concludedEmitted {
			events, err := h.Bus.Read(ctx, statusStream, statusCursor, -1*time.Millisecond)
			if err == nil {
				for _, e := range events {
					statusCursor = e.ID
					if e.DeploymentStatus == "succeeded" || e.DeploymentStatus == "failed" {
						if !writeEvent(w, flusher, "", "deployment_concluded", e.DeploymentStatus) {
							return
						}
						concludedEmitted = true
						break
					}
				}
			}
		}

		dep, err = h.Store.GetDeployment(ctx, deploymentID)
		if err == nil && dep.Settled(time.Now().UTC(), settleAfter) {
			writeEvent(w, flusher, "", "deployment_log_closed", "")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// statusFragment renders the out-of-band HTML fragment a project-stream
// client swaps into the DOM for any non-creation event.
func statusFragment(e eventbus.Event) string {
	return fmt.Sprintf(
		`<span id="deployment-status-%s" hx-swap-oob="true">%s</span>`,
		html.EscapeString(e.DeploymentID), html.EscapeString(e.DeploymentStatus))
}

// ProjectEvents implements C7's per-project stream.
func (h *Handler) ProjectEvents(w http.ResponseWriter, r *http.Request, projectID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	writeHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	cursor := r.Header.Get("Last-Event-ID")
	if cursor == "" {
		cursor = strconv.FormatInt(time.Now().Add(-2*time.Second).UnixMilli(), 10) + "-0"
	}

	ttl := h.ProjectTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	deadline := time.Now().Add(ttl)
	stream := eventbus.ProjectUpdatesStream(projectID)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if time.Now().After(deadline) {
			writeEvent(w, flusher, "", "stream_expired", "")
			return
		}

		events, err := h.Bus.Read(ctx, stream, cursor, 5*time.Second)
		if err != nil {
			return
		}
		for _, e := range events {
			cursor = e.ID
			data := statusFragment(e)
			if e.Type == eventbus.EventDeploymentCreation {
				data = e.DeploymentID
			}
			if !writeEvent(w, flusher, e.ID, string(e.Type), data) {
				return
			}
		}
	}
}
