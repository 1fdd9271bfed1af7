// Package eventbus implements C4: append-only per-project and
// per-deployment streams with replayable ids, backed by Redis Streams.
// Grounded on jordigilh-kubernaut's pattern of constructing one shared
// client at process start and injecting it into collaborators (the same
// shape the teacher uses for its Docker and Temporal clients).
package eventbus

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type EventType string

const (
	EventDeploymentCreation    EventType = "deployment_creation"
	EventDeploymentStatusUpdate EventType = "deployment_status_update"
	EventDeploymentRollback    EventType = "deployment_rollback"
)

// Event is one entry appended to a stream. Fields mirror spec §4.4's
// minimal field set.
type Event struct {
	ID               string // opaque, assigned by Append
	Type             EventType
	ProjectID        string
	DeploymentID     string
	DeploymentStatus string
	Timestamp        time.Time
}

// Bus wraps a Redis client; retention trims streams to spec §4.4's ≥15
// minute minimum via approximate MINID trimming on every append.
type Bus struct {
	rdb       *redis.Client
	retention time.Duration
}

func New(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb, retention: 15 * time.Minute}
}

func ProjectUpdatesStream(projectID string) string {
	return fmt.Sprintf("project/%s/updates", projectID)
}

func DeploymentStatusStream(projectID, deploymentID string) string {
	return fmt.Sprintf("project/%s/deployment/%s/status", projectID, deploymentID)
}

// Append publishes an event to stream and returns its assigned id.
// Retention is approximate ("~" MINID trim) so a slow consumer doesn't pay
// the cost of an exact trim on every write.
func (b *Bus) Append(ctx context.Context, stream string, e Event) (string, error) {
	minID := strconv.FormatInt(time.Now().Add(-b.retention).UnixMilli(), 10) + "-0"
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MinID:  minID,
		Approx: true,
		Values: map[string]interface{}{
			"event_type":        string(e.Type),
			"project_id":        e.ProjectID,
			"deployment_id":     e.DeploymentID,
			"deployment_status": e.DeploymentStatus,
			"timestamp":         e.Timestamp.UTC().Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", stream, err)
	}
	return id, nil
}

// Read performs a single read from stream starting after fromID ("0-0" for
// from-beginning). A positive or zero block waits up to that long for new
// entries (Redis semantics: exactly 0 blocks indefinitely, so callers that
// want an immediate non-blocking poll must pass a negative duration, which
// omits the BLOCK option entirely).
func (b *Bus) Read(ctx context.Context, stream, fromID string, block time.Duration) ([]Event, error) {
	res, err := b.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, fromID},
		Block:   block,
		Count:   100,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", stream, err)
	}
	var events []Event
	for _, s := range res {
		for _, msg := range s.Messages {
			events = append(events, entryToEvent(msg))
		}
	}
	return events, nil
}

func entryToEvent(msg redis.XMessage) Event {
	e := Event{ID: msg.ID}
	if v, ok := msg.Values["event_type"].(string); ok {
		e.Type = EventType(v)
	}
	if v, ok := msg.Values["project_id"].(string); ok {
		e.ProjectID = v
	}
	if v, ok := msg.Values["deployment_id"].(string); ok {
		e.DeploymentID = v
	}
	if v, ok := msg.Values["deployment_status"].(string); ok {
		e.DeploymentStatus = v
	}
	if v, ok := msg.Values["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			e.Timestamp = t
		}
	}
	return e
}
