package eventbus

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestStreamKeyBuilders(t *testing.T) {
	if got := ProjectUpdatesStream("p1"); got != "project/p1/updates" {
		t.Fatalf("unexpected project stream key: %q", got)
	}
	if got := DeploymentStatusStream("p1", "d1"); got != "project/p1/deployment/d1/status" {
		t.Fatalf("unexpected deployment stream key: %q", got)
	}
}

func TestEntryToEvent(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := redis.XMessage{
		ID: "123-0",
		Values: map[string]interface{}{
			"event_type":        "deployment_status_update",
			"project_id":        "p1",
			"deployment_id":     "d1",
			"deployment_status": "succeeded",
			"timestamp":         now.Format(time.RFC3339),
		},
	}
	e := entryToEvent(msg)
	if e.ID != "123-0" || e.Type != EventDeploymentStatusUpdate || e.ProjectID != "p1" || e.DeploymentID != "d1" {
		t.Fatalf("unexpected event: %+v", e)
	}
	if !e.Timestamp.Equal(now) {
		t.Fatalf("expected timestamp %v, got %v", now, e.Timestamp)
	}
}
