package sse

import (
	"net/http/httptest"
	"strings"
	"testing"

	"drydock/internal/eventbus"
)

func TestWriteEventFormatsMultilineData(t *testing.T) {
	rec := httptest.NewRecorder()
	ok := writeEvent(rec, rec, "42", "deployment_log", "line one\nline two")
	if !ok {
		t.Fatalf("expected writeEvent to succeed")
	}
	body := rec.Body.String()
	for _, want := range []string{"id: 42\n", "event: deployment_log\n", "data: line one\n", "data: line two\n"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Fatalf("expected event to end with a blank line, got %q", body)
	}
}

func TestStatusFragmentEscapesAndIdentifiesDeployment(t *testing.T) {
	frag := statusFragment(eventbus.Event{DeploymentID: "d1", DeploymentStatus: "succeeded"})
	if !strings.Contains(frag, `id="deployment-status-d1"`) {
		t.Fatalf("expected fragment to target deployment d1, got %s", frag)
	}
	if !strings.Contains(frag, "succeeded") {
		t.Fatalf("expected fragment to carry the status, got %s", frag)
	}
}
