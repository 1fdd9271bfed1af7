// Package logaggregator implements the log aggregator collaborator client
// (spec §6): drydock does not persist log lines itself, so SSE log
// streaming (C7) and any future log-search endpoint both go through this
// client to fetch from the external aggregator. Grounded on
// apps/ReleaseParty/backend/internal/githubapp/client.go's
// single-struct-plus-http.Client collaborator shape.
package logaggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Client queries an external log aggregator over HTTP. BaseURL is the
// aggregator's root URL; GetLogs queries its `/logs` search endpoint.
// drydock never writes to the aggregator, only reads.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

// Query is get_logs's parameter set (spec §6). ProjectID is required;
// every other field is an optional filter.
type Query struct {
	ProjectID      string
	DeploymentID   string
	EnvironmentID  string
	Branch         string
	Keyword        string
	StartTimestamp string // ns-epoch string
	EndTimestamp   string // ns-epoch string
	Limit          int
}

// LogLine is one entry of get_logs's result.
type LogLine struct {
	Timestamp string            `json:"timestamp"`
	Message   string            `json:"message"`
	Level     string            `json:"level"`
	Labels    map[string]string `json:"labels"`
}

// GetLogs implements the collaborator's get_logs contract. The level on
// each returned line is always recomputed locally via ExtractLevel rather
// than trusted from the aggregator's own response, so behavior matches
// spec §6 regardless of what the upstream aggregator itself reports.
func (c *Client) GetLogs(ctx context.Context, q Query) ([]LogLine, error) {
	if strings.TrimSpace(q.ProjectID) == "" {
		return nil, fmt.Errorf("project_id is required")
	}

	values := url.Values{}
	values.Set("project_id", q.ProjectID)
	if q.DeploymentID != "" {
		values.Set("deployment_id", q.DeploymentID)
	}
	if q.EnvironmentID != "" {
		values.Set("environment_id", q.EnvironmentID)
	}
	if q.Branch != "" {
		values.Set("branch", q.Branch)
	}
	if q.Keyword != "" {
		values.Set("keyword", q.Keyword)
	}
	if q.StartTimestamp != "" {
		values.Set("start_timestamp", q.StartTimestamp)
	}
	if q.EndTimestamp != "" {
		values.Set("end_timestamp", q.EndTimestamp)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	values.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/logs?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build log query: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query log aggregator: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("log aggregator returned %s", resp.Status)
	}

	var lines []LogLine
	if err := json.NewDecoder(resp.Body).Decode(&lines); err != nil {
		return nil, fmt.Errorf("decode log aggregator response: %w", err)
	}
	for i := range lines {
		lines[i].Level = ExtractLevel(lines[i].Message)
	}
	return lines, nil
}

// levelPattern matches a level token either bare, bracketed
// ("[warn]"), or key-prefixed ("level=error", "level:error"), case
// insensitive, per spec §6.
var levelPattern = regexp.MustCompile(`(?i)(?:level[=:]\s*|\[)?\b(debug|info|success|warn(?:ing)?|error|fatal|critical)\b\]?`)

// ExtractLevel recovers a log line's level from its raw message text,
// defaulting to INFO when no level token is present.
func ExtractLevel(message string) string {
	m := levelPattern.FindStringSubmatch(message)
	if m == nil {
		return "INFO"
	}
	level := strings.ToUpper(m[1])
	if level == "WARNING" {
		level = "WARN"
	}
	return level
}
