package logaggregator

import "testing"

func TestExtractLevel(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"starting server", "INFO"},
		{"DEBUG connecting to db", "DEBUG"},
		{"[warn] disk usage high", "WARN"},
		{"level=error failed to bind port", "ERROR"},
		{"level: Fatal unrecoverable", "FATAL"},
		{"Build Success in 4.2s", "SUCCESS"},
		{"critical: out of memory", "CRITICAL"},
		{"a Warning about something", "WARN"},
	}
	for _, tc := range cases {
		if got := ExtractLevel(tc.message); got != tc.want {
			t.Errorf("ExtractLevel(%q) = %q, want %q", tc.message, got, tc.want)
		}
	}
}
