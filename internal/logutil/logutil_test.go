package logutil

import (
	"net/http"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestFormatHeadersForLog_RedactsAuthorization(t *testing.T) {
	t.Parallel()
	h := http.Header{}
	h.Set("Authorization", "token abc123")
	h.Set("X-Request-Id", "req-1")

	got := FormatHeadersForLog(h)
	if strings.Contains(got, "abc123") {
		t.Fatalf("token leaked into log text: %s", got)
	}
	if !strings.Contains(got, `x-request-id="req-1"`) {
		t.Fatalf("non-sensitive header missing: %s", got)
	}
	if FormatHeadersForLog(nil) != "{}" {
		t.Fatal("empty headers should format as {}")
	}
}

func TestFormatBodyForLog_RedactsJSONAndTruncates(t *testing.T) {
	t.Parallel()
	body := []byte(`{"error":"bad","token":"s3cret"}`)
	got := FormatBodyForLog("application/json", body, 0)
	if strings.Contains(got, "s3cret") {
		t.Fatalf("secret leaked: %s", got)
	}
	if !strings.Contains(got, `"error":"bad"`) {
		t.Fatalf("error field dropped: %s", got)
	}

	long := []byte(strings.Repeat("x", 100))
	got = FormatBodyForLog("text/plain", long, 10)
	if got != strings.Repeat("x", 10)+" [truncated]" {
		t.Fatalf("unexpected truncation: %q", got)
	}
}

func testTruncateForLog_SingleLine(t *rapid.T) {
	value := rapid.StringMatching(`[a-z \n]{0,120}`).Draw(t, "value")
	maxChars := rapid.IntRange(1, 60).Draw(t, "maxChars")

	got := TruncateForLog(value, maxChars)
	if strings.Contains(got, "\n") {
		t.Fatalf("newline survived: %q", got)
	}
	if len(got) > maxChars+len("... [truncated]") {
		t.Fatalf("preview too long: %d > %d", len(got), maxChars)
	}
}

func TestTruncateForLog_SingleLine(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testTruncateForLog_SingleLine)
}
