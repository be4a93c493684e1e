package observability

import "testing"

func TestNormalizedPath(t *testing.T) {
	got := normalizedPath("/api/attempts/123/answers")
	want := "/api/attempts/{id}/answers"
	if got != want {
		t.Fatalf("normalizedPath mismatch got=%s want=%s", got, want)
	}
}

func TestExtractAttemptID(t *testing.T) {
	if id := extractAttemptID("/api/attempts/456/complete"); id != 456 {
		t.Fatalf("expected 456, got %d", id)
	}
	if id := extractAttemptID("/api/tests/1"); id != 0 {
		t.Fatalf("expected 0 for non-attempt path, got %d", id)
	}
}
