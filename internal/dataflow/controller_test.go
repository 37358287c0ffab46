package dataflow

import (
	"errors"
	"testing"
)

func TestParseDataflowIDFromStdout(t *testing.T) {
	t.Parallel()

	stdout := "dataflow started: 0193c2de-7a35-7e60-b6b2-03d2a3b1f5c2\n"
	id, err := parseDataflowID(stdout, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != "0193c2de-7a35-7e60-b6b2-03d2a3b1f5c2" {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestParseDataflowIDFromStderr(t *testing.T) {
	t.Parallel()

	// Newer launcher builds log the id on stderr instead.
	stderr := "INFO  starting dataflow\nattached as \"8f14e45f-ceea-4e5b-b807-1f40ad4bbf3a\"\n"
	id, err := parseDataflowID("", stderr)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != "8f14e45f-ceea-4e5b-b807-1f40ad4bbf3a" {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestParseDataflowIDPrefersStdout(t *testing.T) {
	t.Parallel()

	stdout := "id 11111111-1111-4111-8111-111111111111"
	stderr := "id 22222222-2222-4222-8222-222222222222"
	id, err := parseDataflowID(stdout, stderr)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != "11111111-1111-4111-8111-111111111111" {
		t.Fatalf("want stdout id, got %q", id)
	}
}

func TestParseDataflowIDMissing(t *testing.T) {
	t.Parallel()

	_, err := parseDataflowID("started ok", "no uuid here")
	if !errors.Is(err, ErrNoDataflowID) {
		t.Fatalf("want ErrNoDataflowID, got %v", err)
	}
}

func TestNewControllerRequiresSpecFile(t *testing.T) {
	t.Parallel()

	if _, err := NewController("/nonexistent/dataflow.yml"); err == nil {
		t.Fatal("want error for missing spec file")
	}
}
