package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jiglab/jigbridge/internal/transcript"
)

// NewRecorder opens a throwaway transcript recorder backed by a temp
// directory, with redaction off so tests can assert on raw lines.
func NewRecorder(t *testing.T) (*transcript.Recorder, context.Context) {
	return NewRecorderWithRedaction(t, false)
}

func NewRecorderWithRedaction(t *testing.T, redact bool) (*transcript.Recorder, context.Context) {
	t.Helper()
	ctx := context.Background()
	rec, err := transcript.Open(ctx, filepath.Join(t.TempDir(), "jigbridge-test.db"), redact)
	if err != nil {
		t.Fatalf("open test recorder: %v", err)
	}
	t.Cleanup(func() {
		_ = rec.Close()
	})
	if err := transcript.ApplyMigrations(ctx, rec.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return rec, ctx
}
