package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jiglab/jigbridge/internal/security"
)

// Direction marks which side of the stream a line travelled on.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Line is one recorded protocol line.
type Line struct {
	LineID     string
	Direction  Direction
	Verb       string
	Raw        string
	Note       string
	RecordedAt time.Time
}

// Recorder is an append-only flight recorder for raw protocol traffic.
// The bridge never reads it back to build state; it exists for
// post-mortem inspection of a jig session. A nil Recorder is a valid
// no-op, so callers do not branch on whether recording is enabled.
type Recorder struct {
	db     *sql.DB
	redact bool

	Logger *slog.Logger
}

func (r *Recorder) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func Open(ctx context.Context, path string, redact bool) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod transcript path: %w", err)
	}
	return &Recorder{db: db, redact: redact}, nil
}

func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Recorder) DB() *sql.DB {
	if r == nil {
		return nil
	}
	return r.db
}

// Record stores one line. With redaction on, the raw text passes
// through security.RedactLine first, so credentials never reach disk.
func (r *Recorder) Record(ctx context.Context, direction Direction, verb, raw, note string) error {
	if r == nil || r.db == nil {
		return nil
	}
	stored := raw
	if r.redact {
		stored = security.RedactLine(raw)
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO transcript_lines(line_id, direction, verb, raw, note, recorded_at)
VALUES (?, ?, ?, ?, ?, ?)
`, uuid.NewString(), string(direction), verb, stored, note, ts(time.Now()))
	if err != nil {
		return fmt.Errorf("record transcript line: %w", err)
	}
	return nil
}

// EncoderTap returns a protocol encoder tap recording each outbound
// line. The recording context is detached from ctx's cancellation, so
// lines sent while a shutdown is already in flight still reach the
// transcript. A nil Recorder yields a nil tap.
func (r *Recorder) EncoderTap(ctx context.Context) func(line string) {
	if r == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	return func(line string) {
		verb := ""
		if fields := strings.Fields(line); len(fields) > 0 {
			verb = strings.ToLower(fields[0])
		}
		if err := r.Record(ctx, DirectionOut, verb, line, ""); err != nil {
			r.logger().Warn("transcript record failed", "err", err)
		}
	}
}

// Tail returns the most recent n lines, newest first.
func (r *Recorder) Tail(ctx context.Context, n int) ([]Line, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT line_id, direction, verb, raw, note, recorded_at
FROM transcript_lines
ORDER BY recorded_at DESC, line_id DESC
LIMIT ?
`, n)
	if err != nil {
		return nil, fmt.Errorf("query transcript tail: %w", err)
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var line Line
		var direction, recordedAt string
		if err := rows.Scan(&line.LineID, &direction, &line.Verb, &line.Raw, &line.Note, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan transcript line: %w", err)
		}
		line.Direction = Direction(direction)
		if line.RecordedAt, err = parseTS(recordedAt); err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		out = append(out, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}
	return out, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
