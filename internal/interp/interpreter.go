package interp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jiglab/jigbridge/internal/model"
	"github.com/jiglab/jigbridge/internal/protocol"
	"github.com/jiglab/jigbridge/internal/state"
	"github.com/jiglab/jigbridge/internal/transcript"
)

// ErrExitRequested is returned by Run when the controller sends an
// exit line. EOF on the input stream returns nil instead.
var ErrExitRequested = errors.New("exit requested by controller")

// errLineTooLong marks a line over maxLineBytes; readLine has already
// drained it, so the loop can report and move on.
var errLineTooLong = errors.New("control line too long")

const (
	// A line longer than maxLineBytes is malformed input: dropped in
	// full and reported like any other garbled line.
	maxLineBytes = 1 << 20

	// How much of a dropped line the report keeps.
	droppedPrefixBytes = 256
)

// Interpreter is the inbound side of the bridge: it reads protocol
// lines one at a time and applies each as a single store transition.
// Exactly one goroutine runs Run for the life of the process.
type Interpreter struct {
	Store    *state.Store
	Encoder  *protocol.Encoder
	Recorder *transcript.Recorder
	Logger   *slog.Logger
}

func New(store *state.Store, enc *protocol.Encoder) *Interpreter {
	return &Interpreter{Store: store, Encoder: enc}
}

func (in *Interpreter) logger() *slog.Logger {
	if in.Logger != nil {
		return in.Logger
	}
	return slog.Default()
}

// Run consumes the input stream until EOF or an exit line. Malformed
// lines, oversized ones included, are reported and skipped; they never
// stop the loop. The blocking line read is the only suspension point,
// so cancellation is driven by closing the input stream rather than by
// ctx; ctx scopes the transcript writes.
func (in *Interpreter) Run(ctx context.Context, r io.Reader) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		raw, err := readLine(br)
		switch {
		case errors.Is(err, errLineTooLong):
			in.reject(ctx, "", raw, fmt.Sprintf("line longer than %d bytes dropped", maxLineBytes))
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("read control stream: %w", err)
		}
		if in.applyLine(ctx, strings.TrimRight(raw, "\r")) {
			return ErrExitRequested
		}
	}
}

// readLine returns the next line without its ending. A line over
// maxLineBytes is consumed to its end and surfaced as errLineTooLong
// carrying only a short prefix, leaving the reader positioned at the
// following line. A trailing line without a newline is still returned.
func readLine(br *bufio.Reader) (string, error) {
	var buf []byte
	oversized := false
	for {
		chunk, isPrefix, err := br.ReadLine()
		if !oversized {
			buf = append(buf, chunk...)
			if len(buf) > maxLineBytes {
				oversized = true
				buf = buf[:droppedPrefixBytes]
			}
		}
		if err != nil {
			if oversized {
				return string(buf), errLineTooLong
			}
			if len(buf) > 0 && errors.Is(err, io.EOF) {
				return string(buf), nil
			}
			return "", err
		}
		if !isPrefix {
			break
		}
	}
	if oversized {
		return string(buf), errLineTooLong
	}
	return string(buf), nil
}

// applyLine interprets one raw line and reports whether it was an exit.
func (in *Interpreter) applyLine(ctx context.Context, raw string) bool {
	fields := strings.Fields(protocol.Unescape(raw))
	if len(fields) == 0 {
		return false
	}
	verb := strings.ToLower(fields[0])
	args := fields[1:]

	switch verb {
	case "hello":
		in.Store.SetServer(strings.Join(args, " "))
	case "jig":
		id := model.NoJig
		if len(args) > 0 {
			id = args[0]
		}
		in.Store.SetJigID(id)
	case "scenarios":
		in.Store.SetScenarios(args)
	case "scenario":
		id := model.NoScenario
		if len(args) > 0 {
			id = args[0]
		}
		in.Store.SelectScenario(id)
	case "tests":
		if len(args) == 0 {
			in.reject(ctx, verb, raw, "missing scenario id")
			return false
		}
		in.Store.SetTests(args[0], args[1:])
	case "describe":
		if !in.applyDescribe(ctx, raw, args) {
			return false
		}
	case "ping":
		if len(args) == 0 {
			in.reject(ctx, verb, raw, "missing nonce")
			return false
		}
		if err := in.Encoder.Send(protocol.Pong(args[0])); err != nil {
			in.logger().Error("send pong", "err", err)
		}
	case "start":
		id := ""
		if len(args) > 0 {
			id = args[0]
		}
		if !in.Store.StartScenario(id) {
			in.reject(ctx, verb, raw, "no scenario to start")
			return false
		}
	case "finish":
		code, err := finishCode(args)
		if err != nil {
			in.logger().Warn("finish code falls back to 500", "reason", err, "line", raw)
		}
		in.Store.FinishScenario(code)
	case "running":
		if !in.applyResult(ctx, verb, raw, args, model.TestRunning) {
			return false
		}
	case "pass":
		if !in.applyResult(ctx, verb, raw, args, model.TestPass) {
			return false
		}
	case "fail":
		if !in.applyResult(ctx, verb, raw, args, model.TestFail) {
			return false
		}
	case "skip":
		if !in.applyResult(ctx, verb, raw, args, model.TestSkipped) {
			return false
		}
	case "log":
		entry, err := parseLogEntry(args)
		if err != nil {
			in.reject(ctx, verb, raw, err.Error())
			return false
		}
		in.Store.AppendLog(entry)
	case "exit":
		in.record(ctx, verb, raw, "")
		return true
	default:
		in.reject(ctx, verb, raw, "unrecognized command")
		return false
	}
	in.record(ctx, verb, raw, "")
	return false
}

// applyDescribe reports whether the line was applied. Unknown classes
// or fields are rejected with no partial mutation.
func (in *Interpreter) applyDescribe(ctx context.Context, raw string, args []string) bool {
	if len(args) < 2 {
		in.reject(ctx, "describe", raw, "missing class or field")
		return false
	}
	class := strings.ToLower(args[0])
	field := strings.ToLower(args[1])
	rest := args[2:]

	switch class {
	case "jig":
		value := strings.Join(rest, " ")
		switch field {
		case "name":
			in.Store.SetJigName(value)
		case "description":
			in.Store.SetJigDescription(value)
		default:
			in.reject(ctx, "describe", raw, "unknown field "+field)
			return false
		}
	case "scenario", "test":
		id := model.NoName
		if len(rest) > 0 {
			id = rest[0]
			rest = rest[1:]
		}
		value := strings.Join(rest, " ")
		switch {
		case class == "scenario" && field == "name":
			in.Store.SetScenarioName(id, value)
		case class == "scenario" && field == "description":
			in.Store.SetScenarioDescription(id, value)
		case class == "test" && field == "name":
			in.Store.SetTestName(id, value)
		case class == "test" && field == "description":
			in.Store.SetTestDescription(id, value)
		default:
			in.reject(ctx, "describe", raw, "unknown field "+field)
			return false
		}
	default:
		in.reject(ctx, "describe", raw, "unknown class "+class)
		return false
	}
	return true
}

func (in *Interpreter) applyResult(ctx context.Context, verb, raw string, args []string, resultState model.TestState) bool {
	if len(args) == 0 {
		in.reject(ctx, verb, raw, "missing test id")
		return false
	}
	in.Store.SetTestResult(args[0], model.TestResult{
		State:  resultState,
		Detail: strings.Join(args[1:], " "),
	})
	return true
}

// reject reports a malformed or unrecognized line and leaves state
// untouched.
func (in *Interpreter) reject(ctx context.Context, verb, raw, reason string) {
	in.logger().Warn("control line skipped", "verb", verb, "reason", reason, "line", raw)
	in.record(ctx, verb, raw, "skipped: "+reason)
}

func (in *Interpreter) record(ctx context.Context, verb, raw, note string) {
	if err := in.Recorder.Record(ctx, transcript.DirectionIn, verb, raw, note); err != nil {
		in.logger().Warn("transcript record failed", "err", err)
	}
}

// finishCode parses the completion code from argument position 1. Any
// failure falls back to 500 so the run still ends, as a failure.
func finishCode(args []string) (int, error) {
	if len(args) < 2 {
		return 500, errors.New("missing completion code")
	}
	code, err := strconv.Atoi(args[1])
	if err != nil {
		return 500, fmt.Errorf("completion code %q not numeric", args[1])
	}
	return code, nil
}

func parseLogEntry(args []string) (model.LogEntry, error) {
	if len(args) < 5 {
		return model.LogEntry{}, errors.New("expected class, unit id, unit type, secs, nsecs")
	}
	secs, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil {
		return model.LogEntry{}, fmt.Errorf("seconds %q not numeric", args[3])
	}
	nsecs, err := strconv.ParseInt(args[4], 10, 64)
	if err != nil {
		return model.LogEntry{}, fmt.Errorf("nanoseconds %q not numeric", args[4])
	}
	return model.LogEntry{
		Class:     args[0],
		UnitID:    args[1],
		UnitType:  args[2],
		Timestamp: model.LogTimestamp{Secs: secs, Nsecs: nsecs},
		Message:   strings.Join(args[5:], " "),
	}, nil
}
