package protocol

import (
	"fmt"
	"io"
	"sync"
)

// CommandKind is the outbound protocol verb.
type CommandKind string

const (
	CmdHello     CommandKind = "HELLO"
	CmdJig       CommandKind = "JIG"
	CmdScenarios CommandKind = "SCENARIOS"
	CmdScenario  CommandKind = "SCENARIO"
	CmdTests     CommandKind = "TESTS"
	CmdStart     CommandKind = "START"
	CmdAbort     CommandKind = "ABORT"
	CmdLog       CommandKind = "LOG"
	CmdPong      CommandKind = "PONG"
	CmdShutdown  CommandKind = "SHUTDOWN"
)

// Command is one member of the closed outbound vocabulary. Arg is the
// single text payload for the kinds that carry one.
type Command struct {
	Kind CommandKind
	Arg  string
}

func Hello(signature string) Command { return Command{Kind: CmdHello, Arg: signature} }
func Jig() Command                   { return Command{Kind: CmdJig} }
func Scenarios() Command             { return Command{Kind: CmdScenarios} }
func Scenario(id string) Command     { return Command{Kind: CmdScenario, Arg: id} }
func Tests() Command                 { return Command{Kind: CmdTests} }
func Start(id string) Command        { return Command{Kind: CmdStart, Arg: id} }
func Abort() Command                 { return Command{Kind: CmdAbort} }
func Log(message string) Command     { return Command{Kind: CmdLog, Arg: message} }
func Pong(nonce string) Command      { return Command{Kind: CmdPong, Arg: nonce} }
func Shutdown(reason string) Command { return Command{Kind: CmdShutdown, Arg: reason} }

// EncodeCommand renders a command as a single protocol line without
// the trailing newline. Text payloads are escaped.
func EncodeCommand(cmd Command) (string, error) {
	switch cmd.Kind {
	case CmdHello, CmdScenario, CmdStart, CmdLog, CmdPong, CmdShutdown:
		if cmd.Arg == "" {
			return string(cmd.Kind), nil
		}
		return string(cmd.Kind) + " " + Escape(cmd.Arg), nil
	case CmdJig, CmdScenarios, CmdTests, CmdAbort:
		return string(cmd.Kind), nil
	default:
		return "", fmt.Errorf("unknown command kind %q", cmd.Kind)
	}
}

// Encoder serializes outbound commands onto a shared stream. Send may
// be called from any goroutine; each encoded line is written in one
// Write call under the lock, so concurrent sends never interleave.
type Encoder struct {
	mu  sync.Mutex
	w   io.Writer
	tap func(line string)
}

// NewEncoder wraps the output stream. tap, when non-nil, observes each
// line after a successful write, in write order, still under the send
// lock; it must not call Send.
func NewEncoder(w io.Writer, tap func(line string)) *Encoder {
	return &Encoder{w: w, tap: tap}
}

func (e *Encoder) Send(cmd Command) error {
	line, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := io.WriteString(e.w, line+"\n"); err != nil {
		return fmt.Errorf("write %s command: %w", cmd.Kind, err)
	}
	if e.tap != nil {
		e.tap(line)
	}
	return nil
}
