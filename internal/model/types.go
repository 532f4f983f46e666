package model

import (
	"errors"
	"fmt"
)

// ScenarioState is the lifecycle state of the active scenario.
type ScenarioState string

const (
	ScenarioPending ScenarioState = "pending"
	ScenarioRunning ScenarioState = "running"
	ScenarioPass    ScenarioState = "pass"
	ScenarioFail    ScenarioState = "fail"
)

// TestState is the lifecycle state of one test within a scenario run.
type TestState string

const (
	TestPending TestState = "pending"
	TestRunning TestState = "running"
	TestPass    TestState = "pass"
	TestFail    TestState = "fail"
	TestSkipped TestState = "skipped"
)

// TestResult pairs a test's state with the last free-text detail the
// controller reported for it. Detail is empty for pending and running.
type TestResult struct {
	State  TestState
	Detail string
}

// LogSequence names one of the three ordered log histories.
type LogSequence string

const (
	LogGlobal   LogSequence = "global"
	LogCurrent  LogSequence = "current"
	LogPrevious LogSequence = "previous"
)

// LogTimestamp carries the controller's clock verbatim, seconds plus
// nanoseconds since epoch. It is never replaced with receipt time.
type LogTimestamp struct {
	Secs  int64
	Nsecs int64
}

// LogEntry is one unescaped log record reported by the controller.
type LogEntry struct {
	Class     string
	UnitID    string
	UnitType  string
	Timestamp LogTimestamp
	Message   string
}

// JigDescriptor identifies the fixture currently attached.
type JigDescriptor struct {
	ID          string
	Name        string
	Description string
}

type ActiveScenario struct {
	ID    string
	State ScenarioState
}

// Snapshot is a consistent point-in-time copy of the full bridge state.
// Maps are keyed by case-folded identifiers.
type Snapshot struct {
	Server               string
	Jig                  JigDescriptor
	Scenarios            []string
	ScenarioNames        map[string]string
	ScenarioDescriptions map[string]string
	Scenario             ActiveScenario
	Tests                map[string][]string
	TestNames            map[string]string
	TestDescriptions     map[string]string
	Results              map[string]TestResult
	CurrentLog           []LogEntry
	PreviousLog          []LogEntry
	GlobalLogLen         int
}

// Sentinel identifiers substituted when the protocol omits a token.
const (
	NoJig      = "No Jig"
	NoScenario = "No Scenario"
	NoName     = "No Name"
)

// ErrNoActiveScenario reports a start request with no scenario selected
// and none supplied.
var ErrNoActiveScenario = errors.New("no active scenario")

// RangeParseError reports a log window bound that is not a valid
// non-negative integer.
type RangeParseError struct {
	Bound string
	Value string
}

func (e *RangeParseError) Error() string {
	return fmt.Sprintf("invalid %s bound %q", e.Bound, e.Value)
}

// Error codes defined by the API contract.
const (
	ErrCodeBadRequest       = "E_BAD_REQUEST"
	ErrCodeRangeParse       = "E_RANGE_PARSE"
	ErrCodeUnknownSequence  = "E_UNKNOWN_SEQUENCE"
	ErrCodeNoActiveScenario = "E_NO_ACTIVE_SCENARIO"
	ErrCodeEncode           = "E_ENCODE"
	ErrCodeMethodNotAllowed = "E_METHOD_NOT_ALLOWED"
	ErrCodeNotFound         = "E_NOT_FOUND"
	ErrCodeInternal         = "E_INTERNAL"
)
