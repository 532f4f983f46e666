package api

import "time"

// SchemaVersion tags every envelope produced by the v1 surface.
const SchemaVersion = "v1"

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Error         APIError  `json:"error"`
}

type JigResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ActiveScenarioResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

type TestResultResponse struct {
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
}

type LogTimestampResponse struct {
	Secs  int64 `json:"secs"`
	Nsecs int64 `json:"nsecs"`
}

type LogEntryResponse struct {
	Class     string               `json:"class"`
	UnitID    string               `json:"unit_id"`
	UnitType  string               `json:"unit_type"`
	Timestamp LogTimestampResponse `json:"timestamp"`
	Message   string               `json:"message"`
}

type SnapshotEnvelope struct {
	SchemaVersion        string                        `json:"schema_version"`
	GeneratedAt          time.Time                     `json:"generated_at"`
	Server               string                        `json:"server"`
	Jig                  JigResponse                   `json:"jig"`
	Scenarios            []string                      `json:"scenarios"`
	ScenarioNames        map[string]string             `json:"scenario_names"`
	ScenarioDescriptions map[string]string             `json:"scenario_descriptions"`
	Scenario             ActiveScenarioResponse        `json:"scenario"`
	Tests                map[string][]string           `json:"tests"`
	TestNames            map[string]string             `json:"test_names"`
	TestDescriptions     map[string]string             `json:"test_descriptions"`
	Results              map[string]TestResultResponse `json:"results"`
	CurrentLogLen        int                           `json:"current_log_len"`
	PreviousLogLen       int                           `json:"previous_log_len"`
	GlobalLogLen         int                           `json:"global_log_len"`
}

type LogWindowEnvelope struct {
	SchemaVersion string             `json:"schema_version"`
	GeneratedAt   time.Time          `json:"generated_at"`
	Sequence      string             `json:"sequence"`
	Count         int                `json:"count"`
	Entries       []LogEntryResponse `json:"entries"`
}

type CommandAck struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Command       string    `json:"command"`
	Line          string    `json:"line"`
}

// LegacyState is the flat document served at /current.json for
// dashboards written against the original bridge. Log carries the
// current sequence.
type LegacyState struct {
	Server               string                        `json:"server"`
	Jig                  string                        `json:"jig"`
	JigName              string                        `json:"jig_name"`
	JigDescription       string                        `json:"jig_description"`
	Scenarios            []string                      `json:"scenarios"`
	ScenarioNames        map[string]string             `json:"scenario_names"`
	ScenarioDescriptions map[string]string             `json:"scenario_descriptions"`
	Scenario             string                        `json:"scenario"`
	ScenarioState        string                        `json:"scenario_state"`
	Tests                map[string][]string           `json:"tests"`
	TestNames            map[string]string             `json:"test_names"`
	TestDescriptions     map[string]string             `json:"test_descriptions"`
	Results              map[string]TestResultResponse `json:"results"`
	Log                  []LogEntryResponse            `json:"log"`
}
