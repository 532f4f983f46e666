package state

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jiglab/jigbridge/internal/model"
)

// ErrUnknownSequence reports a log window request naming a sequence
// other than global, current or previous.
var ErrUnknownSequence = errors.New("unknown log sequence")

// Store owns the full bridge state. Interpreter transitions take the
// write lock exactly once per protocol line; readers take the read
// lock for the duration of one snapshot or window copy. The global log
// has its own mutex because it is read and truncated independently of
// the scenario-scoped state; appends happen while the write lock is
// also held, so read-lock holders never race an append.
type Store struct {
	mu sync.RWMutex

	server               string
	jig                  model.JigDescriptor
	scenarios            []string
	scenarioNames        map[string]string
	scenarioDescriptions map[string]string
	active               model.ActiveScenario
	tests                map[string][]string
	testNames            map[string]string
	testDescriptions     map[string]string
	results              map[string]model.TestResult
	currentLog           []model.LogEntry
	previousLog          []model.LogEntry

	globalMu  sync.Mutex
	globalLog []model.LogEntry
}

func NewStore() *Store {
	return &Store{
		scenarioNames:        map[string]string{},
		scenarioDescriptions: map[string]string{},
		tests:                map[string][]string{},
		testNames:            map[string]string{},
		testDescriptions:     map[string]string{},
		results:              map[string]model.TestResult{},
		active:               model.ActiveScenario{State: model.ScenarioPending},
	}
}

// fold normalizes an identifier for use as a map key.
func fold(id string) string { return strings.ToLower(id) }

func (s *Store) SetServer(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.server = identity
}

func (s *Store) SetJigID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jig.ID = id
}

func (s *Store) SetJigName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jig.Name = name
}

func (s *Store) SetJigDescription(description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jig.Description = description
}

func (s *Store) SetScenarios(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarios = append([]string(nil), ids...)
}

func (s *Store) SetScenarioName(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarioNames[fold(id)] = name
}

func (s *Store) SetScenarioDescription(id, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenarioDescriptions[fold(id)] = description
}

func (s *Store) SetTestName(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.testNames[fold(id)] = name
}

func (s *Store) SetTestDescription(id, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.testDescriptions[fold(id)] = description
}

// SelectScenario makes id the active scenario and resets its state to
// pending regardless of the previous state.
func (s *Store) SelectScenario(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = model.ActiveScenario{ID: id, State: model.ScenarioPending}
}

// SetTests replaces the scenario's test list and reseeds the result
// table: every listed test becomes pending, earlier results for any
// scenario are discarded.
func (s *Store) SetTests(scenarioID string, testIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append([]string(nil), testIDs...)
	s.tests[fold(scenarioID)] = list
	s.seedResultsLocked(list)
}

// StartScenario begins a run: the scenario becomes active and running,
// the result table is reseeded from its test list, and the current log
// rotates to previous. An empty id starts the currently active
// scenario; the return value reports whether there was one to start.
// The whole transition is one critical section, so no reader can
// observe the rotation or the reseed half-applied.
func (s *Store) StartScenario(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		id = s.active.ID
	}
	if id == "" {
		return false
	}
	s.active = model.ActiveScenario{ID: id, State: model.ScenarioRunning}
	s.seedResultsLocked(s.tests[fold(id)])
	s.previousLog = s.currentLog
	s.currentLog = nil
	return true
}

func (s *Store) seedResultsLocked(testIDs []string) {
	s.results = make(map[string]model.TestResult, len(testIDs))
	for _, id := range testIDs {
		s.results[fold(id)] = model.TestResult{State: model.TestPending}
	}
}

// FinishScenario records the run outcome: pass for completion codes in
// [200,299], fail for everything else.
func (s *Store) FinishScenario(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code >= 200 && code <= 299 {
		s.active.State = model.ScenarioPass
	} else {
		s.active.State = model.ScenarioFail
	}
}

func (s *Store) SetTestResult(id string, result model.TestResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[fold(id)] = result
}

// AppendLog adds one entry to both the current and the global
// sequences as a single transition.
func (s *Store) AppendLog(entry model.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentLog = append(s.currentLog, entry)
	s.globalMu.Lock()
	s.globalLog = append(s.globalLog, entry)
	s.globalMu.Unlock()
}

func (s *Store) ActiveScenarioID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.ID
}

// Snapshot returns a deep copy of the full state, consistent as of a
// single point between line transitions.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := model.Snapshot{
		Server:               s.server,
		Jig:                  s.jig,
		Scenarios:            append([]string(nil), s.scenarios...),
		ScenarioNames:        copyStringMap(s.scenarioNames),
		ScenarioDescriptions: copyStringMap(s.scenarioDescriptions),
		Scenario:             s.active,
		Tests:                copyListMap(s.tests),
		TestNames:            copyStringMap(s.testNames),
		TestDescriptions:     copyStringMap(s.testDescriptions),
		Results:              copyResultMap(s.results),
		CurrentLog:           copyLog(s.currentLog),
		PreviousLog:          copyLog(s.previousLog),
	}
	s.globalMu.Lock()
	snap.GlobalLogLen = len(s.globalLog)
	s.globalMu.Unlock()
	return snap
}

// LogWindow copies the half-open [start, end) slice of the named
// sequence. Empty bounds default to zero and the sequence length; end
// clamps to the length; a start at or past the length, or at or past
// end, yields an empty window. Bounds that are present but not valid
// non-negative integers fail with a model.RangeParseError.
func (s *Store) LogWindow(seq model.LogSequence, startRaw, endRaw string) ([]model.LogEntry, error) {
	start, err := parseBound("start", startRaw, 0)
	if err != nil {
		return nil, err
	}
	end, err := parseBound("end", endRaw, -1)
	if err != nil {
		return nil, err
	}
	switch seq {
	case model.LogGlobal:
		s.globalMu.Lock()
		defer s.globalMu.Unlock()
		return windowOf(s.globalLog, start, end), nil
	case model.LogCurrent:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return windowOf(s.currentLog, start, end), nil
	case model.LogPrevious:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return windowOf(s.previousLog, start, end), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSequence, seq)
	}
}

// TruncateGlobalLog clears the global sequence only; the scenario
// scoped current/previous split is untouched.
func (s *Store) TruncateGlobalLog() {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	s.globalLog = nil
}

func parseBound(name, raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, &model.RangeParseError{Bound: name, Value: raw}
	}
	return v, nil
}

func windowOf(entries []model.LogEntry, start, end int) []model.LogEntry {
	if end < 0 || end > len(entries) {
		end = len(entries)
	}
	if start >= end {
		return []model.LogEntry{}
	}
	out := make([]model.LogEntry, end-start)
	copy(out, entries[start:end])
	return out
}

func copyLog(entries []model.LogEntry) []model.LogEntry {
	out := make([]model.LogEntry, len(entries))
	copy(out, entries)
	return out
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyListMap(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func copyResultMap(m map[string]model.TestResult) map[string]model.TestResult {
	out := make(map[string]model.TestResult, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
