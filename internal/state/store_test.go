package state

import (
	"errors"
	"sync"
	"testing"

	"github.com/jiglab/jigbridge/internal/model"
)

func testEntry(message string) model.LogEntry {
	return model.LogEntry{
		Class:     "info",
		UnitID:    "unit-1",
		UnitType:  "psu",
		Timestamp: model.LogTimestamp{Secs: 1700000000, Nsecs: 42},
		Message:   message,
	}
}

func TestSetTestsReplacesListAndReseedsResults(t *testing.T) {
	s := NewStore()
	s.SetTests("smoke", []string{"t1", "t2"})
	s.SetTestResult("t1", model.TestResult{State: model.TestPass, Detail: "ok"})
	s.SetTests("smoke", []string{"T1", "t2", "t3"})
	snap := s.Snapshot()
	if got := snap.Tests["smoke"]; len(got) != 3 || got[0] != "T1" {
		t.Fatalf("unexpected test list: %v", got)
	}
	if len(snap.Results) != 3 {
		t.Fatalf("expected 3 seeded results, got %d", len(snap.Results))
	}
	for id, result := range snap.Results {
		if result.State != model.TestPending || result.Detail != "" {
			t.Fatalf("expected pending result for %s, got %+v", id, result)
		}
	}
}

func TestStartScenarioRotatesLogsAndReseedsResults(t *testing.T) {
	s := NewStore()
	s.SetTests("burnin", []string{"warm", "cool"})
	s.SelectScenario("burnin")
	s.SetTestResult("warm", model.TestResult{State: model.TestFail, Detail: "over temp"})
	s.AppendLog(testEntry("first run line"))

	if !s.StartScenario("") {
		t.Fatalf("expected start of selected scenario to succeed")
	}
	snap := s.Snapshot()
	if snap.Scenario.ID != "burnin" || snap.Scenario.State != model.ScenarioRunning {
		t.Fatalf("unexpected active scenario: %+v", snap.Scenario)
	}
	if len(snap.CurrentLog) != 0 {
		t.Fatalf("expected empty current log after start, got %d entries", len(snap.CurrentLog))
	}
	if len(snap.PreviousLog) != 1 || snap.PreviousLog[0].Message != "first run line" {
		t.Fatalf("unexpected previous log: %+v", snap.PreviousLog)
	}
	if result := snap.Results["warm"]; result.State != model.TestPending || result.Detail != "" {
		t.Fatalf("expected stale result discarded, got %+v", result)
	}
	if snap.GlobalLogLen != 1 {
		t.Fatalf("expected global log untouched by start, len=%d", snap.GlobalLogLen)
	}
}

func TestStartScenarioWithExplicitIDOverridesSelection(t *testing.T) {
	s := NewStore()
	s.SelectScenario("smoke")
	if !s.StartScenario("burnin") {
		t.Fatalf("expected explicit start to succeed")
	}
	if snap := s.Snapshot(); snap.Scenario.ID != "burnin" {
		t.Fatalf("unexpected active id: %q", snap.Scenario.ID)
	}
}

func TestStartScenarioWithNothingActiveFails(t *testing.T) {
	s := NewStore()
	if s.StartScenario("") {
		t.Fatalf("expected start with no scenario to fail")
	}
	if snap := s.Snapshot(); snap.Scenario.State != model.ScenarioPending {
		t.Fatalf("expected state untouched, got %+v", snap.Scenario)
	}
}

func TestSelectScenarioResetsStateToPending(t *testing.T) {
	s := NewStore()
	s.StartScenario("smoke")
	s.FinishScenario(204)
	s.SelectScenario("smoke")
	if snap := s.Snapshot(); snap.Scenario.State != model.ScenarioPending {
		t.Fatalf("expected pending after reselect, got %s", snap.Scenario.State)
	}
}

func TestFinishScenarioMapsCompletionCodes(t *testing.T) {
	cases := []struct {
		code int
		want model.ScenarioState
	}{
		{200, model.ScenarioPass},
		{204, model.ScenarioPass},
		{299, model.ScenarioPass},
		{199, model.ScenarioFail},
		{300, model.ScenarioFail},
		{404, model.ScenarioFail},
		{500, model.ScenarioFail},
	}
	for _, tc := range cases {
		s := NewStore()
		s.StartScenario("smoke")
		s.FinishScenario(tc.code)
		if snap := s.Snapshot(); snap.Scenario.State != tc.want {
			t.Fatalf("code %d: expected %s, got %s", tc.code, tc.want, snap.Scenario.State)
		}
	}
}

func TestLogWindowDefaultsToWholeSequence(t *testing.T) {
	s := NewStore()
	for i := 0; i < 4; i++ {
		s.AppendLog(testEntry("entry"))
	}
	entries, err := s.LogWindow(model.LogGlobal, "", "")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected full window, got %d entries", len(entries))
	}
}

func TestLogWindowClampsEndToLength(t *testing.T) {
	s := NewStore()
	for i := 0; i < 3; i++ {
		s.AppendLog(testEntry("entry"))
	}
	entries, err := s.LogWindow(model.LogGlobal, "1", "99")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected end clamped to length, got %d entries", len(entries))
	}
}

func TestLogWindowIncludesFinalEntry(t *testing.T) {
	s := NewStore()
	s.AppendLog(testEntry("first"))
	s.AppendLog(testEntry("last"))
	entries, err := s.LogWindow(model.LogGlobal, "1", "2")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "last" {
		t.Fatalf("expected final entry, got %+v", entries)
	}
}

func TestLogWindowEmptyCases(t *testing.T) {
	s := NewStore()
	for i := 0; i < 10; i++ {
		s.AppendLog(testEntry("entry"))
	}
	cases := []struct {
		start string
		end   string
	}{
		{"10", ""},
		{"25", ""},
		{"5", "2"},
		{"3", "3"},
	}
	for _, tc := range cases {
		entries, err := s.LogWindow(model.LogGlobal, tc.start, tc.end)
		if err != nil {
			t.Fatalf("window start=%s end=%s: %v", tc.start, tc.end, err)
		}
		if len(entries) != 0 {
			t.Fatalf("expected empty window for start=%s end=%s, got %d", tc.start, tc.end, len(entries))
		}
	}
}

func TestLogWindowRejectsBadBounds(t *testing.T) {
	s := NewStore()
	cases := []struct {
		start string
		end   string
		bound string
	}{
		{"abc", "", "start"},
		{"", "xyz", "end"},
		{"-1", "", "start"},
		{"0", "-2", "end"},
	}
	for _, tc := range cases {
		_, err := s.LogWindow(model.LogGlobal, tc.start, tc.end)
		var rangeErr *model.RangeParseError
		if !errors.As(err, &rangeErr) {
			t.Fatalf("expected range parse error for start=%q end=%q, got %v", tc.start, tc.end, err)
		}
		if rangeErr.Bound != tc.bound {
			t.Fatalf("expected %s bound flagged, got %+v", tc.bound, rangeErr)
		}
	}
}

func TestLogWindowRejectsUnknownSequence(t *testing.T) {
	s := NewStore()
	if _, err := s.LogWindow("nope", "", ""); !errors.Is(err, ErrUnknownSequence) {
		t.Fatalf("expected unknown sequence error, got %v", err)
	}
}

func TestLogWindowAddressesAllThreeSequences(t *testing.T) {
	s := NewStore()
	s.AppendLog(testEntry("before"))
	s.StartScenario("smoke")
	s.AppendLog(testEntry("after"))
	for _, tc := range []struct {
		seq  model.LogSequence
		want string
	}{
		{model.LogCurrent, "after"},
		{model.LogPrevious, "before"},
	} {
		entries, err := s.LogWindow(tc.seq, "", "")
		if err != nil {
			t.Fatalf("window %s: %v", tc.seq, err)
		}
		if len(entries) != 1 || entries[0].Message != tc.want {
			t.Fatalf("unexpected %s window: %+v", tc.seq, entries)
		}
	}
	global, err := s.LogWindow(model.LogGlobal, "", "")
	if err != nil {
		t.Fatalf("window global: %v", err)
	}
	if len(global) != 2 {
		t.Fatalf("expected both entries in global, got %d", len(global))
	}
}

func TestTruncateGlobalLogLeavesScenarioLogsAlone(t *testing.T) {
	s := NewStore()
	s.AppendLog(testEntry("keep in current"))
	s.TruncateGlobalLog()
	global, err := s.LogWindow(model.LogGlobal, "", "")
	if err != nil {
		t.Fatalf("window global: %v", err)
	}
	if len(global) != 0 {
		t.Fatalf("expected empty global log, got %d", len(global))
	}
	current, err := s.LogWindow(model.LogCurrent, "", "")
	if err != nil {
		t.Fatalf("window current: %v", err)
	}
	if len(current) != 1 {
		t.Fatalf("expected current log untouched, got %d", len(current))
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := NewStore()
	s.SetScenarios([]string{"smoke"})
	s.SetTests("smoke", []string{"t1"})
	s.AppendLog(testEntry("entry"))
	snap := s.Snapshot()
	snap.Scenarios[0] = "mutated"
	snap.Tests["smoke"][0] = "mutated"
	snap.Results["t1"] = model.TestResult{State: model.TestFail}
	snap.CurrentLog[0].Message = "mutated"
	fresh := s.Snapshot()
	if fresh.Scenarios[0] != "smoke" || fresh.Tests["smoke"][0] != "t1" {
		t.Fatalf("snapshot aliases store slices: %+v", fresh)
	}
	if fresh.Results["t1"].State != model.TestPending {
		t.Fatalf("snapshot aliases result map: %+v", fresh.Results)
	}
	if fresh.CurrentLog[0].Message != "entry" {
		t.Fatalf("snapshot aliases log entries: %+v", fresh.CurrentLog)
	}
}

func TestResultAndNameKeysAreCaseFolded(t *testing.T) {
	s := NewStore()
	s.SetTests("Smoke", []string{"ReadVoltage"})
	s.SetTestResult("READVOLTAGE", model.TestResult{State: model.TestPass, Detail: "5.01V"})
	s.SetTestName("ReadVoltage", "Read PSU voltage")
	snap := s.Snapshot()
	if result := snap.Results["readvoltage"]; result.State != model.TestPass {
		t.Fatalf("expected folded result key, got %+v", snap.Results)
	}
	if snap.TestNames["readvoltage"] != "Read PSU voltage" {
		t.Fatalf("expected folded name key, got %+v", snap.TestNames)
	}
	if _, ok := snap.Tests["smoke"]; !ok {
		t.Fatalf("expected folded scenario key, got %+v", snap.Tests)
	}
}

// Readers racing one writer must always observe the current and global
// sequences in agreement: an appended entry lands in both or neither.
func TestConcurrentSnapshotsObserveConsistentLogs(t *testing.T) {
	s := NewStore()
	const appends = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < appends; i++ {
			s.AppendLog(testEntry("entry"))
		}
	}()
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				snap := s.Snapshot()
				if len(snap.CurrentLog) != snap.GlobalLogLen {
					t.Errorf("torn read: current=%d global=%d", len(snap.CurrentLog), snap.GlobalLogLen)
					return
				}
				select {
				case <-done:
					return
				default:
				}
			}
		}()
	}
	wg.Wait()
	<-done
	if snap := s.Snapshot(); snap.GlobalLogLen != appends {
		t.Fatalf("expected %d global entries, got %d", appends, snap.GlobalLogLen)
	}
}

// A start transition rotates current into previous inside one critical
// section. No reader may see the rotation half-applied: every appended
// entry is addressable in exactly one scenario sequence, so current
// plus previous always matches the global count.
func TestSnapshotNeverSeesRotationHalfApplied(t *testing.T) {
	s := NewStore()
	s.SelectScenario("smoke")
	const appends = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < appends; i++ {
			s.AppendLog(testEntry("entry"))
			if i == appends/2 {
				if !s.StartScenario("") {
					t.Error("start with active scenario failed")
					return
				}
			}
		}
	}()
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				snap := s.Snapshot()
				if got := len(snap.CurrentLog) + len(snap.PreviousLog); got != snap.GlobalLogLen {
					t.Errorf("torn rotation: current=%d previous=%d global=%d",
						len(snap.CurrentLog), len(snap.PreviousLog), snap.GlobalLogLen)
					return
				}
				select {
				case <-done:
					return
				default:
				}
			}
		}()
	}
	wg.Wait()
	<-done
	snap := s.Snapshot()
	if len(snap.PreviousLog) != appends/2+1 {
		t.Fatalf("expected %d rotated entries, got %d", appends/2+1, len(snap.PreviousLog))
	}
	if len(snap.CurrentLog)+len(snap.PreviousLog) != appends {
		t.Fatalf("expected %d entries across sequences, got current=%d previous=%d",
			appends, len(snap.CurrentLog), len(snap.PreviousLog))
	}
}
