package daemon

import (
	"time"

	"github.com/jiglab/jigbridge/internal/api"
	"github.com/jiglab/jigbridge/internal/model"
)

func toSnapshotEnvelope(snap model.Snapshot) api.SnapshotEnvelope {
	return api.SnapshotEnvelope{
		SchemaVersion:        api.SchemaVersion,
		GeneratedAt:          time.Now().UTC(),
		Server:               snap.Server,
		Jig:                  toJigResponse(snap.Jig),
		Scenarios:            emptyIfNilSlice(snap.Scenarios),
		ScenarioNames:        emptyIfNilMap(snap.ScenarioNames),
		ScenarioDescriptions: emptyIfNilMap(snap.ScenarioDescriptions),
		Scenario: api.ActiveScenarioResponse{
			ID:    snap.Scenario.ID,
			State: string(snap.Scenario.State),
		},
		Tests:            toTestLists(snap.Tests),
		TestNames:        emptyIfNilMap(snap.TestNames),
		TestDescriptions: emptyIfNilMap(snap.TestDescriptions),
		Results:          toTestResults(snap.Results),
		CurrentLogLen:    len(snap.CurrentLog),
		PreviousLogLen:   len(snap.PreviousLog),
		GlobalLogLen:     snap.GlobalLogLen,
	}
}

func toLegacyState(snap model.Snapshot) api.LegacyState {
	return api.LegacyState{
		Server:               snap.Server,
		Jig:                  snap.Jig.ID,
		JigName:              snap.Jig.Name,
		JigDescription:       snap.Jig.Description,
		Scenarios:            emptyIfNilSlice(snap.Scenarios),
		ScenarioNames:        emptyIfNilMap(snap.ScenarioNames),
		ScenarioDescriptions: emptyIfNilMap(snap.ScenarioDescriptions),
		Scenario:             snap.Scenario.ID,
		ScenarioState:        string(snap.Scenario.State),
		Tests:                toTestLists(snap.Tests),
		TestNames:            emptyIfNilMap(snap.TestNames),
		TestDescriptions:     emptyIfNilMap(snap.TestDescriptions),
		Results:              toTestResults(snap.Results),
		Log:                  toLogEntryResponses(snap.CurrentLog),
	}
}

func toJigResponse(jig model.JigDescriptor) api.JigResponse {
	return api.JigResponse{
		ID:          jig.ID,
		Name:        jig.Name,
		Description: jig.Description,
	}
}

func toTestResults(results map[string]model.TestResult) map[string]api.TestResultResponse {
	out := make(map[string]api.TestResultResponse, len(results))
	for id, res := range results {
		out[id] = api.TestResultResponse{
			State:  string(res.State),
			Detail: res.Detail,
		}
	}
	return out
}

func toTestLists(tests map[string][]string) map[string][]string {
	out := make(map[string][]string, len(tests))
	for id, list := range tests {
		out[id] = emptyIfNilSlice(list)
	}
	return out
}

func toLogEntryResponses(entries []model.LogEntry) []api.LogEntryResponse {
	out := make([]api.LogEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, api.LogEntryResponse{
			Class:    entry.Class,
			UnitID:   entry.UnitID,
			UnitType: entry.UnitType,
			Timestamp: api.LogTimestampResponse{
				Secs:  entry.Timestamp.Secs,
				Nsecs: entry.Timestamp.Nsecs,
			},
			Message: entry.Message,
		})
	}
	return out
}

// emptyIfNilSlice keeps JSON documents free of null arrays.
func emptyIfNilSlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func emptyIfNilMap(in map[string]string) map[string]string {
	if in == nil {
		return map[string]string{}
	}
	return in
}
