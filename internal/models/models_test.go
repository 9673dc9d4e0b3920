package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJSONBMarshal(t *testing.T) {
	j := JSONB{
		"niche": "history",
		"tags":  []string{"coffee", "trade"},
	}

	data, err := j.Value()
	if err != nil {
		t.Fatalf("failed to marshal JSONB: %v", err)
	}

	if data == nil {
		t.Fatal("expected non-nil data")
	}

	// Verify it's valid JSON
	var result map[string]interface{}
	if err := json.Unmarshal(data.([]byte), &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["niche"] != "history" {
		t.Errorf("expected niche=history, got %v", result["niche"])
	}
}

func TestJSONBScan(t *testing.T) {
	jsonData := []byte(`{"channel": "main", "priority": 10}`)

	var j JSONB
	if err := j.Scan(jsonData); err != nil {
		t.Fatalf("failed to scan: %v", err)
	}

	if j["channel"] != "main" {
		t.Errorf("expected channel=main, got %v", j["channel"])
	}

	if j["priority"].(float64) != 10 {
		t.Errorf("expected priority=10, got %v", j["priority"])
	}
}

func TestQueueSnapshotValueScan(t *testing.T) {
	ended := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := QueueSnapshot{
		Queue: []VideoJob{{ID: "b", Type: JobTypeShort, Status: JobStatusPending}},
		History: []HistoryEntry{{
			VideoJob:   VideoJob{ID: "a", Type: JobTypeLong, Status: JobStatusCompleted, EndedAt: &ended},
			DurationMs: 1500,
		}},
		Stats:       SnapshotStats{Processed: 3, Failed: 1},
		LastUpdated: ended,
	}

	data, err := snap.Value()
	if err != nil {
		t.Fatalf("failed to marshal snapshot: %v", err)
	}

	// Drivers hand back either []byte or string depending on column type
	for _, raw := range []interface{}{data, string(data.([]byte))} {
		var got QueueSnapshot
		if err := got.Scan(raw); err != nil {
			t.Fatalf("failed to scan snapshot: %v", err)
		}
		if len(got.History) != 1 || got.History[0].ID != "a" || got.History[0].DurationMs != 1500 {
			t.Errorf("unexpected history: %+v", got.History)
		}
		if got.Stats != snap.Stats {
			t.Errorf("expected stats %+v, got %+v", snap.Stats, got.Stats)
		}
	}

	var empty QueueSnapshot
	if err := empty.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if err := empty.Scan(42); err == nil {
		t.Error("expected error for unsupported column type")
	}
}

func TestSnapshotJSONFieldNames(t *testing.T) {
	data, err := json.Marshal(QueueSnapshot{})
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"queue", "history", "stats", "lastUpdated"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("snapshot JSON missing %q", key)
		}
	}
}

func TestSceneRefExplicitIndex(t *testing.T) {
	zero, two, three := 0, 2, 3
	negative := -1

	cases := []struct {
		name  string
		ref   SceneRef
		want  int
		found bool
	}{
		{"index wins over number", SceneRef{Index: &two, Number: &three}, 2, true},
		{"zero index is explicit", SceneRef{Index: &zero}, 0, true},
		{"number converts to zero-based", SceneRef{Number: &three}, 2, true},
		{"negative index falls through to number", SceneRef{Index: &negative, Number: &three}, 2, true},
		{"zero number is ignored", SceneRef{Number: &zero}, 0, false},
		{"id only", SceneRef{ID: "intro"}, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.ref.ExplicitIndex()
			if ok != tc.found || got != tc.want {
				t.Errorf("ExplicitIndex() = (%d, %v), want (%d, %v)", got, ok, tc.want, tc.found)
			}
		})
	}
}

func TestAssetNilSafety(t *testing.T) {
	var audio *AudioAsset
	var caption *CaptionAsset

	for _, a := range []Asset{audio, caption} {
		if a.Valid() {
			t.Error("nil asset reported valid")
		}
		if a.AssetText() != "" {
			t.Error("nil asset returned text")
		}
		if !a.Identity().Empty() {
			t.Error("nil asset returned identity")
		}
	}
}

func TestCaptionAssetTextFromSegments(t *testing.T) {
	c := &CaptionAsset{Segments: []CaptionSegment{
		{Start: 0, End: 1, Text: "Hello"},
		{Start: 1, End: 2, Text: "world"},
	}}
	if got := c.AssetText(); got != "Hello world" {
		t.Errorf("expected joined segment text, got %q", got)
	}
}

func TestJobStatus(t *testing.T) {
	statuses := []JobStatus{
		JobStatusPending,
		JobStatusProcessing,
		JobStatusCompleted,
		JobStatusFailed,
		JobStatusCancelled,
	}

	for _, status := range statuses {
		if status == "" {
			t.Errorf("empty status found")
		}
	}

	if JobStatusPending.Terminal() || JobStatusProcessing.Terminal() {
		t.Error("non-terminal status reported terminal")
	}
	if !JobStatusCancelled.Terminal() {
		t.Error("cancelled should be terminal")
	}
}

func TestJobTypeDefaults(t *testing.T) {
	if JobTypeLong.DefaultOrientation() != OrientationHorizontal {
		t.Error("long-form should default to horizontal")
	}
	if JobTypeShort.DefaultOrientation() != OrientationVertical {
		t.Error("short-form should default to vertical")
	}
	if JobType("podcast").Valid() {
		t.Error("unknown job type accepted")
	}
}
