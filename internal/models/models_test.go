package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEventJSONOmitsForeignFields(t *testing.T) {
	event := MousePosition(100, Point{X: 100, Y: 100})

	jsonData, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}

	got := string(jsonData)
	want := `{"kind":"mouse_position","time":100,"pos":{"x":100,"y":100}}`
	if got != want {
		t.Errorf("JSON mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestHoveredCardJSON(t *testing.T) {
	event := HoveredCard(2500, Rect{X: 10, Y: 20, Width: 300, Height: 400}, [4]float64{12, 12, 0, 0}, 4600)

	jsonData, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}

	var unmarshaled InteractionEvent
	if err := json.Unmarshal(jsonData, &unmarshaled); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}
	if unmarshaled.CornerRadius == nil || *unmarshaled.CornerRadius != [4]float64{12, 12, 0, 0} {
		t.Errorf("CornerRadius mismatch: got %v", unmarshaled.CornerRadius)
	}
	if unmarshaled.EndTime != 4600 {
		t.Errorf("EndTime mismatch: got %d, want 4600", unmarshaled.EndTime)
	}
	if strings.Contains(string(jsonData), `"key"`) {
		t.Errorf("Expected no key field in %s", jsonData)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	start := time.UnixMilli(1700000000000)
	session := Session{
		ID:                "s1",
		Mode:              ModeTab,
		State:             StateRecording,
		StartTime:         start,
		RecordedContextID: "tab-7",
		OriginContextID:   "tab-7",
	}

	snapshot := session.Snapshot()
	if !snapshot.IsRecording {
		t.Fatal("Expected recording snapshot")
	}
	if snapshot.StartTime != start.UnixMilli() {
		t.Errorf("StartTime mismatch: got %d", snapshot.StartTime)
	}

	restored := snapshot.Session()
	if restored.ID != "s1" || restored.State != StateRecording || !restored.StartTime.Equal(start) {
		t.Errorf("Restored session mismatch: %+v", restored)
	}
}

func TestIdleSnapshotRestoresIdle(t *testing.T) {
	restored := Snapshot{SessionID: "stale", Mode: ModeWindow}.Session()
	if restored.Active() {
		t.Errorf("Expected idle session, got %+v", restored)
	}
}

func TestRectGeometry(t *testing.T) {
	outer := Rect{X: 0, Y: 0, Width: 1000, Height: 800}
	inner := Rect{X: 100, Y: 100, Width: 200, Height: 200}

	if !inner.Within(outer) {
		t.Error("Expected inner within outer")
	}
	if outer.Within(inner) {
		t.Error("Expected outer not within inner")
	}
	if !inner.Contains(Point{X: 300, Y: 300}) {
		t.Error("Expected bottom-right edge to be contained")
	}
	if inner.Moved(Rect{X: 101, Y: 100, Width: 200, Height: 200}, 1) {
		t.Error("Expected 1px shift to stay under threshold")
	}
	if !inner.Moved(Rect{X: 100, Y: 100, Width: 202, Height: 200}, 1) {
		t.Error("Expected 2px resize to exceed threshold")
	}
}

func TestModeValid(t *testing.T) {
	for _, mode := range []Mode{ModeTab, ModeWindow, ModeScreen} {
		if !mode.Valid() {
			t.Errorf("Expected %s to be valid", mode)
		}
	}
	if Mode("desktop").Valid() {
		t.Error("Expected unknown mode to be invalid")
	}
}
