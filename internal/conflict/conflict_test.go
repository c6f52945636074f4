package conflict

import (
	"testing"
	"time"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, time.March, 9, hour, minute, 0, 0, time.UTC)
}

func TestDetectOverlapSamePM(t *testing.T) {
	events := []Event{
		{ID: "a", PMID: "pm-7", Start: at(9, 0), End: at(11, 0)},
		{ID: "b", PMID: "pm-7", Start: at(10, 0), End: at(12, 0)},
	}
	flagged := Detect(events)
	if !flagged["a"] || !flagged["b"] {
		t.Fatalf("both overlapping events should be flagged, got %v", flagged)
	}
}

func TestDetectDifferentPMsNeverConflict(t *testing.T) {
	events := []Event{
		{ID: "a", PMID: "pm-7", Start: at(9, 0), End: at(11, 0)},
		{ID: "b", PMID: "pm-9", Start: at(10, 0), End: at(12, 0)},
	}
	if flagged := Detect(events); len(flagged) != 0 {
		t.Fatalf("different PMs must not conflict, got %v", flagged)
	}
}

func TestDetectAdjacentWindowsDoNotConflict(t *testing.T) {
	events := []Event{
		{ID: "a", PMID: "pm-7", Start: at(9, 0), End: at(11, 0)},
		{ID: "b", PMID: "pm-7", Start: at(11, 0), End: at(13, 0)},
	}
	if flagged := Detect(events); len(flagged) != 0 {
		t.Fatalf("back-to-back events must not conflict, got %v", flagged)
	}
}

func TestDetectContainedWindow(t *testing.T) {
	events := []Event{
		{ID: "long", PMID: "pm-3", Start: at(8, 0), End: at(17, 0)},
		{ID: "inside", PMID: "pm-3", Start: at(10, 0), End: at(11, 0)},
		{ID: "later", PMID: "pm-3", Start: at(12, 0), End: at(13, 0)},
	}
	flagged := Detect(events)
	for _, id := range []string{"long", "inside", "later"} {
		if !flagged[id] {
			t.Fatalf("event %q overlaps the all-day window and should be flagged, got %v", id, flagged)
		}
	}
}

func TestDetectSkipsIncompleteEvents(t *testing.T) {
	events := []Event{
		{ID: "no-pm", Start: at(9, 0), End: at(11, 0)},
		{ID: "no-window", PMID: "pm-7"},
		{ID: "inverted", PMID: "pm-7", Start: at(12, 0), End: at(10, 0)},
		{ID: "ok", PMID: "pm-7", Start: at(9, 0), End: at(11, 0)},
	}
	if flagged := Detect(events); len(flagged) != 0 {
		t.Fatalf("incomplete events must be excluded, got %v", flagged)
	}
}

func TestDetectChainOfOverlaps(t *testing.T) {
	events := []Event{
		{ID: "a", PMID: "pm-1", Start: at(9, 0), End: at(10, 30)},
		{ID: "b", PMID: "pm-1", Start: at(10, 0), End: at(11, 30)},
		{ID: "c", PMID: "pm-1", Start: at(11, 0), End: at(12, 0)},
	}
	flagged := Detect(events)
	if len(flagged) != 3 {
		t.Fatalf("chained overlaps should flag all three, got %v", flagged)
	}
}
