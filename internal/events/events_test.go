package events

import (
	"path/filepath"
	"testing"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppendPreservesOrder(t *testing.T) {
	l := openTestLog(t)

	types := []string{"pipeline_started", "requirement_started", "phase_started", "phase_completed", "requirement_completed"}
	for _, typ := range types {
		if err := l.Append("p1", typ, `{"n":1}`); err != nil {
			t.Fatalf("Append %s: %v", typ, err)
		}
	}

	got, err := l.List("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(types) {
		t.Fatalf("len = %d, want %d", len(got), len(types))
	}
	for i, e := range got {
		if e.Type != types[i] {
			t.Errorf("event[%d] = %q, want %q (strict append order)", i, e.Type, types[i])
		}
	}
}

func TestListScopedByPipeline(t *testing.T) {
	l := openTestLog(t)
	_ = l.Append("p1", "a", "")
	_ = l.Append("p2", "b", "")

	got, err := l.List("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Type != "a" {
		t.Errorf("got %+v", got)
	}
}

func TestBackfillIdempotent(t *testing.T) {
	l := openTestLog(t)

	seed := []Event{{Type: "pipeline_started"}, {Type: "requirement_started"}}
	if err := l.Backfill("p1", seed); err != nil {
		t.Fatal(err)
	}
	got, _ := l.List("p1")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}

	// Second backfill must be a no-op because the log already has content.
	if err := l.Backfill("p1", seed); err != nil {
		t.Fatal(err)
	}
	got, _ = l.List("p1")
	if len(got) != 2 {
		t.Errorf("len = %d after second backfill, want 2", len(got))
	}
}

func TestToolEventsAndDurations(t *testing.T) {
	l := openTestLog(t)

	calls := []ToolEvent{
		{PipelineID: "p1", SessionID: "s1", Tool: "Read", CallID: "c1", Status: "started"},
		{PipelineID: "p1", SessionID: "s1", Tool: "Read", CallID: "c1", Status: "completed", DurationMs: 120},
		{PipelineID: "p1", SessionID: "s1", Tool: "Bash", CallID: "c2", Status: "completed", DurationMs: 800},
		{PipelineID: "p1", SessionID: "s1", Tool: "AskUserQuestion", CallID: "c3", Status: "denied"},
	}
	for _, c := range calls {
		if err := l.AppendTool(c); err != nil {
			t.Fatalf("AppendTool: %v", err)
		}
	}

	got, err := l.ListTools("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if got[3].Status != "denied" {
		t.Errorf("status = %q, want denied", got[3].Status)
	}

	totals, err := l.ToolDurations("p1")
	if err != nil {
		t.Fatal(err)
	}
	if totals["Read"] != 120 || totals["Bash"] != 800 {
		t.Errorf("totals = %v", totals)
	}
}

func TestTypeCounts(t *testing.T) {
	l := openTestLog(t)
	_ = l.Append("p1", "retry_started", "")
	_ = l.Append("p1", "retry_started", "")
	_ = l.Append("p1", "requirement_failed", "")

	counts, err := l.TypeCounts("p1")
	if err != nil {
		t.Fatal(err)
	}
	if counts["retry_started"] != 2 || counts["requirement_failed"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
