package feature

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSpec(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "feature.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleSpec = `
project: shopd
prefix: CART
requirements:
  - title: Add to cart button
    description: Users can add items to the cart
    priority: high
    epic_id: CART-EPIC-1
    acceptance_criteria:
      - Button visible on product page
  - id: CART-42
    title: Checkout flow
    priority: 1
    epic_id: CART-EPIC-1
  - title: Wishlist
    priority: someday
epics:
  - id: CART-EPIC-1
    title: Cart basics
    goal: A working cart
    priority: critical
`

func TestLoadNormalizes(t *testing.T) {
	spec, warnings, err := Load(writeSpec(t, sampleSpec))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if spec.Requirements[0].ID != "CART-1" {
		t.Errorf("fallback id = %q, want CART-1", spec.Requirements[0].ID)
	}
	if spec.Requirements[1].ID != "CART-42" {
		t.Errorf("explicit id = %q, want CART-42", spec.Requirements[1].ID)
	}
	if spec.Requirements[2].ID != "CART-3" {
		t.Errorf("fallback id = %q, want CART-3 (1-based index)", spec.Requirements[2].ID)
	}

	if got := spec.Requirements[0].Priority; got != 2 {
		t.Errorf("high priority = %d, want 2", got)
	}
	if got := spec.Requirements[1].Priority; got != 1 {
		t.Errorf("numeric priority = %d, want 1", got)
	}
	if got := spec.Requirements[2].Priority; got != 0 {
		t.Errorf("unrecognized priority = %d, want 0", got)
	}

	foundCoercion := false
	for _, w := range warnings {
		if strings.Contains(w, "someday") {
			foundCoercion = true
		}
	}
	if !foundCoercion {
		t.Errorf("expected a coercion warning, got %v", warnings)
	}

	for _, r := range spec.Requirements {
		if r.Status != StatusPending {
			t.Errorf("requirement %s status = %q, want pending", r.ID, r.Status)
		}
	}

	epic := spec.Epics[0]
	if epic.Priority != 1 {
		t.Errorf("epic priority = %d, want 1", epic.Priority)
	}
	want := []string{"CART-1", "CART-42"}
	if len(epic.RequirementIDs) != len(want) {
		t.Fatalf("epic links = %v, want %v", epic.RequirementIDs, want)
	}
	for i, id := range want {
		if epic.RequirementIDs[i] != id {
			t.Errorf("epic link[%d] = %q, want %q", i, epic.RequirementIDs[i], id)
		}
	}
}

func TestDuplicateIDsWarnNotReject(t *testing.T) {
	specYAML := `
prefix: X
requirements:
  - id: X-1
    title: one
  - id: X-1
    title: two
`
	spec, warnings, err := Load(writeSpec(t, specYAML))
	if err != nil {
		t.Fatalf("duplicate ids must not fail the load: %v", err)
	}
	if len(spec.Requirements) != 2 {
		t.Errorf("both requirements must survive, got %d", len(spec.Requirements))
	}
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "duplicate requirement id") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected duplicate warning, got %v", warnings)
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusFailed, StatusInProgress, false},
		{StatusPending, StatusCompleted, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestEpicProgress(t *testing.T) {
	spec := &Spec{
		Requirements: []Requirement{
			{ID: "A-1", EpicID: "E1", Status: StatusCompleted},
			{ID: "A-2", EpicID: "E1", Status: StatusFailed},
			{ID: "A-3", EpicID: "E1", Status: StatusInProgress},
			{ID: "A-4", EpicID: "E1", Status: StatusPending},
			{ID: "A-5", EpicID: "E2", Status: StatusCompleted},
		},
	}
	p := spec.EpicProgress("E1")
	if p.Total != 4 || p.Completed != 1 || p.Failed != 1 || p.InProgress != 1 {
		t.Errorf("progress = %+v", p)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
