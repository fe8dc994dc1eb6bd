package feature

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// qualitativePriorities maps the 5-level scale to numeric priorities.
// Unrecognized strings coerce to 0, which sorts ahead of everything —
// the loader records a warning when this happens.
var qualitativePriorities = map[string]int{
	"critical": 1,
	"high":     2,
	"medium":   3,
	"low":      4,
	"minimal":  5,
}

// Load reads and normalizes a feature spec from a YAML file. Warnings
// (duplicate ids, coerced priorities) are returned alongside the spec;
// they never fail the load.
func Load(path string) (*Spec, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading feature spec: %w", err)
	}

	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, nil, fmt.Errorf("parsing feature spec YAML: %w", err)
	}

	warnings := Normalize(&spec)
	return &spec, warnings, nil
}

// Normalize fills fallback ids, coerces priorities, defaults statuses,
// and derives epic requirement links. It returns non-fatal warnings.
func Normalize(spec *Spec) []string {
	var warnings []string

	prefix := spec.Prefix
	if prefix == "" {
		prefix = "REQ"
	}

	seen := make(map[string]bool)
	for i := range spec.Requirements {
		r := &spec.Requirements[i]
		if r.ID == "" {
			r.ID = fmt.Sprintf("%s-%d", prefix, i+1)
		}
		if seen[r.ID] {
			warnings = append(warnings, fmt.Sprintf("duplicate requirement id %q", r.ID))
		}
		seen[r.ID] = true

		if r.Status == "" {
			r.Status = StatusPending
		}

		p, warn := coercePriority(r.RawPriority)
		r.Priority = p
		if warn != "" {
			warnings = append(warnings, fmt.Sprintf("requirement %s: %s", r.ID, warn))
		}
	}

	epicSeen := make(map[string]bool)
	for i := range spec.Epics {
		e := &spec.Epics[i]
		if e.ID == "" {
			e.ID = fmt.Sprintf("%s-EPIC-%d", prefix, i+1)
		}
		if epicSeen[e.ID] {
			warnings = append(warnings, fmt.Sprintf("duplicate epic id %q", e.ID))
		}
		epicSeen[e.ID] = true

		p, warn := coercePriority(e.RawPriority)
		e.Priority = p
		if warn != "" {
			warnings = append(warnings, fmt.Sprintf("epic %s: %s", e.ID, warn))
		}

		// Derive requirement links from back-references.
		e.RequirementIDs = nil
		for j := range spec.Requirements {
			if spec.Requirements[j].EpicID == e.ID {
				e.RequirementIDs = append(e.RequirementIDs, spec.Requirements[j].ID)
			}
		}
	}

	return warnings
}

// coercePriority converts a raw YAML priority value to an int. Numbers
// pass through; the qualitative scale maps to 1–5; anything else
// coerces to 0 with a warning.
func coercePriority(raw any) (int, string) {
	switch v := raw.(type) {
	case nil:
		return 0, ""
	case int:
		return v, ""
	case int64:
		return int(v), ""
	case float64:
		return int(math.Round(v)), ""
	case string:
		if v == "" {
			return 0, ""
		}
		if p, ok := qualitativePriorities[strings.ToLower(strings.TrimSpace(v))]; ok {
			return p, ""
		}
		return 0, fmt.Sprintf("unrecognized priority %q coerced to 0", v)
	default:
		return 0, fmt.Sprintf("unrecognized priority value %v coerced to 0", raw)
	}
}
