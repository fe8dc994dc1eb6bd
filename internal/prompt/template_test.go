package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderVariables(t *testing.T) {
	out, err := Render("Hello {{name}}, requirement {{id}}", Vars{"name": "agent", "id": "CART-1"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "Hello agent, requirement CART-1" {
		t.Errorf("out = %q", out)
	}
}

func TestRenderMissingVariable(t *testing.T) {
	_, err := Render("Hello {{name}} and {{other}}", Vars{"name": "x"})
	if err == nil || !strings.Contains(err.Error(), "other") {
		t.Errorf("expected missing-variable error naming 'other', got %v", err)
	}
}

func TestRenderConditionals(t *testing.T) {
	tmpl := "A{{#if plan}}B{{plan}}C{{/if}}D"

	out, err := Render(tmpl, Vars{"plan": "X"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "ABXCD" {
		t.Errorf("with var: %q", out)
	}

	out, err = Render(tmpl, Vars{"plan": ""})
	if err != nil {
		t.Fatal(err)
	}
	if out != "AD" {
		t.Errorf("empty var: %q", out)
	}

	out, err = Render(tmpl, Vars{})
	if err != nil {
		t.Fatal(err)
	}
	if out != "AD" {
		t.Errorf("unset var: %q", out)
	}
}

func TestRenderNestedConditionals(t *testing.T) {
	tmpl := "{{#if a}}1{{#if b}}2{{/if}}3{{/if}}"
	out, err := Render(tmpl, Vars{"a": "y", "b": "y"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "123" {
		t.Errorf("out = %q", out)
	}

	out, err = Render(tmpl, Vars{"a": "y"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "13" {
		t.Errorf("out = %q", out)
	}
}

func TestRenderUnbalancedConditionals(t *testing.T) {
	if _, err := Render("{{#if a}}x", Vars{}); err == nil {
		t.Error("expected error for unclosed block")
	}
	if _, err := Render("x{{/if}}", Vars{}); err == nil {
		t.Error("expected error for dangling close")
	}
}

func TestLoadTemplateBuiltins(t *testing.T) {
	names := []string{
		TemplateRole, TemplateExplorePatterns, TemplateExploreAPI,
		TemplateExploreTests, TemplatePlan, TemplateExecute, TemplateTest,
	}
	for _, name := range names {
		content, err := LoadTemplate(name, "")
		if err != nil {
			t.Errorf("LoadTemplate(%q): %v", name, err)
		}
		if content == "" {
			t.Errorf("LoadTemplate(%q): empty", name)
		}
	}

	if _, err := LoadTemplate("nope.md", ""); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestLoadTemplateOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, TemplatePlan), []byte("custom {{requirement_id}}"), 0o644); err != nil {
		t.Fatal(err)
	}

	content, err := LoadTemplate(TemplatePlan, dir)
	if err != nil {
		t.Fatal(err)
	}
	if content != "custom {{requirement_id}}" {
		t.Errorf("override not used: %q", content)
	}
}

func TestLoadTemplateEscapeRejected(t *testing.T) {
	if _, err := LoadTemplate("../secrets.md", t.TempDir()); err == nil {
		t.Error("expected path traversal rejection")
	}
}

// The verdict line contract baked into the test template is what the
// orchestrator's fail-closed scan looks for.
func TestTestTemplateCarriesVerdictMarkers(t *testing.T) {
	content, _ := LoadTemplate(TemplateTest, "")
	if !strings.Contains(content, "TESTS PASSED") || !strings.Contains(content, "TESTS FAILED") {
		t.Error("test template must instruct explicit verdict markers")
	}
}
