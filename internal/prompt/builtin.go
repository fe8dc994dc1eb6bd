package prompt

// Template names used by the orchestrator and explorer.
const (
	TemplateRole            = "role.md"
	TemplateExplorePatterns = "explore-patterns.md"
	TemplateExploreAPI      = "explore-contracts.md"
	TemplateExploreTests    = "explore-tests.md"
	TemplatePlan            = "plan.md"
	TemplateExecute         = "execute.md"
	TemplateTest            = "test.md"
)

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	TemplateRole:            roleTemplate,
	TemplateExplorePatterns: explorePatternsTemplate,
	TemplateExploreAPI:      exploreAPITemplate,
	TemplateExploreTests:    exploreTestsTemplate,
	TemplatePlan:            planTemplate,
	TemplateExecute:         executeTemplate,
	TemplateTest:            testTemplate,
}

const roleTemplate = `You are an autonomous build agent working on {{project}}.
You implement one requirement at a time through plan, execute, and test
phases. Work only inside {{working_dir}}. Pipeline artifacts (plan.md,
exploration.json, test-report.json and similar) are managed for you; use
the exact filenames and never invent new locations for them.
`

const explorePatternsTemplate = `Investigate the codebase at {{working_dir}} before implementing:

## Requirement {{requirement_id}}: {{requirement_title}}
{{requirement_description}}

This is a READ-ONLY investigation. Do not modify any file.

Find existing patterns and conventions relevant to this requirement:
component structure, naming, state handling, reusable templates.

Reply with a fenced json block:

` + "```json" + `
{
  "patterns": [{"name": "", "files": [], "description": ""}],
  "relatedFiles": {"templates": [], "types": [], "tests": []},
  "apiEndpoints": [],
  "testPatterns": [],
  "notes": []
}
` + "```" + `
`

const exploreAPITemplate = `Investigate the codebase at {{working_dir}} before implementing:

## Requirement {{requirement_id}}: {{requirement_title}}
{{requirement_description}}

This is a READ-ONLY investigation. Do not modify any file.

Find the API and type contracts this requirement will touch: endpoint
routes, request/response shapes, shared type definitions.

Reply with a fenced json block:

` + "```json" + `
{
  "patterns": [{"name": "", "files": [], "description": ""}],
  "relatedFiles": {"templates": [], "types": [], "tests": []},
  "apiEndpoints": [],
  "testPatterns": [],
  "notes": []
}
` + "```" + `
`

const exploreTestsTemplate = `Investigate the codebase at {{working_dir}} before implementing:

## Requirement {{requirement_id}}: {{requirement_title}}
{{requirement_description}}

This is a READ-ONLY investigation. Do not modify any file.

Find the testing conventions: frameworks, test file locations, fixture
and mock patterns, how similar features are tested.

Reply with a fenced json block:

` + "```json" + `
{
  "patterns": [{"name": "", "files": [], "description": ""}],
  "relatedFiles": {"templates": [], "types": [], "tests": []},
  "apiEndpoints": [],
  "testPatterns": [],
  "notes": []
}
` + "```" + `
`

const planTemplate = `# Plan: {{requirement_title}}

## Requirement {{requirement_id}}
{{requirement_description}}

{{#if acceptance_criteria}}
## Acceptance Criteria
{{acceptance_criteria}}
{{/if}}

{{#if exploration_context}}
## Codebase Context
{{exploration_context}}
{{/if}}

Write an implementation plan for this requirement and save it to
plan.md. List the files to change, the order of changes, and how the
acceptance criteria will be verified. Do not implement yet.
`

const executeTemplate = `# Implement: {{requirement_title}}

## Requirement {{requirement_id}}
{{requirement_description}}

{{#if plan}}
## Plan
{{plan}}
{{/if}}

{{#if acceptance_criteria}}
## Acceptance Criteria
{{acceptance_criteria}}
{{/if}}

Implement the requirement now. Follow the plan where it exists. Keep
changes scoped to this requirement.
`

const testTemplate = `# Verify: {{requirement_title}}

## Requirement {{requirement_id}}
{{requirement_description}}

{{#if acceptance_criteria}}
## Acceptance Criteria
{{acceptance_criteria}}
{{/if}}

Run the tests covering your changes and verify each acceptance
criterion. Save a summary to test-report.json.

End your reply with exactly one verdict line:
TESTS PASSED — everything verified
TESTS FAILED: <reason> — anything failed or unverifiable
`
