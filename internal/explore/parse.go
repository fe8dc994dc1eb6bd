package explore

import (
	"encoding/json"
	"regexp"
)

// fencedJSONPattern captures the body of the first fenced json block.
var fencedJSONPattern = regexp.MustCompile("(?s)```json\\s*(.*?)```")

// filePattern matches source-file-like substrings for the fallback scan.
var filePattern = regexp.MustCompile(`[\w./-]+\.(?:go|ts|tsx|js|jsx|mjs|py|rb|java|kt|rs|vue|svelte|css|scss|html|sql|proto|ya?ml|json)\b`)

// fallbackFileCap bounds how many file mentions the fallback scan keeps.
const fallbackFileCap = 10

// laneReply mirrors the fenced json schema the lane prompts ask for.
type laneReply struct {
	Patterns     []Pattern    `json:"patterns"`
	RelatedFiles RelatedFiles `json:"relatedFiles"`
	APIEndpoints []string     `json:"apiEndpoints"`
	TestPatterns []string     `json:"testPatterns"`
	Notes        []string     `json:"notes"`
}

// parseLaneReply extracts structured findings from a lane's free-text
// reply. When no parseable fenced block exists it falls back to
// scanning the raw text for file mentions and flags the fallback in a
// note. It never fails; a lane that replied at all always yields a
// result.
func parseLaneReply(lane, text string) *LaneResult {
	if m := fencedJSONPattern.FindStringSubmatch(text); m != nil {
		var reply laneReply
		if err := json.Unmarshal([]byte(m[1]), &reply); err == nil {
			return &LaneResult{
				Lane:         lane,
				Patterns:     reply.Patterns,
				Related:      reply.RelatedFiles,
				Endpoints:    reply.APIEndpoints,
				TestPatterns: reply.TestPatterns,
				Notes:        reply.Notes,
			}
		}
	}

	files := scanFileMentions(text)
	return &LaneResult{
		Lane:    lane,
		Related: RelatedFiles{Types: files},
		Notes:   []string{"structured block missing or unparseable; fell back to raw file scan"},
	}
}

// scanFileMentions collects distinct source-file-like substrings,
// capped, in order of first appearance.
func scanFileMentions(text string) []string {
	seen := make(map[string]bool)
	var files []string
	for _, m := range filePattern.FindAllString(text, -1) {
		if seen[m] {
			continue
		}
		seen[m] = true
		files = append(files, m)
		if len(files) == fallbackFileCap {
			break
		}
	}
	return files
}
