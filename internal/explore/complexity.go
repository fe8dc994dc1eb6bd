package explore

import "path/filepath"

// Per-factor saturation points for the complexity score.
const (
	textLengthCap = 20
	fileCountCap  = 25
	noveltyPoints = 15
	spreadCap     = 20

	charsPerPoint  = 40
	pointsPerFile  = 5
	pointsPerDir   = 5
	platformSingle = 10
	platformAll    = 20
)

// Tier thresholds for medium depth.
const (
	midTierScore = 30
	topTierScore = 70
)

// complexityScore is a pure function of the requirement and its merged
// context. Each factor saturates independently; the sum is clamped to
// [0, 100].
func complexityScore(req Request, ctx *Context) int {
	score := 0

	score += capAt(len(req.Title+req.Description)/charsPerPoint, textLengthCap)

	files := ctx.allFiles()
	score += capAt(len(files)*pointsPerFile, fileCountCap)

	switch req.Platform {
	case "":
	case "all", "both":
		score += platformAll
	default:
		score += platformSingle
	}

	// No matching templates means the work has nothing to copy from.
	if len(ctx.Related.Templates) == 0 {
		score += noveltyPoints
	}

	if dirs := distinctParentDirs(files); dirs > 1 {
		score += capAt((dirs-1)*pointsPerDir, spreadCap)
	}

	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}

// selectModel picks the model for the plan/execute phases. Explicit
// quick and thorough depths override the score.
func selectModel(depth string, score int, tiers ModelTiers) string {
	switch depth {
	case "quick":
		return tiers.Cheap
	case "thorough":
		return tiers.Top
	}
	switch {
	case score < midTierScore:
		return tiers.Cheap
	case score < topTierScore:
		return tiers.Mid
	default:
		return tiers.Top
	}
}

func distinctParentDirs(files []string) int {
	dirs := make(map[string]bool)
	for _, f := range files {
		dirs[filepath.Dir(f)] = true
	}
	return len(dirs)
}

func capAt(v, max int) int {
	if v > max {
		return max
	}
	return v
}
