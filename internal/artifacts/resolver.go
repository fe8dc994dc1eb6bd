// Package artifacts rewrites tool-call arguments so pipeline artifacts
// land in isolated storage instead of the agent's apparent working
// directory. The resolver holds no mutable state and is safe to call
// concurrently across explorer lanes.
package artifacts

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// artifactNames is the closed set of recognized pipeline-artifact
// filenames. Any tool path whose basename matches is redirected to the
// storage root, no matter what directory the agent put in front of it.
var artifactNames = map[string]bool{
	"feature-map.json":  true,
	"requirements.json": true,
	"progress.json":     true,
	"plan.md":           true,
	"exploration.json":  true,
	"test-report.json":  true,
	"diff.patch":        true,
	"qa-report.json":    true,
	"notes.md":          true,
}

// rootLevelNames always resolve directly under the storage id root,
// never under a feature-prefix subdirectory.
var rootLevelNames = map[string]bool{
	"feature-map.json":  true,
	"requirements.json": true,
	"progress.json":     true,
}

// pathArgKeys are the tool argument names treated as filesystem paths.
var pathArgKeys = []string{"file_path", "path", "old_path", "new_path"}

// contentPrefixPattern extracts an embedded feature prefix from file
// content being written, e.g. `"prefix": "AUTH"`.
var contentPrefixPattern = regexp.MustCompile(`"prefix"\s*:\s*"([^"]+)"`)

// artifactTokenPattern matches a path-ish token ending in one of the
// artifact filenames inside shell command text.
var artifactTokenPattern = buildArtifactTokenPattern()

func buildArtifactTokenPattern() *regexp.Regexp {
	names := make([]string, 0, len(artifactNames))
	for name := range artifactNames {
		names = append(names, regexp.QuoteMeta(name))
	}
	return regexp.MustCompile(`(?:[\w~.$-]+/)*(?:` + strings.Join(names, "|") + `)\b`)
}

// Resolver rewrites tool arguments against a fixed storage root.
type Resolver struct {
	// StorageRoot is the base directory for all pipeline artifact storage,
	// e.g. ~/.autopilot/storage.
	StorageRoot string
}

// Resolve rewrites the path-bearing arguments of a tool call. It returns
// a new argument map (the input is never mutated) and whether anything
// changed. logicalCwd is the directory the agent believes it is working
// in; storageID is the pipeline's artifact isolation key.
func (r Resolver) Resolve(toolName string, args map[string]any, logicalCwd, storageID string) (map[string]any, bool) {
	if args == nil {
		return nil, false
	}

	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}

	content, _ := args["content"].(string)
	changed := false

	for _, key := range pathArgKeys {
		p, ok := out[key].(string)
		if !ok || p == "" {
			continue
		}
		resolved := r.resolvePath(p, logicalCwd, storageID, content)
		if resolved != p {
			out[key] = resolved
			changed = true
		}
	}

	if cmd, ok := out["command"].(string); ok && cmd != "" {
		rewritten := r.rewriteCommand(cmd, logicalCwd, storageID)
		if rewritten != cmd {
			out["command"] = rewritten
			changed = true
		}
	}

	return out, changed
}

// resolvePath resolves a single path argument.
func (r Resolver) resolvePath(p, logicalCwd, storageID, content string) string {
	if isURL(p) {
		return p
	}

	base := filepath.Base(p)
	if artifactNames[base] {
		return r.artifactPath(p, base, storageID, content)
	}

	if strings.HasPrefix(p, "~") {
		return expandHome(p)
	}
	if filepath.IsAbs(p) {
		return p
	}
	if logicalCwd == "" {
		return p
	}
	return filepath.Join(logicalCwd, p)
}

// artifactPath routes a recognized artifact filename into storage.
func (r Resolver) artifactPath(original, base, storageID, content string) string {
	root := filepath.Join(r.StorageRoot, storageID)
	if rootLevelNames[base] {
		return filepath.Join(root, base)
	}

	prefix := r.prefixFromPath(original, storageID)
	if prefix == "" {
		prefix = prefixFromContent(content)
	}
	if prefix == "" {
		return filepath.Join(root, base)
	}
	return filepath.Join(root, prefix, base)
}

// prefixFromPath recovers the active feature prefix from a directory
// segment of the original path. Segments belonging to the storage tree
// itself are skipped so resolving an already-resolved path is a no-op.
func (r Resolver) prefixFromPath(p, storageID string) string {
	dir := filepath.ToSlash(filepath.Dir(p))
	rootBase := filepath.Base(r.StorageRoot)
	segs := strings.Split(dir, "/")
	for i := len(segs) - 1; i >= 0; i-- {
		seg := segs[i]
		switch seg {
		case "", ".", "..", "~", storageID, rootBase:
			continue
		}
		return seg
	}
	return ""
}

// prefixFromContent scans content being written for an embedded prefix
// field.
func prefixFromContent(content string) string {
	if content == "" {
		return ""
	}
	m := contentPrefixPattern.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return m[1]
}

// rewriteCommand rewrites artifact paths embedded in shell command text,
// then prefixes the command with an explicit directory change so the
// command runs against the logical working directory regardless of the
// transport's real cwd.
func (r Resolver) rewriteCommand(cmd, logicalCwd, storageID string) string {
	rewritten := artifactTokenPattern.ReplaceAllStringFunc(cmd, func(tok string) string {
		return r.resolvePath(tok, logicalCwd, storageID, "")
	})
	if logicalCwd == "" {
		return rewritten
	}
	return "cd " + logicalCwd + " && " + rewritten
}

func isURL(p string) bool {
	return strings.Contains(p, "://")
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(p string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}
