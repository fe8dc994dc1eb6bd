package explore

import "strings"

// merge folds lane results into one deduplicated context. Patterns
// dedup by name, files and endpoints by path, first seen wins; notes
// and test patterns concatenate without dedup. Which lane's duplicate
// wins depends on completion order, but the resulting set does not.
func merge(lanes []*LaneResult, failures []LaneFailure) *Context {
	ctx := &Context{Failures: failures}

	patternSeen := make(map[string]bool)
	fileSeen := make(map[string]bool)
	endpointSeen := make(map[string]bool)

	addFiles := func(dst *[]string, files []string) {
		for _, f := range files {
			if f == "" || fileSeen[f] {
				continue
			}
			fileSeen[f] = true
			*dst = append(*dst, f)
		}
	}

	for _, lane := range lanes {
		for _, p := range lane.Patterns {
			if p.Name == "" || patternSeen[p.Name] {
				continue
			}
			patternSeen[p.Name] = true
			ctx.Patterns = append(ctx.Patterns, p)
			if strings.Contains(strings.ToLower(p.Name), "component") {
				ctx.ExistingComponents = append(ctx.ExistingComponents, p.Name)
			}
		}
		addFiles(&ctx.Related.Templates, lane.Related.Templates)
		addFiles(&ctx.Related.Types, lane.Related.Types)
		addFiles(&ctx.Related.Tests, lane.Related.Tests)
		for _, ep := range lane.Endpoints {
			if ep == "" || endpointSeen[ep] {
				continue
			}
			endpointSeen[ep] = true
			ctx.Endpoints = append(ctx.Endpoints, ep)
		}
		ctx.TestPatterns = append(ctx.TestPatterns, lane.TestPatterns...)
		ctx.Notes = append(ctx.Notes, lane.Notes...)
	}

	return ctx
}

// allFiles flattens the related-file buckets plus pattern files.
func (c *Context) allFiles() []string {
	var files []string
	seen := make(map[string]bool)
	add := func(fs []string) {
		for _, f := range fs {
			if f == "" || seen[f] {
				continue
			}
			seen[f] = true
			files = append(files, f)
		}
	}
	add(c.Related.Templates)
	add(c.Related.Types)
	add(c.Related.Tests)
	for _, p := range c.Patterns {
		add(p.Files)
	}
	return files
}
