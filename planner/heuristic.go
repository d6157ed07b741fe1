package planner

import (
	"context"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// separators split a request into candidate step fragments. Order matters:
// longer, more specific separators are tried before generic sentence breaks.
var separators = []string{
	" and then ",
	" after that ",
	" next ",
	" also ",
	". Then ",
	", then ",
}

var numberedListRe = regexp.MustCompile(`(?m)^\s*\d+[.)]\s+`)

const maxDescriptionLen = 100

var recognizedExtensions = []string{
	".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".rs", ".java", ".rb", ".c", ".cpp", ".h",
	".md", ".json", ".yaml", ".yml", ".toml", ".sql", ".sh",
}

var (
	strongKeywords = regexp.MustCompile(`(?i)\b(refactor|analyze|explain|review)\b`)
	fastKeywords   = regexp.MustCompile(`(?i)\b(fix|typo|quick)\b`)
)

// HeuristicPlanner decomposes a request by splitting on a fixed list of
// separators rather than calling the model — cheap, deterministic, and good
// enough for simple multi-step requests.
type HeuristicPlanner struct{}

// NewHeuristicPlanner constructs a HeuristicPlanner.
func NewHeuristicPlanner() *HeuristicPlanner { return &HeuristicPlanner{} }

// CreatePlan splits req.Text into fragments and materializes one
// single-step group per fragment; group N depends on group N-1 unless every
// fragment names disjoint relevant_files, in which case the groups carry no
// dependencies and are independent.
func (HeuristicPlanner) CreatePlan(_ context.Context, req Request, _ ExecutionMode) (*Plan, error) {
	fragments := splitFragments(req.Text)
	if len(fragments) == 0 {
		fragments = []string{req.Text}
	}

	steps := make([]Step, 0, len(fragments))
	fileSets := make([][]string, 0, len(fragments))
	for i, frag := range fragments {
		files := extractRelevantFiles(frag)
		fileSets = append(fileSets, files)
		steps = append(steps, Step{
			ID:                stepID(i),
			Description:       truncate(firstSentence(frag), maxDescriptionLen),
			Instructions:      strings.TrimSpace(frag),
			RelevantFiles:     files,
			SuggestedExecutor: suggestExecutor(frag),
		})
	}

	plan := &Plan{Title: truncate(strings.TrimSpace(req.Text), maxDescriptionLen)}
	if independentTargets(fileSets) {
		for i, s := range steps {
			plan.Groups = append(plan.Groups, StepGroup{ID: groupID(i), Steps: []Step{s}})
		}
		return plan, nil
	}

	for i, s := range steps {
		g := StepGroup{ID: groupID(i), Steps: []Step{s}}
		if i > 0 {
			g.DependsOn = []string{groupID(i - 1)}
		}
		plan.Groups = append(plan.Groups, g)
	}
	return plan, nil
}

func splitFragments(text string) []string {
	normalized := numberedListRe.ReplaceAllString(text, "\x00")
	parts := []string{normalized}
	for _, sep := range separators {
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, sep)...)
		}
		parts = next
	}

	var out []string
	for _, p := range parts {
		for _, item := range strings.Split(p, "\x00") {
			item = strings.TrimSpace(item)
			if item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, ".!?\n"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func extractRelevantFiles(frag string) []string {
	var files []string
	for _, tok := range strings.Fields(frag) {
		tok = strings.Trim(tok, ".,;:()[]{}\"'`")
		if tok == "" {
			continue
		}
		if strings.Contains(tok, "/") || hasRecognizedExtension(tok) {
			files = append(files, tok)
		}
	}
	return files
}

func hasRecognizedExtension(tok string) bool {
	ext := path.Ext(tok)
	if ext == "" {
		return false
	}
	for _, e := range recognizedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func suggestExecutor(frag string) WorkerHint {
	switch {
	case strongKeywords.MatchString(frag):
		return HintStrongModel
	case fastKeywords.MatchString(frag):
		return HintFastModel
	default:
		return HintUnspecified
	}
}

// independentTargets reports whether every fragment names at least one
// file and every fragment's relevant files are disjoint from every other
// fragment's: if so, the fragments describe independent work and need not be
// serialized.
func independentTargets(fileSets [][]string) bool {
	seen := make(map[string]bool)
	anyFiles := false
	for _, files := range fileSets {
		if len(files) == 0 {
			return false
		}
		anyFiles = true
		for _, f := range files {
			if seen[f] {
				return false
			}
			seen[f] = true
		}
	}
	return anyFiles
}

func stepID(i int) string  { return "step-" + strconv.Itoa(i+1) }
func groupID(i int) string { return "group-" + strconv.Itoa(i+1) }
