package agent

import "strings"

// sentenceTerminators are the characters that mark a complete sentence;
// their absence at the end of a trimmed response is one signal of
// truncation.
const sentenceTerminators = ".!?\"')]}"

// DetectTruncation is the heuristic loose-string-check spec.md §4.2/§9
// describes: "a loose string check in the source; treat it as a tunable
// predicate behind a feature flag." Gated by
// Config.Agent.TruncationHeuristicEnabled.
func DetectTruncation(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	if strings.HasSuffix(trimmed, "...") || strings.HasSuffix(trimmed, "…") {
		return true
	}
	last := trimmed[len(trimmed)-1]
	return !strings.ContainsRune(sentenceTerminators, rune(last))
}
