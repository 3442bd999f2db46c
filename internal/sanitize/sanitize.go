// Package sanitize normalizes a persisted conversation history between
// requests, removing artifacts an abort or crash can leave behind so the
// next request sees a structurally valid history.
//
// Grounded on the teacher's internal/agent/transcript_repair.go (dangling
// tool-call removal via a pending-call-id map), extended to the full
// fixed-point algorithm of spec.md §4.5 against
// original_source/core/agents/resume/sanitize.py.
package sanitize

import "github.com/tunacode/agentcore/pkg/models"

// MaxIterations bounds the fixed-point loop; spec.md §4.5 requires a safety
// bound of 10 passes.
const MaxIterations = 10

// History runs all four operations to a fixed point, in the order spec.md
// §4.5 lists them, repeating until a pass makes no further change or
// MaxIterations is reached. It is pure: it only removes content, never
// rewrites it (spec.md §4.5's closing guarantee).
func History(history []models.Message) []models.Message {
	current := history
	for i := 0; i < MaxIterations; i++ {
		next := removeDanglingToolCalls(current)
		next = removeEmptyAssistantMessages(next)
		next = collapseConsecutiveUserSystemRuns(next)
		next = stripSystemMessages(next)
		if sameLength(current, next) && identical(current, next) {
			return next
		}
		current = next
	}
	return current
}

// removeDanglingToolCalls deletes TOOL_CALL parts whose tool_call_id has no
// matching TOOL_RETURN; if doing so empties an assistant message, the whole
// message is dropped (spec.md §4.5, operation 1).
func removeDanglingToolCalls(history []models.Message) []models.Message {
	callIDs := map[string]bool{}
	returnIDs := map[string]bool{}
	for _, msg := range history {
		for _, p := range msg.Parts {
			switch p.Type {
			case models.PartToolCall:
				callIDs[p.ToolCallID] = true
			case models.PartToolReturn:
				returnIDs[p.ToolCallID] = true
			}
		}
	}

	dangling := map[string]bool{}
	for id := range callIDs {
		if !returnIDs[id] {
			dangling[id] = true
		}
	}
	if len(dangling) == 0 {
		return history
	}

	out := make([]models.Message, 0, len(history))
	for _, msg := range history {
		if msg.Role != models.RoleAssistant {
			out = append(out, msg)
			continue
		}
		kept := make([]models.Part, 0, len(msg.Parts))
		for _, p := range msg.Parts {
			if p.Type == models.PartToolCall && dangling[p.ToolCallID] {
				continue
			}
			kept = append(kept, p)
		}
		if len(kept) == 0 {
			continue
		}
		msg.Parts = kept
		out = append(out, msg)
	}
	return out
}

// removeEmptyAssistantMessages drops ASSISTANT messages with no meaningful
// parts (spec.md §4.5, operation 2).
func removeEmptyAssistantMessages(history []models.Message) []models.Message {
	out := make([]models.Message, 0, len(history))
	for _, msg := range history {
		if msg.Role == models.RoleAssistant && !msg.IsMeaningful() {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// collapseConsecutiveUserSystemRuns keeps only the last message of any run
// of two or more adjacent user/system messages (spec.md §4.5, operation 3;
// spec.md §3's "whitespace in history" invariant).
func collapseConsecutiveUserSystemRuns(history []models.Message) []models.Message {
	out := make([]models.Message, 0, len(history))
	for _, msg := range history {
		if isUserOrSystem(msg) && len(out) > 0 && isUserOrSystem(out[len(out)-1]) {
			out[len(out)-1] = msg
			continue
		}
		out = append(out, msg)
	}
	return out
}

// stripSystemMessages removes SYSTEM messages from history; the system
// prompt is injected separately at call time (spec.md §4.5, operation 4;
// §3's invariant that SYSTEM is never sent inside history).
func stripSystemMessages(history []models.Message) []models.Message {
	out := make([]models.Message, 0, len(history))
	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func isUserOrSystem(msg models.Message) bool {
	return msg.Role == models.RoleUser || msg.Role == models.RoleSystem
}

func sameLength(a, b []models.Message) bool { return len(a) == len(b) }

func identical(a, b []models.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i].Parts) != len(b[i].Parts) {
			return false
		}
	}
	return true
}
