package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMessageJSONRoundTrip exercises spec.md §8's round-trip law: canonical
// message -> persisted JSON -> canonical message is the identity, across
// every part variant the persistence layout of spec.md §6.3 names.
func TestMessageJSONRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{"user text", NewUserMessage("what's in foo.txt?")},
		{
			"assistant text+thought+tool_call",
			Message{Role: RoleAssistant, Parts: []Part{
				Thought("I should read the file first"),
				Text("Let me check."),
				ToolCall("tc_1", "read_file", json.RawMessage(`{"path":"foo.txt"}`)),
			}},
		},
		{"tool return", NewToolReturnMessage("tc_1", "package models\n...")},
		{"system prompt", NewSystemPromptMessage("You are a helpful assistant.")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := json.Marshal(tc.msg)
			require.NoError(t, err)

			var decoded Message
			require.NoError(t, json.Unmarshal(raw, &decoded))

			require.Equal(t, tc.msg.Role, decoded.Role)
			require.Equal(t, len(tc.msg.Parts), len(decoded.Parts))
			for i := range tc.msg.Parts {
				want, got := tc.msg.Parts[i], decoded.Parts[i]
				require.Equal(t, want.Type, got.Type)
				require.Equal(t, want.Content, got.Content)
				require.Equal(t, want.ToolCallID, got.ToolCallID)
				require.Equal(t, want.ToolName, got.ToolName)
				if len(want.Args) > 0 || len(got.Args) > 0 {
					require.JSONEq(t, string(want.Args), string(got.Args))
				}
			}

			// Re-marshaling the decoded value must reproduce the same wire
			// bytes, the second half of the round-trip law.
			raw2, err := json.Marshal(decoded)
			require.NoError(t, err)
			require.JSONEq(t, string(raw), string(raw2))
		})
	}
}

// TestMessageJSONLiteralWireShape pins the exact persisted shapes spec.md
// §6.3 documents, not merely self-consistency: a "tool_result" role string
// (never the internal "tool"), a top-level tool_call_id, and a top-level
// usage object on assistant messages.
func TestMessageJSONLiteralWireShape(t *testing.T) {
	t.Run("user", func(t *testing.T) {
		raw, err := json.Marshal(NewUserMessage("what's in foo.txt?"))
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(raw, &decoded))
		require.Equal(t, "user", decoded["role"])
		require.Equal(t, []any{map[string]any{"type": "text", "text": "what's in foo.txt?"}}, decoded["content"])
		require.NotContains(t, decoded, "tool_call_id")
		require.NotContains(t, decoded, "usage")
	})

	t.Run("assistant with usage", func(t *testing.T) {
		msg := Message{
			Role: RoleAssistant,
			Parts: []Part{
				Thought("I should read the file first"),
				Text("Let me check."),
				ToolCall("tc_1", "read_file", json.RawMessage(`{"path":"foo.txt"}`)),
			},
			Usage: &Usage{PromptTokens: 10, CompletionTokens: 5},
		}
		raw, err := json.Marshal(msg)
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(raw, &decoded))
		require.Equal(t, "assistant", decoded["role"])
		content, ok := decoded["content"].([]any)
		require.True(t, ok)
		require.Equal(t, map[string]any{"type": "thinking", "thinking": "I should read the file first"}, content[0])
		require.Equal(t, map[string]any{"type": "text", "text": "Let me check."}, content[1])
		require.Equal(t, "tc_1", content[2].(map[string]any)["id"])
		require.Equal(t, "tool_call", content[2].(map[string]any)["type"])
		usage, ok := decoded["usage"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, float64(10), usage["prompt_tokens"])
	})

	t.Run("tool result", func(t *testing.T) {
		raw, err := json.Marshal(NewToolReturnMessage("tc_1", "package models\n..."))
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(raw, &decoded))
		require.Equal(t, "tool_result", decoded["role"])
		require.Equal(t, "tc_1", decoded["tool_call_id"])
		require.Equal(t, []any{map[string]any{"type": "text", "text": "package models\n..."}}, decoded["content"])
	})
}

// TestPart_ToolReturnVsText_SharedWireShape pins down the ambiguity spec.md
// §6.3 calls out: TOOL_RETURN and TEXT both serialize under "type":"text" at
// the part level, disambiguated only by the owning Message's role (a bare
// Part round-trip alone cannot recover TOOL_RETURN vs TEXT).
func TestPart_ToolReturnVsText_SharedWireShape(t *testing.T) {
	textPart := Text("hello")
	returnPart := ToolReturn("tc_1", "hello")

	textRaw, err := json.Marshal(textPart)
	require.NoError(t, err)
	returnRaw, err := json.Marshal(returnPart)
	require.NoError(t, err)
	require.JSONEq(t, string(textRaw), string(returnRaw))

	var fromText, fromReturn Part
	require.NoError(t, json.Unmarshal(textRaw, &fromText))
	require.NoError(t, json.Unmarshal(returnRaw, &fromReturn))

	require.Equal(t, PartText, fromText.Type)
	require.Equal(t, PartText, fromReturn.Type)

	msg := NewToolReturnMessage("tc_1", "hello")
	msgRaw, err := json.Marshal(msg)
	require.NoError(t, err)
	var decodedMsg Message
	require.NoError(t, json.Unmarshal(msgRaw, &decodedMsg))
	require.Equal(t, PartToolReturn, decodedMsg.Parts[0].Type)
	require.Equal(t, "tc_1", decodedMsg.Parts[0].ToolCallID)
}

func TestMessage_HasToolCalls(t *testing.T) {
	plain := Message{Role: RoleAssistant, Parts: []Part{Text("hi")}}
	require.False(t, plain.HasToolCalls())

	withCall := Message{Role: RoleAssistant, Parts: []Part{
		Text("checking"),
		ToolCall("tc_1", "grep", json.RawMessage(`{}`)),
	}}
	require.True(t, withCall.HasToolCalls())
	require.Len(t, withCall.ToolCalls(), 1)
}

func TestMessage_IsMeaningful(t *testing.T) {
	require.False(t, (Message{Role: RoleAssistant}).IsMeaningful())
	require.False(t, (Message{Role: RoleAssistant, Parts: []Part{Text("")}}).IsMeaningful())
	require.True(t, (Message{Role: RoleAssistant, Parts: []Part{Text("ok")}}).IsMeaningful())
	require.True(t, (Message{Role: RoleAssistant, Parts: []Part{
		ToolCall("tc_1", "grep", nil),
	}}).IsMeaningful())
}

func TestMessage_TextContent_ConcatenatesOnlyTextParts(t *testing.T) {
	msg := Message{Role: RoleAssistant, Parts: []Part{
		Thought("hidden reasoning"),
		Text("Hello, "),
		Text("world."),
		ToolCall("tc_1", "grep", nil),
	}}
	require.Equal(t, "Hello, world.", msg.TextContent())
}

func TestMessage_IsCompactionSummary(t *testing.T) {
	synthetic := Message{Role: RoleUser, Parts: []Part{
		Text(CompactionSummaryHeader + "\n\nEarlier the user asked about foo.txt."),
	}}
	require.True(t, synthetic.IsCompactionSummary())

	ordinary := NewUserMessage("what's in foo.txt?")
	require.False(t, ordinary.IsCompactionSummary())
}

func TestUsage_AddAndTotal(t *testing.T) {
	a := Usage{PromptTokens: 100, CompletionTokens: 20, CachedTokens: 10, Cost: 0.01}
	b := Usage{PromptTokens: 50, CompletionTokens: 5, CachedTokens: 0, Cost: 0.002}

	sum := a.Add(b)
	require.Equal(t, int64(150), sum.PromptTokens)
	require.Equal(t, int64(25), sum.CompletionTokens)
	require.Equal(t, int64(10), sum.CachedTokens)
	require.InDelta(t, 0.012, sum.Cost, 1e-9)
	require.Equal(t, int64(175), sum.Total())
}
