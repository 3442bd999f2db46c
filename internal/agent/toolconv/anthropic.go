// Package toolconv converts the core's provider-agnostic tool definitions
// (models.ToolDef, spec.md §6.2) into a concrete provider's wire schema.
// Grounded on the teacher's internal/agent/toolconv/anthropic.go, trimmed
// to the single Anthropic adapter this spec's §6.1 contract demonstrates
// and retargeted from the teacher's own agent.Tool interface onto
// models.ToolDef.
package toolconv

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/tunacode/agentcore/pkg/models"
)

// ToAnthropicTools converts a turn's tool definitions into Anthropic tool
// parameters. An empty input yields a nil slice so callers can leave
// params.Tools unset.
func ToAnthropicTools(tools []models.ToolDef) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		param, err := ToAnthropicTool(tool)
		if err != nil {
			return nil, err
		}
		result = append(result, param)
	}
	return result, nil
}

// ToAnthropicTool converts a single tool definition. An empty
// ParametersSchema yields a tool with an empty object schema rather than an
// error, since spec.md §6.2 permits tools with no parameters.
func ToAnthropicTool(tool models.ToolDef) (anthropic.ToolUnionParam, error) {
	var schema anthropic.ToolInputSchemaParam
	if len(tool.ParametersSchema) > 0 {
		if err := json.Unmarshal(tool.ParametersSchema, &schema); err != nil {
			return anthropic.ToolUnionParam{}, fmt.Errorf("toolconv: invalid schema for %s: %w", tool.Name, err)
		}
	}

	toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
	if toolParam.OfTool == nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("toolconv: missing tool definition for %s", tool.Name)
	}
	toolParam.OfTool.Description = anthropic.String(tool.Description)
	return toolParam, nil
}
