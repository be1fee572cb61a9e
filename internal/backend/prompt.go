package backend

import "encoding/json"

// AskUserQuestionTool is the tool name agents use to ask the user a
// structured question.
const AskUserQuestionTool = "AskUserQuestion"

// UserPrompt is a structured question an agent is waiting on.
type UserPrompt struct {
	ToolUseID string           `json:"tool_use_id"`
	Questions []PromptQuestion `json:"questions"`
}

// PromptQuestion is one question within a UserPrompt.
type PromptQuestion struct {
	Question    string         `json:"question"`
	Header      string         `json:"header,omitempty"`
	Options     []PromptOption `json:"options,omitempty"`
	MultiSelect bool           `json:"multiSelect,omitempty"`
}

// PromptOption is a suggested answer.
type PromptOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// PromptFromBlocks returns the last AskUserQuestion prompt in blocks, or nil.
func PromptFromBlocks(blocks []ContentBlock) *UserPrompt {
	var prompt *UserPrompt
	for _, b := range blocks {
		if b.Type != "tool_use" || b.Name != AskUserQuestionTool {
			continue
		}
		var input struct {
			Questions []PromptQuestion `json:"questions"`
		}
		if err := json.Unmarshal(b.Input, &input); err != nil || len(input.Questions) == 0 {
			continue
		}
		prompt = &UserPrompt{ToolUseID: b.ID, Questions: input.Questions}
	}
	return prompt
}

// PendingPrompt returns the most recent prompt that no later tool_result
// has answered, or nil.
func PendingPrompt(records []Record) *UserPrompt {
	var pending *UserPrompt
	for _, rec := range records {
		if p := PromptFromBlocks(rec.Blocks); p != nil {
			pending = p
			continue
		}
		if pending == nil {
			continue
		}
		for _, b := range rec.Blocks {
			if b.Type == "tool_result" && b.ToolUseID == pending.ToolUseID {
				pending = nil
				break
			}
		}
	}
	return pending
}
