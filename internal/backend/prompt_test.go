package backend

import "testing"

const askLine = `{"type":"assistant","message":{"role":"assistant","content":[
	{"type":"text","text":"Need a decision"},
	{"type":"tool_use","id":"toolu_1","name":"AskUserQuestion","input":{"questions":[
		{"question":"Which database?","header":"DB","options":[{"label":"Postgres"},{"label":"SQLite","description":"embedded"}],"multiSelect":false}
	]}}
]}}`

const answerLine = `{"type":"user","message":{"role":"user","content":[
	{"type":"tool_result","tool_use_id":"toolu_1","content":"Postgres"}
]}}`

func mustRecord(t *testing.T, line string) Record {
	t.Helper()
	rec, ok := DecodeRecord([]byte(line), 1)
	if !ok {
		t.Fatalf("DecodeRecord(%s) failed", line)
	}
	return rec
}

func TestPromptFromBlocks(t *testing.T) {
	rec := mustRecord(t, askLine)
	p := PromptFromBlocks(rec.Blocks)
	if p == nil {
		t.Fatal("PromptFromBlocks() = nil, want prompt")
	}
	if p.ToolUseID != "toolu_1" {
		t.Errorf("ToolUseID = %q, want toolu_1", p.ToolUseID)
	}
	if len(p.Questions) != 1 || p.Questions[0].Question != "Which database?" {
		t.Fatalf("Questions = %+v", p.Questions)
	}
	if len(p.Questions[0].Options) != 2 || p.Questions[0].Options[1].Description != "embedded" {
		t.Errorf("Options = %+v", p.Questions[0].Options)
	}
}

func TestPromptFromBlocks_IgnoresOtherTools(t *testing.T) {
	blocks := []ContentBlock{{Type: "tool_use", Name: "Bash", Input: []byte(`{"command":"ls"}`)}}
	if p := PromptFromBlocks(blocks); p != nil {
		t.Errorf("PromptFromBlocks() = %+v, want nil", p)
	}
}

func TestPendingPrompt(t *testing.T) {
	ask := mustRecord(t, askLine)
	answer := mustRecord(t, answerLine)

	if p := PendingPrompt([]Record{ask}); p == nil {
		t.Error("PendingPrompt() = nil for unanswered prompt")
	}
	if p := PendingPrompt([]Record{ask, answer}); p != nil {
		t.Errorf("PendingPrompt() = %+v for answered prompt, want nil", p)
	}
	if p := PendingPrompt(nil); p != nil {
		t.Errorf("PendingPrompt(nil) = %+v, want nil", p)
	}
}
