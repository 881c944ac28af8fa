package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/KodaTao/AgentResume/pkg/function"
)

func TestGenerateSystemPrompt(t *testing.T) {
	now := time.Date(2024, 1, 15, 14, 45, 30, 0, time.UTC)
	functions := []function.FunctionInfo{
		{
			Name:        "reschedule_self",
			Description: "Schedule a continuation",
			Parameters: []function.ParamInfo{
				{Name: "when", Type: "string", Required: true, Description: "When to continue"},
			},
		},
	}

	got, err := GenerateSystemPrompt(now, functions)
	if err != nil {
		t.Fatalf("GenerateSystemPrompt() error = %v", err)
	}

	for _, want := range []string{
		"The current time is: 2024-01-15 14:45:30 UTC",
		"Seconds until next full minute: 30",
		"### reschedule_self",
		"- when (string, required): When to continue",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("system prompt missing %q\n%s", want, got)
		}
	}
}

func TestGenerateSystemPrompt_NoFunctions(t *testing.T) {
	got, err := GenerateSystemPrompt(time.Now(), nil)
	if err != nil {
		t.Fatalf("GenerateSystemPrompt() error = %v", err)
	}
	if strings.Contains(got, "Available Functions") {
		t.Error("system prompt should not list functions when none are registered")
	}
}

func TestSecondsToNextMinute(t *testing.T) {
	tests := []struct {
		second int
		want   int
	}{
		{0, 60},
		{30, 30},
		{59, 1},
	}
	for _, tt := range tests {
		now := time.Date(2024, 1, 1, 10, 0, tt.second, 0, time.UTC)
		if got := SecondsToNextMinute(now); got != tt.want {
			t.Errorf("SecondsToNextMinute(:%02d) = %d, want %d", tt.second, got, tt.want)
		}
	}
}

func TestGenerateWithCustomTemplate(t *testing.T) {
	got, err := DefaultGenerator.GenerateWithCustomTemplate("hello {{.}}", "world")
	if err != nil {
		t.Fatalf("GenerateWithCustomTemplate() error = %v", err)
	}
	if got != "hello world" {
		t.Errorf("got %q, want 'hello world'", got)
	}

	if _, err := DefaultGenerator.GenerateWithCustomTemplate("{{.Broken", nil); err == nil {
		t.Error("expected parse error")
	}
}
