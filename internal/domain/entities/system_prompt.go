package entities

import (
	"strings"
	"time"
)

// DefaultSystemPromptID is the prompt new conversations use when none is given.
const DefaultSystemPromptID = "default"

// SystemPrompt represents a reusable system prompt template
type SystemPrompt struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSystemPrompt creates a new system prompt
func NewSystemPrompt(name, content string) *SystemPrompt {
	now := time.Now()
	return &SystemPrompt{
		ID:        NewID(),
		Name:      name,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Update modifies the system prompt content and name
func (sp *SystemPrompt) Update(name, content string) {
	sp.Name = name
	sp.Content = content
	sp.UpdatedAt = time.Now()
}

// IsEmpty returns true if the prompt content is empty
func (sp *SystemPrompt) IsEmpty() bool {
	return len(sp.Content) == 0
}

// DefaultSystemPrompts returns the built-in prompt library.
func DefaultSystemPrompts() []*SystemPrompt {
	library := []struct{ name, content string }{
		{"Default", ""},
		{"Code Expert", "You are an expert programmer. Provide clean, well-commented code with explanations."},
		{"Creative Writer", "You are a creative writer. Use vivid imagery and engaging storytelling."},
		{"Teacher", "You are a patient teacher. Explain concepts clearly with examples."},
		{"Analyst", "You are a data analyst. Provide structured, evidence-based insights."},
		{"Debugger", "You are a debugging assistant. Help identify and fix code issues systematically."},
		{"Translator", "You are a professional translator. Provide accurate, context-aware translations."},
		{"Technical Writer", "You are a technical writer. Create clear, structured documentation."},
		{"Code Reviewer", "You are a code reviewer. Analyze code for best practices, security, and performance."},
		{"Tutor", "You are a personal tutor. Adapt your teaching style to the student's needs."},
		{"Research Assistant", "You are a research assistant. Help gather, analyze, and synthesize information."},
	}

	now := time.Now()
	prompts := make([]*SystemPrompt, 0, len(library))
	for _, p := range library {
		prompts = append(prompts, &SystemPrompt{
			ID:        promptSlug(p.name),
			Name:      p.name,
			Content:   p.content,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return prompts
}

func promptSlug(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "-")
}
