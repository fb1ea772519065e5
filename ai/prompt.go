package ai

import (
	"fmt"
	"strings"
)

// Prompt roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-tagged prompt entry
type Turn struct {
	Role    string
	Content string
}

// Persona describes the bot a prompt speaks as
type Persona struct {
	Name         string
	Description  string
	EmpathyLevel string
	Tone         string
}

const referenceSeparator = "\n\n---\n\n"

// SystemPrompt renders the persona instructions, followed by the reference passages when present
func SystemPrompt(p Persona, references []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an AI chatbot named '%s'. Description: %s. Empathy level: %s. Tone: %s.",
		p.Name, p.Description, p.EmpathyLevel, p.Tone)

	refs := make([]string, 0, len(references))
	for _, r := range references {
		if strings.TrimSpace(r) != "" {
			refs = append(refs, r)
		}
	}
	if len(refs) > 0 {
		b.WriteString("\n\nThe following reference material is reliable. Base your answer on it:\n\n")
		b.WriteString(strings.Join(refs, referenceSeparator))
	}
	return b.String()
}

// BuildPrompt flattens the system persona, history and the new user turn into a single prompt
func BuildPrompt(system string, history []Turn, userMessage string) string {
	turns := make([]string, 0, len(history)+2)
	turns = append(turns, RoleSystem+": "+system)
	for _, t := range history {
		turns = append(turns, t.Role+": "+t.Content)
	}
	turns = append(turns, RoleUser+": "+userMessage)
	return strings.Join(turns, "\n\n")
}
