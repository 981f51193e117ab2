package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/hunterwarburton/sage/internal/core"
)

// DefaultInstructions steer the model toward the knowledge base before
// free-form answering.
var DefaultInstructions = []string{
	"Search your knowledge before answering the question.",
	"Only include the output in your response. No other text.",
}

// PromptGenerator renders the system prompt and full message sequence for
// one model invocation from an assembled context bundle.
type PromptGenerator struct {
	agentName    string
	instructions []string
	addDatetime  bool
	markdown     bool
}

// PromptOption configures a PromptGenerator.
type PromptOption func(*PromptGenerator)

// WithAgentName sets the agent's self-identification.
func WithAgentName(name string) PromptOption {
	return func(pg *PromptGenerator) {
		if name != "" {
			pg.agentName = name
		}
	}
}

// WithInstructions replaces the default instruction list.
func WithInstructions(instructions []string) PromptOption {
	return func(pg *PromptGenerator) {
		if len(instructions) > 0 {
			pg.instructions = instructions
		}
	}
}

// WithDatetime includes the current time in the system prompt.
func WithDatetime(on bool) PromptOption {
	return func(pg *PromptGenerator) {
		pg.addDatetime = on
	}
}

// WithMarkdown asks the model for markdown-formatted output.
func WithMarkdown(on bool) PromptOption {
	return func(pg *PromptGenerator) {
		pg.markdown = on
	}
}

// NewPromptGenerator creates a prompt generator.
func NewPromptGenerator(opts ...PromptOption) *PromptGenerator {
	pg := &PromptGenerator{
		agentName:    "Assistant",
		instructions: DefaultInstructions,
		addDatetime:  true,
		markdown:     true,
	}
	for _, opt := range opts {
		opt(pg)
	}
	return pg
}

// BuildMessages produces the message sequence for the model: one system
// message carrying instructions and retrieved knowledge, the recent
// history as alternating turns, then the user query.
func (pg *PromptGenerator) BuildMessages(bundle core.ContextBundle, query string) []core.Message {
	messages := make([]core.Message, 0, len(bundle.History)+2)
	messages = append(messages, core.Message{
		Role:    core.RoleSystem,
		Content: pg.systemPrompt(bundle),
	})

	for _, turn := range bundle.History {
		messages = append(messages, core.Message{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}

	messages = append(messages, core.Message{
		Role:    core.RoleUser,
		Content: query,
	})
	return messages
}

// systemPrompt renders the system message.
func (pg *PromptGenerator) systemPrompt(bundle core.ContextBundle) string {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("You are %s.\n\n", pg.agentName))

	if len(pg.instructions) > 0 {
		builder.WriteString("Instructions:\n")
		for _, inst := range pg.instructions {
			builder.WriteString("- " + inst + "\n")
		}
		builder.WriteString("\n")
	}

	if pg.markdown {
		builder.WriteString("Format your response as markdown.\n\n")
	}

	if pg.addDatetime {
		builder.WriteString("The current time is " + time.Now().Format(time.RFC1123) + ".\n\n")
	}

	if len(bundle.Chunks) > 0 {
		builder.WriteString("Relevant knowledge from your knowledge base:\n\n")
		for i, res := range bundle.Chunks {
			builder.WriteString(fmt.Sprintf("[%d] (relevance %.2f", i+1, res.Score))
			if res.Chunk.SourceURL != "" {
				builder.WriteString(", source: " + res.Chunk.SourceURL)
			}
			builder.WriteString(")\n")
			builder.WriteString(res.Chunk.Text)
			builder.WriteString("\n\n")
		}
	}

	return strings.TrimSpace(builder.String())
}
