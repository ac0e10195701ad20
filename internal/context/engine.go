// internal/context/engine.go
package context

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/feedlane/internal/types"
	"github.com/user/feedlane/pkg/llm"
)

// Engine assembles token-budgeted prompts from recent feed items.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
}

// New creates a context engine with the specified token budget.
// model is used to select the appropriate tokenizer (e.g. "gpt-4").
// maxTokens is the model's context window size.
// reserve is the number of tokens to reserve for the model's response.
func New(model string, maxTokens, reserve int) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Engine{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
	}, nil
}

// CountTokens returns the token count for a string.
func (e *Engine) CountTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

// Window returns the leading items whose rendered lines fit in budget tokens.
func (e *Engine) Window(items []types.Item, budget int) []string {
	var lines []string
	used := 0
	for _, item := range items {
		line := formatItem(item)
		n := e.CountTokens(line)
		if used+n > budget {
			break
		}
		lines = append(lines, line)
		used += n
	}
	return lines
}

// BuildPrompt assembles a system message and a user message holding the
// task followed by as many context items as the budget allows.
func (e *Engine) BuildPrompt(system, task string, items []types.Item) []llm.Message {
	remaining := e.maxTokens - e.reserve - e.CountTokens(system) - e.CountTokens(task)

	// Keep a 10% safety margin for message framing.
	budget := int(float64(remaining) * 0.9)

	var sb strings.Builder
	sb.WriteString(task)
	if lines := e.Window(items, budget); len(lines) > 0 {
		sb.WriteString("\n\n# Recent posts\n")
		for _, line := range lines {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	return []llm.Message{
		llm.System(system),
		llm.User(sb.String()),
	}
}

func formatItem(item types.Item) string {
	author := item.Username
	if author == "" {
		author = item.AuthorID
	}
	ts := ""
	if item.CreatedAtEpochMillis > 0 {
		ts = " (" + item.CreatedAt().UTC().Format(time.RFC3339) + ")"
	}
	text := strings.Join(strings.Fields(item.Text), " ")
	return fmt.Sprintf("- @%s%s: %s", author, ts, text)
}
