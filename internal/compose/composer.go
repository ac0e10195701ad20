// Package compose turns feed context into post, reply and article text with
// a chat model.
package compose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	ctxengine "github.com/user/feedlane/internal/context"
	"github.com/user/feedlane/internal/types"
	"github.com/user/feedlane/pkg/llm"
)

// ErrFiltered is returned when the backend withholds a completion.
var ErrFiltered = errors.New("completion withheld by content filter")

// skipReply is the model's signal that a mention needs no answer.
const skipReply = "SKIP"

// Prompts holds the templates used by the Composer. Empty fields fall back
// to the defaults in internal/context.
type Prompts struct {
	System  string
	Post    string
	Reply   string
	Article string
}

func (p Prompts) withDefaults() Prompts {
	if p.System == "" {
		p.System = ctxengine.DefaultSystemPrompt
	}
	if p.Post == "" {
		p.Post = ctxengine.DefaultPostPrompt
	}
	if p.Reply == "" {
		p.Reply = ctxengine.DefaultReplyPrompt
	}
	if p.Article == "" {
		p.Article = ctxengine.DefaultArticlePrompt
	}
	return p
}

// Composer writes outbound text for one account.
type Composer struct {
	provider  llm.Provider
	engine    *ctxengine.Engine
	account   types.Account
	maxLength int
	prompts   Prompts
}

// New creates a Composer.
func New(provider llm.Provider, engine *ctxengine.Engine, account types.Account, maxLength int, prompts Prompts) *Composer {
	return &Composer{
		provider:  provider,
		engine:    engine,
		account:   account,
		maxLength: maxLength,
		prompts:   prompts.withDefaults(),
	}
}

func (c *Composer) data() ctxengine.PromptData {
	return ctxengine.NewPromptData(c.account.ScreenName, c.account.Bio, c.maxLength)
}

// ComposePost writes a new post, using the timeline as context.
func (c *Composer) ComposePost(ctx context.Context, timeline []types.Item) (string, error) {
	return c.complete(ctx, "post", c.prompts.Post, c.data(), timeline)
}

// ComposeReply writes a reply to item, or returns "" when the model declines.
func (c *Composer) ComposeReply(ctx context.Context, item types.Item) (string, error) {
	data := c.data()
	data.Author = item.Username
	if data.Author == "" {
		data.Author = item.AuthorID
	}
	data.Text = item.Text

	text, err := c.complete(ctx, "reply", c.prompts.Reply, data, nil)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(strings.Trim(text, " .\"'"), skipReply) {
		slog.Debug("composer skipped reply", "item_id", item.ID)
		return "", nil
	}
	return text, nil
}

// ComposeArticle writes a post announcing article.
func (c *Composer) ComposeArticle(ctx context.Context, article *types.Article) (string, error) {
	data := c.data()
	data.Title = article.Title
	data.URL = article.URL
	data.Article = article.Markdown
	return c.complete(ctx, "article", c.prompts.Article, data, nil)
}

func (c *Composer) complete(ctx context.Context, name, taskTemplate string, data ctxengine.PromptData, items []types.Item) (string, error) {
	system, err := ctxengine.Render("system", c.prompts.System, data)
	if err != nil {
		return "", err
	}
	task, err := ctxengine.Render(name, taskTemplate, data)
	if err != nil {
		return "", err
	}

	resp, err := c.provider.Complete(ctx, c.engine.BuildPrompt(system, task, items))
	if err != nil {
		return "", fmt.Errorf("complete %s: %w", name, err)
	}
	if resp.Filtered() {
		return "", fmt.Errorf("complete %s: %w", name, ErrFiltered)
	}
	if resp.Truncated() {
		slog.Warn("completion hit token limit", "kind", name, "output_tokens", resp.Usage.OutputTokens)
	}
	slog.Debug("composed", "kind", name, "input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
	return cleanText(resp.Content), nil
}

// cleanText strips whitespace and a pair of wrapping quotes models tend to add.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
