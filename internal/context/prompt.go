package context

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

// PromptData is the data passed to prompt templates.
type PromptData struct {
	Time       string
	ScreenName string
	Bio        string
	MaxLength  int
	Author     string
	Text       string
	Title      string
	URL        string
	Article    string
}

// NewPromptData fills the time field for a prompt.
func NewPromptData(screenName, bio string, maxLength int) PromptData {
	return PromptData{
		Time:       time.Now().UTC().Format(time.RFC3339),
		ScreenName: screenName,
		Bio:        bio,
		MaxLength:  maxLength,
	}
}

// DefaultSystemPrompt describes the account's voice.
const DefaultSystemPrompt = `You write posts for the account @{{.ScreenName}}.
{{- if .Bio}}
About the account: {{.Bio}}
{{- end}}
Current time: {{.Time}}.
Write plain text only. No hashtags unless asked. Stay under {{.MaxLength}} characters.`

// DefaultPostPrompt asks for a new standalone post.
const DefaultPostPrompt = `Write one new post for @{{.ScreenName}}. It should stand on its own and may react to the recent posts below. Reply with the post text only.`

// DefaultReplyPrompt asks for a reply to a mention.
const DefaultReplyPrompt = `@{{.Author}} wrote to @{{.ScreenName}}:
"{{.Text}}"

Write a short reply. If the message needs no answer, reply with exactly SKIP.`

// DefaultArticlePrompt asks for a post announcing an article.
const DefaultArticlePrompt = `Write a post announcing this article. Do not include the link; it is appended for you.

Title: {{.Title}}

{{.Article}}`

// Render executes a prompt template against data.
func Render(name, text string, data PromptData) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}
