package turn

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/huddle/internal/callsession"
	"github.com/MrWong99/huddle/pkg/provider/llm"
)

// Skip is the reply that means "say nothing". It is not a failure.
const Skip = "SKIP"

const (
	defaultBotName     = "Huddle"
	defaultHistorySize = 10
	defaultMaxTokens   = 120
	defaultTemperature = 0.9
)

const systemPromptTemplate = `You are %s, a witty, friendly and slightly sassy member of this group. You are NOT a helpful AI assistant. You are a friend hanging out in the voice call.

Style:
- Keep it short: one or two spoken sentences.
- Talk the way people talk out loud. No markdown, lists, links or emoji.
- Be funny but not cringe. If someone insults you, roast them back gently.
- Don't answer every line. Speak if you are mentioned, asked a question or have something genuinely good to add.

If you have nothing worth saying, reply with exactly %s and nothing else.`

// ChatMessage is one message of the chat's text history.
type ChatMessage struct {
	Author  string
	Content string
	Time    time.Time
}

// Persona describes who the bot is in the call.
type Persona struct {
	// Name is how the bot is addressed. Default "Huddle".
	Name string

	// Aliases are other names people use for the bot.
	Aliases []string

	// Instructions replace the built-in persona prompt when non-empty. They
	// should tell the model to answer SKIP when it has nothing to say.
	Instructions string
}

// Prompter turns the call transcript and the text history into a completion
// request.
type Prompter struct {
	persona Persona
	matcher *NameMatcher
}

// NewPrompter returns a Prompter for p.
func NewPrompter(p Persona) *Prompter {
	if strings.TrimSpace(p.Name) == "" {
		p.Name = defaultBotName
	}
	return &Prompter{
		persona: p,
		matcher: NewNameMatcher(append([]string{p.Name}, p.Aliases...)...),
	}
}

// Name returns the bot's name.
func (p *Prompter) Name() string { return p.persona.Name }

// Mentioned reports whether text addresses the bot by name.
func (p *Prompter) Mentioned(text string) bool { return p.matcher.Mentioned(text) }

// Build assembles the request. entries are the call transcript in order,
// oldest first; history is the recent text chat, oldest first.
func (p *Prompter) Build(entries []callsession.TranscriptEntry, history []ChatMessage) llm.CompletionRequest {
	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString("Recent text chat:\n")
		for _, m := range history {
			fmt.Fprintf(&sb, "%s: %s\n", nameOr(m.Author, "someone"), oneLine(m.Content))
		}
		sb.WriteByte('\n')
	}

	sb.WriteString("Voice call, most recent last:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "[%s] %s: %s\n", e.Timestamp.UTC().Format("15:04:05"), nameOr(e.Speaker, "someone"), oneLine(e.Text))
	}

	if n := len(entries); n > 0 && p.Mentioned(entries[n-1].Text) {
		fmt.Fprintf(&sb, "\n%s, that last line was said to you.\n", p.persona.Name)
	}
	sb.WriteString("\nYour reply:")

	return llm.CompletionRequest{
		SystemPrompt: p.systemPrompt(),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: sb.String()}},
		Temperature:  defaultTemperature,
		MaxTokens:    defaultMaxTokens,
	}
}

func (p *Prompter) systemPrompt() string {
	if s := strings.TrimSpace(p.persona.Instructions); s != "" {
		return s
	}
	return fmt.Sprintf(systemPromptTemplate, p.persona.Name, Skip)
}

// IsSkip reports whether a model reply is the Skip sentinel. Quotes, markup
// and trailing punctuation around it are tolerated. A blank reply also
// counts as silence.
func IsSkip(reply string) bool {
	s := strings.Trim(strings.TrimSpace(reply), "\"'`*_.!")
	return s == "" || strings.EqualFold(s, Skip)
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
