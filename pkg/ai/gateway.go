package ai

import (
	"context"
	"fmt"

	"github.com/Cybvr/Juju2026/pkg/domain"
)

const jujuSystemPrompt = `You are Juju, an AI creative partner.
Your goal is to help users generate stunning images.

When a user asks to create, generate, or "nano" something, you should respond with your creative thoughts AND a special command at the end of your message.
The command format is: [GENERATE: your optimized image prompt]

Example: "That sounds like a great idea! I'll create a vibrant banana for you. [GENERATE: a hyper-realistic nano banana with golden glitter, studio lighting, 8k]"

Always be conversational and inspiring.`

// ChatGenerator produces a reply for an ordered conversation history.
type ChatGenerator interface {
	GenerateChat(ctx context.Context, model, systemPrompt string, turns []ChatTurn) (string, error)
}

// Gateway wraps the chat model behind the directive-extraction protocol.
// It is stateless: callers pass the full reconstructed history every turn.
type Gateway struct {
	generator ChatGenerator
	model     string
}

// NewGateway builds a gateway bound to one chat model.
func NewGateway(generator ChatGenerator, model string) *Gateway {
	return &Gateway{generator: generator, model: model}
}

// SendChat sends the conversation and returns the reply with any generation
// marker stripped out. Transport and model errors propagate unwrapped beyond
// a single annotation; the caller decides what to do with them and never
// retries here.
func (g *Gateway) SendChat(ctx context.Context, turns []ChatTurn) (domain.Reply, error) {
	raw, err := g.generator.GenerateChat(ctx, g.model, jujuSystemPrompt, turns)
	if err != nil {
		return domain.Reply{}, fmt.Errorf("chat model: %w", err)
	}
	text, prompt := ExtractDirective(raw)
	return domain.Reply{Text: text, Directive: prompt}, nil
}

// HistoryToTurns maps persisted messages to the model's role vocabulary:
// user stays user, assistant becomes model.
func HistoryToTurns(messages []domain.Message) []ChatTurn {
	turns := make([]ChatTurn, 0, len(messages))
	for _, msg := range messages {
		role := "user"
		if msg.Role == domain.RoleAssistant {
			role = "model"
		}
		turns = append(turns, ChatTurn{Role: role, Text: msg.Content})
	}
	return turns
}
