package ai

import (
	"context"
	"log"
	"strings"

	"whatsapp-inbox-backend/internal/env"
	"whatsapp-inbox-backend/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are a customer support assistant answering WhatsApp
messages on behalf of a business. Reply in the customer's language, keep the
answer short and plain text. If you cannot help with the request, reply with
exactly HANDOFF and nothing else.`

// Handoff is returned when the model declines to answer and the conversation
// should go back to a human operator.
const Handoff = "HANDOFF"

// Completer is the completion side of the client, split out so tests can
// stub the API.
type Completer interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Responder drafts automated replies for conversations in the AI-handled
// state from the recent message history.
type Responder struct {
	client Completer
	model  string
}

func NewResponder() *Responder {
	apiKey := env.MustGet(env.OpenAIAPIKey)
	model := env.GetOrDefault(env.OpenAIModel, openai.GPT4oMini)

	return &Responder{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func NewResponderWithClient(client Completer, modelName string) *Responder {
	return &Responder{client: client, model: modelName}
}

// Reply produces a draft answer to the latest contact message given the
// chronological history. An empty reply or a handoff means the caller should
// route the conversation back to a human.
func (r *Responder) Reply(ctx context.Context, history []model.MessageItem) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})

	for _, m := range history {
		if m.Body == "" {
			continue
		}
		role := openai.ChatMessageRoleAssistant
		if m.Direction == model.DirectionContact {
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Body,
		})
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    r.model,
		Messages: msgs,
	})
	if err != nil {
		log.Println("[ai] completion error:", err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		log.Println("[ai] empty choices")
		return "", nil
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == Handoff {
		return "", nil
	}
	return reply, nil
}
