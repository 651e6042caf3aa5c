package responder

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/recoverly/recoverly/internal/platform/apperr"
)

const recoveryAssistantPrompt = `You are a post-surgical recovery assistant.
The patient is on recovery day %d%s. Answer briefly, kindly, and concretely.
You are not a clinician: never diagnose, never adjust medication, and advise
contacting the care team for anything urgent.`

// OpenAIClient is an alternative responder backed by the OpenAI chat API.
// It never emits actions; escalation decisions stay with the service's own
// pain-report path.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// Reply builds a chat completion from the recent-message window and returns
// the assistant's text.
func (c *OpenAIClient) Reply(ctx context.Context, req Request) (*Reply, error) {
	surgery := ""
	if req.Context.SurgeryType != "" {
		surgery = " after " + req.Context.SurgeryType
	}

	msgs := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf(recoveryAssistantPrompt, req.Context.RecoveryDay, surgery),
	}}
	if req.Context.CurrentTask != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "The patient's current task: " + req.Context.CurrentTask,
		})
	}
	for _, m := range req.Context.RecentMessages {
		role := openai.ChatMessageRoleUser
		if m.Sender == "assistant" || m.Sender == "system" {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, apperr.Transient("openai responder", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, apperr.Transient("openai responder", fmt.Errorf("empty completion"))
	}

	return &Reply{Text: resp.Choices[0].Message.Content}, nil
}
