package llm

import (
	"context"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/m4xw311/puck/errors"
	"github.com/m4xw311/puck/session"
)

// geminiNudge is sent when the conversation does not end on a user turn;
// Gemini chat sessions need a user message to answer.
const geminiNudge = "Continue."

// GeminiLLMClient is a client for the Google Gemini API.
type GeminiLLMClient struct {
	client    *genai.Client
	modelName string
}

// NewGeminiLLMClient creates a new GeminiLLMClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiLLMClient(ctx context.Context, modelName string) (*GeminiLLMClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiLLMClient{
		client:    client,
		modelName: modelName,
	}, nil
}

// Query sends the conversation to Gemini. A model handle is created per
// call so the output limit never leaks between concurrent queries.
func (g *GeminiLLMClient) Query(ctx context.Context, messages []session.Message, maxTokens int) (string, error) {
	systemPrompt, conversation := splitSystem(messages)

	model := g.client.GenerativeModel(g.modelName)
	model.SetMaxOutputTokens(int32(maxTokens))
	if systemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}

	history := convertMessagesToGeminiContent(conversation)
	var last []genai.Part
	if n := len(history); n > 0 && history[n-1].Role == "user" {
		last = history[n-1].Parts
		history = history[:n-1]
	} else {
		last = []genai.Part{genai.Text(geminiNudge)}
	}

	chatSession := model.StartChat()
	chatSession.History = history
	resp, err := chatSession.SendMessage(ctx, last...)
	if err != nil {
		return "", errors.Wrapf(err, "failed to send message to Gemini")
	}
	return processGeminiResponse(resp)
}

// convertMessagesToGeminiContent converts our internal message format to Gemini's.
func convertMessagesToGeminiContent(messages []session.Message) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		role := "user"
		if msg.Role == session.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return contents
}

// processGeminiResponse joins the text parts of the first candidate.
func processGeminiResponse(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("received an empty response from Gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			sb.WriteString(string(v))
		default:
			return "", errors.New("unsupported part type in Gemini response: %T", v)
		}
	}
	return sb.String(), nil
}
