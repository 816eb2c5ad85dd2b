package openai

import (
	"context"

	"github.com/rotisserie/eris"
	sdk "github.com/sashabaranov/go-openai"
)

const defaultModel = "gpt-4o-mini"

// Client performs chat completions against the OpenAI API.
type Client interface {
	ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error)
}

// ChatCompletionRequest is our own request type for ChatCompletion.
type ChatCompletionRequest struct {
	Model       string
	System      string
	User        string
	Temperature *float64
	// JSONMode forces a JSON-object response body.
	JSONMode bool
}

// ChatCompletionResponse is our own response type from ChatCompletion.
type ChatCompletionResponse struct {
	ID               string
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// sdkClient implements Client using sashabaranov/go-openai.
type sdkClient struct {
	client *sdk.Client
	model  string
}

// Option configures the client.
type Option func(*sdkClient)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *sdkClient) {
		c.model = model
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(apiKey, url string) Option {
	return func(c *sdkClient) {
		cfg := sdk.DefaultConfig(apiKey)
		cfg.BaseURL = url
		c.client = sdk.NewClientWithConfig(cfg)
	}
}

// NewClient creates an OpenAI client backed by the SDK.
func NewClient(apiKey string, opts ...Option) Client {
	c := &sdkClient{
		client: sdk.NewClient(apiKey),
		model:  defaultModel,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *sdkClient) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := []sdk.ChatCompletionMessage{}
	if req.System != "" {
		messages = append(messages, sdk.ChatCompletionMessage{
			Role:    sdk.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, sdk.ChatCompletionMessage{
		Role:    sdk.ChatMessageRoleUser,
		Content: req.User,
	})

	sdkReq := sdk.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature != nil {
		sdkReq.Temperature = float32(*req.Temperature)
	}
	if req.JSONMode {
		sdkReq.ResponseFormat = &sdk.ChatCompletionResponseFormat{
			Type: sdk.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, sdkReq)
	if err != nil {
		return nil, eris.Wrap(err, "openai: chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("openai: empty choices in response")
	}

	return &ChatCompletionResponse{
		ID:               resp.ID,
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}
