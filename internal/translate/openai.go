package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// ChatCompleter is a Completer backed by an OpenAI-compatible chat endpoint
// such as NVIDIA's integrate API.
type ChatCompleter struct {
	client oai.Client
}

// NewChatCompleter returns a completer for baseURL. Retries are left to the
// two-tier fallback.
func NewChatCompleter(baseURL, apiKey string, timeout time.Duration) (*ChatCompleter, error) {
	if baseURL == "" {
		return nil, errors.New("translate: base url must not be empty")
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if apiKey == "" {
		return nil, errors.New("translate: api key must not be empty (set translate.api_key or NVIDIA_API_KEY)")
	}
	reqOpts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: timeout}))
	}
	return &ChatCompleter{client: oai.NewClient(reqOpts...)}, nil
}

func (c *ChatCompleter) Complete(ctx context.Context, req Request) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(req.Model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(req.System),
			oai.UserMessage(req.User),
		},
		Temperature: param.NewOpt(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("translate: chat completion (%s): %w", req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("translate: empty choices from %s", req.Model)
	}
	return resp.Choices[0].Message.Content, nil
}
