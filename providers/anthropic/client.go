package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/cland3stine/roonie/llm"
)

const defaultMaxTokens = 1024

type Client struct {
	messages *sdk.MessageService
}

func New(apiKey string) *Client {
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return &Client{messages: &c.Messages}
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	start := time.Now()

	var system []sdk.TextBlockParam
	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		switch m.Role {
		case "system":
			system = append(system, sdk.TextBlockParam{Text: text})
		case "assistant":
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(text)))
		default:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(text)))
		}
	}
	if len(msgs) == 0 {
		return llm.Result{}, fmt.Errorf("anthropic: no user messages")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}

	msg, err := c.messages.New(ctx, params)
	if err != nil {
		wrapped := fmt.Errorf("anthropic: %w", err)
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500) {
			return llm.Result{}, &llm.TransientError{Err: wrapped}
		}
		return llm.Result{}, wrapped
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	return llm.Result{
		Text: b.String(),
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		Duration: time.Since(start),
	}, nil
}
