// Package llm wraps the OpenAI chat completions API for appeal moderation and
// wording improvement.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/m3rciful/appealbot/core/logger"
)

const component = "service.llm"

// ErrEmptyResponse is returned when the model replies without choices or content.
var ErrEmptyResponse = errors.New("llm: empty response")

// completer is the slice of the chat completions service the client needs.
type completer interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Config configures the OpenAI client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client classifies and reformats appeal text.
type Client struct {
	chat    completer
	model   openai.ChatModel
	timeout time.Duration
}

// New builds a Client from cfg. APIKey is required.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm: api key not set")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(1)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return newWithCompleter(&client.Chat.Completions, cfg), nil
}

func newWithCompleter(chat completer, cfg Config) *Client {
	model := openai.ChatModel(cfg.Model)
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{chat: chat, model: model, timeout: timeout}
}

const classifyPrompt = `You moderate citizen appeals addressed to government and public organizations.
Flag the text if it is any of:
- incoherent, meaningless or spam content
- abusive or obscene language
- threats or provocation
- extremist content
- near-duplicate boilerplate with no concrete request
Reply with a single JSON object:
{"approved": true|false, "reason": "...", "score": 0-100, "violations": ["spam"|"abuse"|"threat"|"extremism"|"duplicate"], "suggestion": "..."}
Write reason and suggestion in the language of the appeal. A legitimate complaint, even an angry one, is approved.`

const formatPrompt = `Rewrite the citizen appeal below so it is polite, clear and well structured.
Keep every fact, name, date, address and number unchanged. Keep the original language.
Reply with the rewritten text only.`

// Classify asks the model to judge text and returns its raw reply. The reply is
// expected to be JSON but callers must tolerate anything.
func (c *Client) Classify(ctx context.Context, text string) (string, error) {
	return c.complete(ctx, "classify", classifyPrompt, text, true)
}

// Format returns a politely reworded version of text.
func (c *Client) Format(ctx context.Context, text string) (string, error) {
	out, err := c.complete(ctx, "format", formatPrompt, text, false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *Client) complete(ctx context.Context, op, system, user string, jsonReply bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0.2),
	}
	if jsonReply {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	start := time.Now()
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		logger.Warn(ctx, component, "llm.request_failed",
			slog.String("op", op),
			slog.String("model", string(c.model)),
			slog.Duration("duration", time.Since(start)),
			slog.Any("err", err),
		)
		return "", fmt.Errorf("llm: %s: %w", op, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	logger.Debug(ctx, component, "llm.request_ok",
		slog.String("op", op),
		slog.Duration("duration", time.Since(start)),
		slog.Int64("tokens", resp.Usage.TotalTokens),
	)
	return resp.Choices[0].Message.Content, nil
}
