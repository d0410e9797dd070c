// Package genai wraps an OpenAI-compatible chat completion API for NutriNest.
//
// It provides single-shot chat and a bounded tool-calling loop. Transient
// provider failures are retried with exponential backoff.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Defaults for the client and for individual calls.
const (
	DefaultModel         = "gpt-4o-mini"
	DefaultMaxTokens     = 1024
	DefaultMaxIterations = 5
	DefaultMaxRetries    = 2
	DefaultTimeout       = 60 * time.Second
)

var (
	// ErrNoChoicesReturned is returned when the provider sends an empty choice list.
	ErrNoChoicesReturned = errors.New("no choices returned from chat completion")
	// ErrMissingAPIKey is returned by NewClient when no key is configured.
	ErrMissingAPIKey = errors.New("OpenAI API key not set")
)

// ChatService is the LLM capability the rest of NutriNest depends on.
type ChatService interface {
	// Chat sends messages and returns the assistant's text.
	Chat(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, opts ...CallOption) (string, error)
	// ChatWithTools runs the tool-calling loop and returns the final text.
	// An empty string means the model produced no answer within the iteration cap.
	ChatWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam, exec ToolExecutor, opts ...CallOption) (string, error)
}

// ToolCall is one function call requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolExecutor runs a tool call synchronously and returns its textual result.
// A returned error aborts the whole loop.
type ToolExecutor func(ctx context.Context, call ToolCall) (string, error)

// chatService abstracts the completions endpoint so tests can mock it.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

type openaiChatService struct {
	client openai.Client
}

func (s *openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	MaxRetries  int
	Timeout     time.Duration
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = &t }
}

// WithMaxRetries sets how many times a transient failure is retried.
func WithMaxRetries(n int) Option {
	return func(o *Opts) { o.MaxRetries = n }
}

// WithTimeout bounds each provider request.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client implements ChatService on top of openai-go.
type Client struct {
	chat        chatService
	model       string
	temperature *float64
	maxRetries  int
	timeout     time.Duration
}

var _ ChatService = (*Client)(nil)

// NewClient creates a client from options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{MaxRetries: DefaultMaxRetries, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("genai.NewClient: options set", "APIKey_set", cfg.APIKey != "", "BaseURL", cfg.BaseURL, "Model", cfg.Model)
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	// Retries are handled here so they are visible in logs.
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		chat:        &openaiChatService{client: openai.NewClient(reqOpts...)},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		timeout:     cfg.Timeout,
	}, nil
}

// CallOption tunes a single Chat or ChatWithTools call.
type CallOption func(*callOpts)

type callOpts struct {
	model         string
	maxTokens     int
	maxIterations int
}

// Model overrides the client's default model for one call.
func Model(model string) CallOption {
	return func(o *callOpts) { o.model = model }
}

// MaxTokens caps the completion length.
func MaxTokens(n int) CallOption {
	return func(o *callOpts) { o.maxTokens = n }
}

// MaxIterations caps the number of model round trips in ChatWithTools.
func MaxIterations(n int) CallOption {
	return func(o *callOpts) { o.maxIterations = n }
}

func (c *Client) callOptions(opts []CallOption) callOpts {
	co := callOpts{model: c.model, maxTokens: DefaultMaxTokens, maxIterations: DefaultMaxIterations}
	for _, opt := range opts {
		opt(&co)
	}
	if co.maxIterations < 1 {
		co.maxIterations = 1
	}
	return co
}

func (c *Client) params(co callOpts, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(co.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(co.maxTokens)),
	}
	if c.temperature != nil {
		params.Temperature = openai.Float(*c.temperature)
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	return params
}

// Chat sends messages and returns the first choice's content.
func (c *Client) Chat(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, opts ...CallOption) (string, error) {
	co := c.callOptions(opts)
	msg, err := c.complete(ctx, c.params(co, messages, nil))
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

// ChatWithTools runs the tool-calling loop.
//
// Each iteration calls the model once. A text answer ends the loop. Tool
// calls are executed in order, their results appended as tool messages, and
// the model is called again. A reply with neither text nor tool calls, or
// hitting the iteration cap, returns "".
func (c *Client) ChatWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam, exec ToolExecutor, opts ...CallOption) (string, error) {
	co := c.callOptions(opts)
	transcript := append([]openai.ChatCompletionMessageParamUnion(nil), messages...)

	for i := 0; i < co.maxIterations; i++ {
		msg, err := c.complete(ctx, c.params(co, transcript, tools))
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(msg.Content) != "" {
			slog.Debug("Client.ChatWithTools: text answer", "iteration", i+1, "length", len(msg.Content))
			return msg.Content, nil
		}
		if len(msg.ToolCalls) == 0 {
			slog.Debug("Client.ChatWithTools: empty answer without tool calls", "iteration", i+1)
			return "", nil
		}

		transcript = append(transcript, assistantToolCallMessage(msg))
		for _, tc := range msg.ToolCalls {
			call := ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(tc.Function.Arguments)}
			slog.Debug("Client.ChatWithTools: executing tool", "iteration", i+1, "tool", call.Name, "id", call.ID, "args", FormatArgumentsForLog(call.Arguments))
			result, err := exec(ctx, call)
			if err != nil {
				return "", fmt.Errorf("tool %s failed: %w", call.Name, err)
			}
			transcript = append(transcript, openai.ToolMessage(result, tc.ID))
		}
	}

	slog.Warn("Client.ChatWithTools: iteration cap reached without an answer", "maxIterations", co.maxIterations)
	return "", nil
}

func assistantToolCallMessage(msg openai.ChatCompletionMessage) openai.ChatCompletionMessageParamUnion {
	assistant := openai.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(msg.Content)}
	}
	calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		calls = append(calls, openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	assistant.ToolCalls = calls
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

// complete performs one completion with retries and returns the first choice.
func (c *Client) complete(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletionMessage, error) {
	attempt := 0
	op := func() (openai.ChatCompletion, error) {
		attempt++
		reqCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		resp, err := c.chat.Create(reqCtx, params)
		if err != nil {
			if !isRetryable(ctx, err) {
				return resp, backoff.Permanent(err)
			}
			slog.Warn("Client.complete: transient provider error", "attempt", attempt, "error", err)
			return resp, err
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
	)
	if err != nil {
		slog.Error("Client.complete: chat completion failed", "model", params.Model, "attempts", attempt, "error", err)
		return openai.ChatCompletionMessage{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, ErrNoChoicesReturned
	}
	return resp.Choices[0].Message, nil
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

// isRetryable reports whether err is worth another attempt.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// FunctionTool builds a function tool definition with a JSON-schema object.
func FunctionTool(name, description string, properties map[string]any, required ...string) openai.ChatCompletionToolParam {
	if properties == nil {
		properties = map[string]any{}
	}
	params := shared.FunctionParameters{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return openai.ChatCompletionToolParam{
		Function: shared.FunctionDefinitionParam{
			Name:        name,
			Description: openai.String(description),
			Parameters:  params,
		},
	}
}

const argumentsLogLimit = 1024

// FormatArgumentsForLog trims raw tool arguments to a loggable size.
func FormatArgumentsForLog(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > argumentsLogLimit {
		return s[:argumentsLogLimit] + "...(truncated)"
	}
	return s
}
