// Package llm wraps a Gemini-compatible OpenAI client with the
// ambient concerns every call must go through: a kill switch backed by
// an external config store, a per-provider RPM limiter, token
// accounting against a monthly budget, and markdown-fence stripping
// before the caller JSON-decodes the response. This is the
// Rate-Limited LLM Client (C7).
package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/hallyuwire/corehub/server/internal/throttle"
)

// ErrKillSwitch is returned when the kill-switch flag is active.
var ErrKillSwitch = errors.New("llm: kill switch active")

// ConfigStore is the external key-value parameter service backing the
// kill switch and the monthly token counter. In production this is a
// managed parameter store; in development, a no-op in-memory stand-in
// suffices.
type ConfigStore interface {
	GetFlag(ctx context.Context, key string) (string, error)
	SetFlag(ctx context.Context, key, value string) error
	IncrCounter(ctx context.Context, key string, delta int64) (int64, error)
}

// fence strips a ```json ... ``` (or bare ```) wrapper some models add
// despite being told not to.
var fence = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

// Usage is the per-call token/timing accounting the caller logs.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ResponseTimeMS   int64
}

// Client is a rate-limited, kill-switch-gated OpenAI-compatible client
// pointed at Gemini's OpenAI-compatibility endpoint.
type Client struct {
	oa            *openai.Client
	model         string
	limiter       *throttle.SlidingWindow
	store         ConfigStore
	killSwitchKey string
	counterKey    string
	monthlyLimit  int64
	logger        *zap.Logger
	enc           *tiktoken.Tiktoken
}

// Option configures a Client.
type Option func(*Client)

// WithMonthlyLimit sets the token budget past which the kill switch is
// set automatically. Zero disables the automatic cutoff.
func WithMonthlyLimit(limit int64) Option {
	return func(c *Client) { c.monthlyLimit = limit }
}

// WithKeys overrides the config-store key names for the kill switch
// flag and the monthly token counter.
func WithKeys(killSwitchKey, counterKey string) Option {
	return func(c *Client) {
		if killSwitchKey != "" {
			c.killSwitchKey = killSwitchKey
		}
		if counterKey != "" {
			c.counterKey = counterKey
		}
	}
}

// New builds a Client pointed at baseURL (Gemini's OpenAI-compatible
// endpoint) with the given model and requests-per-minute ceiling.
func New(apiKey, baseURL, model string, rpm int, store ConfigStore, logger *zap.Logger, opts ...Option) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	c := &Client{
		oa:            openai.NewClientWithConfig(cfg),
		model:         model,
		limiter:       throttle.NewSlidingWindow(0, rpm),
		store:         store,
		killSwitchKey: "llm.kill_switch",
		counterKey:    "llm.monthly_tokens",
		logger:        logger,
	}

	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		c.enc = enc
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EstimateTokens returns a rough pre-call token estimate for s, or 0
// if no encoder is available. This is advisory only — actual billed
// usage comes from the provider's response.
func (c *Client) EstimateTokens(s string) int {
	if c.enc == nil {
		return 0
	}
	return len(c.enc.Encode(s, nil, nil))
}

// CallJSON issues one chat completion requesting a JSON response at
// low temperature, after checking the kill switch and acquiring an RPM
// slot. It returns the response content with any markdown code fence
// stripped, ready for the caller to json.Unmarshal.
func (c *Client) CallJSON(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	if c.store != nil {
		val, err := c.store.GetFlag(ctx, c.killSwitchKey)
		if err != nil {
			return "", Usage{}, fmt.Errorf("llm: checking kill switch: %w", err)
		}
		if strings.EqualFold(strings.TrimSpace(val), "true") {
			return "", Usage{}, ErrKillSwitch
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", Usage{}, fmt.Errorf("llm: waiting for rate limit slot: %w", err)
	}

	estimated := c.EstimateTokens(systemPrompt + userPrompt)
	c.logger.Debug("llm: issuing call", zap.Int("estimated_prompt_tokens", estimated))

	start := time.Now()
	resp, err := c.oa.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature:    0.15,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	elapsed := time.Since(start)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: chat completion call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("llm: empty choices in response")
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		ResponseTimeMS:   elapsed.Milliseconds(),
	}

	c.trackMonthlyUsage(ctx, usage)

	content := stripFence(resp.Choices[0].Message.Content)
	return content, usage, nil
}

func (c *Client) trackMonthlyUsage(ctx context.Context, usage Usage) {
	if c.store == nil || usage.TotalTokens == 0 {
		return
	}
	total, err := c.store.IncrCounter(ctx, c.counterKey, int64(usage.TotalTokens))
	if err != nil {
		c.logger.Warn("llm: incrementing monthly token counter", zap.Error(err))
		return
	}
	if c.monthlyLimit > 0 && total >= c.monthlyLimit {
		if err := c.store.SetFlag(ctx, c.killSwitchKey, "true"); err != nil {
			c.logger.Error("llm: setting kill switch after monthly limit breach", zap.Error(err))
			return
		}
		c.logger.Error("llm: monthly token limit exceeded, kill switch engaged",
			zap.Int64("total_tokens", total), zap.Int64("monthly_limit", c.monthlyLimit))
	}
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if m := fence.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}
