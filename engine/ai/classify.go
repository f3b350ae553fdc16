package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries     = 3
	defaultInitialBackoff = time.Second
	defaultModel          = anthropic.Model("claude-haiku-4-5")

	// defaultRateLimit/defaultBurst cap outbound classification calls the
	// same way the teacher's YouTube scraper caps its own outbound
	// requests: one every 200ms, with a small burst allowance.
	defaultRateLimit = 200 * time.Millisecond
	defaultBurst     = 5
)

// ClassifierConfig configures a Classifier.
type ClassifierConfig struct {
	APIKey         string
	BaseURL        string // overrides the default Anthropic endpoint; tests point this at an httptest server
	Model          anthropic.Model
	MaxRetries     int
	InitialBackoff time.Duration
	// RateLimit and Burst tune the token bucket guarding outbound calls.
	// Both default when zero: one call every 200ms, burst 5.
	RateLimit time.Duration
	Burst     int
}

// Classifier is the topic/content-type collaborator: one Anthropic call
// per story, with the title-prefix short-circuits applied first so the
// obvious cases never reach the model.
type Classifier struct {
	client         anthropic.Client
	model          anthropic.Model
	maxRetries     int
	initialBackoff time.Duration
	limiter        *rate.Limiter
}

// NewClassifier builds a Classifier from cfg.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = defaultInitialBackoff
	}
	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = defaultRateLimit
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Classifier{
		client:         anthropic.NewClient(opts...),
		model:          model,
		maxRetries:     maxRetries,
		initialBackoff: backoff,
		limiter:        rate.NewLimiter(rate.Every(rateLimit), burst),
	}
}

// ClassifyContentType maps a title to its content type. The title-prefix
// short-circuits are tried first and, when one matches, the model is
// never called.
func (c *Classifier) ClassifyContentType(ctx context.Context, title string) (string, error) {
	if ct, ok := contentTypeShortCircuit(title); ok {
		return ct, nil
	}

	prompt := fmt.Sprintf(contentTypePromptTemplate, title)
	raw, err := c.callWithRetry(ctx, prompt)
	if err != nil {
		return "", err
	}
	ct := strings.TrimSpace(strings.ToLower(raw))
	if !validContentTypes[ct] {
		return ContentOther, nil
	}
	return ct, nil
}

// ClassifyTopic maps a title (and optional url) to its topic.
func (c *Classifier) ClassifyTopic(ctx context.Context, title, url string) (string, error) {
	prompt := fmt.Sprintf(topicPromptTemplate, title, url)
	raw, err := c.callWithRetry(ctx, prompt)
	if err != nil {
		return "", err
	}
	topic := strings.TrimSpace(strings.ToLower(raw))
	if !validTopics[topic] {
		return TopicOther, nil
	}
	return topic, nil
}

// contentTypeShortCircuit applies the title-prefix patterns that bypass
// the model call entirely.
func contentTypeShortCircuit(title string) (string, bool) {
	lower := strings.ToLower(title)
	switch {
	case strings.HasPrefix(lower, "show hn:"):
		return ContentShowHN, true
	case strings.HasPrefix(lower, "ask hn:"):
		return ContentAskHN, true
	case strings.HasPrefix(lower, "tell hn:"):
		return ContentTellHN, true
	case strings.Contains(lower, "is hiring"), strings.Contains(lower, "job:"), strings.Contains(lower, "(yc "):
		return ContentJob, true
	}
	return "", false
}

func (c *Classifier) callWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	wait := c.initialBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			wait = time.Duration(math.Min(float64(wait*2), float64(30*time.Second)))
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: 16,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err == nil {
			if len(message.Content) == 0 {
				return "", fmt.Errorf("classify: no content blocks")
			}
			block := message.Content[0]
			if block.Type != "text" {
				return "", fmt.Errorf("classify: unexpected content type %q", block.Type)
			}
			return block.Text, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			return "", fmt.Errorf("classify: non-retryable: %w", err)
		}
	}
	return "", fmt.Errorf("classify: failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

const topicPromptTemplate = `Classify the topic of this Hacker News story. Respond with exactly one word from this list, nothing else: artificial-intelligence, programming, web-development, startups, science, security, crypto-blockchain, hardware, career, politics, business, gaming, other.

Title: %s
URL: %s`

const contentTypePromptTemplate = `Classify the content type of this Hacker News story. Respond with exactly one word from this list, nothing else: news, tutorial, opinion, research, launch, discussion, other.

Title: %s`
