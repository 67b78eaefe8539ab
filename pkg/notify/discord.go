package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Defaults for the Discord REST sender.
const (
	DefaultAPIBaseURL  = "https://discord.com/api/v10"
	DefaultMaxAttempts = 5
	DefaultQueueSize   = 64
	DefaultRetryMin    = 500 * time.Millisecond
	DefaultRetryMax    = 10 * time.Second
)

// DiscordConfig configures the REST sender.
type DiscordConfig struct {
	Token     string
	ChannelID string

	// BaseURL overrides the Discord API endpoint, mainly for tests.
	BaseURL string

	MaxAttempts int
	QueueSize   int
	RetryMin    time.Duration
	RetryMax    time.Duration
}

func (c *DiscordConfig) withDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultAPIBaseURL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.RetryMin <= 0 {
		c.RetryMin = DefaultRetryMin
	}
	if c.RetryMax <= 0 {
		c.RetryMax = DefaultRetryMax
	}
}

// Discord sends messages to a single channel through the Discord REST API.
// Messages are delivered by one worker so channel ordering is preserved and
// rate limits throttle the whole queue, not individual callers.
type Discord struct {
	cfg        DiscordConfig
	httpClient *http.Client
	queue      chan sendJob
	log        zerolog.Logger
}

type sendJob struct {
	text   string
	result chan sendResult
}

type sendResult struct {
	id  string
	err error
}

// NewDiscord creates a sender for the configured channel. Run must be called
// for queued messages to be delivered.
func NewDiscord(cfg DiscordConfig, logger zerolog.Logger) *Discord {
	cfg.withDefaults()
	return &Discord{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		queue:      make(chan sendJob, cfg.QueueSize),
		log:        logger.With().Str("component", "discord").Logger(),
	}
}

// Send enqueues a message and waits for the worker's verdict. The returned id
// is Discord's message id, used to correlate replies and reactions.
func (d *Discord) Send(ctx context.Context, text string) (string, error) {
	job := sendJob{text: text, result: make(chan sendResult, 1)}

	select {
	case d.queue <- job:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-job.result:
		return res.id, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Run drains the outbound queue until the context is cancelled.
func (d *Discord) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-d.queue:
			id, err := d.deliver(ctx, job.text)
			if err != nil {
				d.log.Error().Err(err).Str("text", job.text).Msg("Dropping undeliverable message")
			}
			job.result <- sendResult{id: id, err: err}
		}
	}
}

// deliver posts the message, retrying transient failures with exponential
// backoff. A 429 overrides the backoff with the server-provided delay.
func (d *Discord) deliver(ctx context.Context, text string) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.RetryMin
	bo.MaxInterval = d.cfg.RetryMax
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		id, retryAfter, err := d.post(ctx, text)
		if err == nil {
			return id, nil
		}
		lastErr = err

		if attempt == d.cfg.MaxAttempts {
			break
		}

		wait := bo.NextBackOff()
		if retryAfter > 0 {
			wait = retryAfter
		}
		d.log.Warn().Err(err).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("Message delivery failed, retrying")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}

	return "", fmt.Errorf("%w after %d attempts: %v", ErrDeliveryFailed, d.cfg.MaxAttempts, lastErr)
}

func (d *Discord) post(ctx context.Context, text string) (string, time.Duration, error) {
	body, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return "", 0, fmt.Errorf("encoding message: %w", err)
	}

	url := fmt.Sprintf("%s/channels/%s/messages", d.cfg.BaseURL, d.cfg.ChannelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+d.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("posting message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		var rl struct {
			RetryAfter float64 `json:"retry_after"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&rl); err != nil {
			return "", 0, fmt.Errorf("%w: unreadable rate limit response: %v", ErrRateLimited, err)
		}
		return "", time.Duration(rl.RetryAfter * float64(time.Second)), ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", 0, fmt.Errorf("discord returned %d: %s", resp.StatusCode, snippet)
	}

	var msg struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return "", 0, fmt.Errorf("decoding message response: %w", err)
	}
	return msg.ID, 0, nil
}
