package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDiscord(t *testing.T, srvURL string, maxAttempts int) (*Discord, context.CancelFunc) {
	t.Helper()
	d := NewDiscord(DiscordConfig{
		Token:       "test-token",
		ChannelID:   "chan-1",
		BaseURL:     srvURL,
		MaxAttempts: maxAttempts,
		RetryMin:    time.Millisecond,
		RetryMax:    5 * time.Millisecond,
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx) //nolint:errcheck
	return d, cancel
}

func TestSendDeliversAndReturnsMessageID(t *testing.T) {
	var gotAuth, gotPath, gotContent string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		var body struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotContent = body.Content
		fmt.Fprint(w, `{"id":"msg-42"}`)
	}))
	defer srv.Close()

	d, cancel := testDiscord(t, srv.URL, 3)
	defer cancel()

	id, err := d.Send(context.Background(), "hello pilot")
	require.NoError(t, err)
	assert.Equal(t, "msg-42", id)
	assert.Equal(t, "Bot test-token", gotAuth)
	assert.Equal(t, "/channels/chan-1/messages", gotPath)
	assert.Equal(t, "hello pilot", gotContent)
}

func TestSendRetriesAfterRateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"retry_after":0.001}`)
			return
		}
		fmt.Fprint(w, `{"id":"msg-7"}`)
	}))
	defer srv.Close()

	d, cancel := testDiscord(t, srv.URL, 3)
	defer cancel()

	id, err := d.Send(context.Background(), "still there?")
	require.NoError(t, err)
	assert.Equal(t, "msg-7", id)
	assert.Equal(t, 2, calls)
}

func TestSendGivesUpAfterBoundedAttempts(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, cancel := testDiscord(t, srv.URL, 3)
	defer cancel()

	_, err := d.Send(context.Background(), "doomed")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeliveryFailed))
	assert.Equal(t, 3, calls)
}

func TestSendHonoursCallerCancellation(t *testing.T) {
	// No worker running: the job is queued but never delivered, so Send must
	// give up when the caller's context expires.
	d := NewDiscord(DiscordConfig{Token: "t", ChannelID: "c"}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.Send(ctx, "nobody listening")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
