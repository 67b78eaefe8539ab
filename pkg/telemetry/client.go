package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrSourceUnavailable indicates a fetch from the tracking API failed. The
// caller skips the pilot for this cycle and continues.
var ErrSourceUnavailable = errors.New("tracking source unavailable")

// DefaultBaseURL is the public PureTrack API endpoint.
const DefaultBaseURL = "https://puretrack.io"

// Client fetches raw trail records from a PureTrack-style tracking API.
type Client struct {
	baseURL    string
	limit      int
	httpClient *http.Client
}

// NewClient creates a tracking API client. limit caps the number of records
// requested per trail; zero means the server default.
func NewClient(baseURL string, limit int, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		limit:      limit,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type trailRequest struct {
	ID   string `json:"id"`
	From int64  `json:"from"`
}

type trailResponse struct {
	Tracks []struct {
		Count  int      `json:"count"`
		Last   string   `json:"last"`
		Points []string `json:"points"`
	} `json:"tracks"`
}

// FetchRecent returns the raw records for one pilot key within the lookback
// window, ordered newest first. The authoritative latest record comes first.
// An empty slice means no recent activity and is not an error.
func (c *Client) FetchRecent(ctx context.Context, key string, lookback time.Duration) ([]string, error) {
	body, err := json.Marshal([]trailRequest{{ID: key, From: 0}})
	if err != nil {
		return nil, err
	}

	// The trails endpoint takes the window in whole minutes.
	maxAge := int(lookback.Minutes())
	if lookback > time.Duration(maxAge)*time.Minute {
		maxAge++
	}
	if maxAge < 1 {
		maxAge = 1
	}

	u := fmt.Sprintf("%s/api/trails?limit=%d&maxage=%d", c.baseURL, c.limit, maxAge)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: trails API returned status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	var trails trailResponse
	if err := json.NewDecoder(resp.Body).Decode(&trails); err != nil {
		return nil, fmt.Errorf("%w: decoding trails response: %v", ErrSourceUnavailable, err)
	}

	if len(trails.Tracks) == 0 || trails.Tracks[0].Count == 0 {
		return nil, nil
	}

	track := trails.Tracks[0]
	records := make([]string, 0, len(track.Points)+1)
	if track.Last != "" {
		records = append(records, track.Last)
	}
	// Points arrive oldest first; reverse so the walk is newest to oldest.
	for i := len(track.Points) - 1; i >= 0; i-- {
		records = append(records, track.Points[i])
	}
	return records, nil
}
