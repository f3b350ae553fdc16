package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// defaultSentiment is returned whenever the classifier's response is
// malformed or carries neither label.
const defaultSentiment = 0.5

// SentimentClient is the two-label sentiment collaborator: POST a title,
// decode a JSON response, map its labels to a single [0,1] score.
type SentimentClient struct {
	baseURL string
	client  *http.Client
}

// NewSentimentClient builds a SentimentClient pointed at baseURL.
func NewSentimentClient(baseURL string) *SentimentClient {
	return &SentimentClient{baseURL: baseURL, client: &http.Client{}}
}

type sentimentRequest struct {
	Text string `json:"text"`
}

type sentimentLabel struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type sentimentResponse struct {
	Labels []sentimentLabel `json:"labels"`
}

// Sentiment scores title in [0,1]: the POSITIVE label's score directly,
// or 1 minus the NEGATIVE label's score if only that label is present.
// Falls back to 0.5 if neither label appears or the response doesn't
// parse.
func (c *SentimentClient) Sentiment(ctx context.Context, title string) (float64, error) {
	body, err := json.Marshal(sentimentRequest{Text: title})
	if err != nil {
		return defaultSentiment, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(body))
	if err != nil {
		return defaultSentiment, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return defaultSentiment, fmt.Errorf("sentiment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return defaultSentiment, fmt.Errorf("sentiment: status %d", resp.StatusCode)
	}

	var result sentimentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return defaultSentiment, nil
	}

	var positive, negative *float64
	for _, l := range result.Labels {
		switch l.Label {
		case "POSITIVE":
			v := l.Score
			positive = &v
		case "NEGATIVE":
			v := l.Score
			negative = &v
		}
	}

	switch {
	case positive != nil:
		return *positive, nil
	case negative != nil:
		return 1 - *negative, nil
	default:
		return defaultSentiment, nil
	}
}
