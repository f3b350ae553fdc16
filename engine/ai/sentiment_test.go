package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentiment_PositiveLabel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"labels":[{"label":"POSITIVE","score":0.87}]}`))
	}))
	defer srv.Close()

	c := NewSentimentClient(srv.URL)
	score, err := c.Sentiment(context.Background(), "Great new framework released")
	require.NoError(t, err)
	assert.Equal(t, 0.87, score)
}

func TestSentiment_NegativeLabelOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"labels":[{"label":"NEGATIVE","score":0.3}]}`))
	}))
	defer srv.Close()

	c := NewSentimentClient(srv.URL)
	score, err := c.Sentiment(context.Background(), "Service outage report")
	require.NoError(t, err)
	assert.Equal(t, 0.7, score)
}

func TestSentiment_NoLabelsDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"labels":[]}`))
	}))
	defer srv.Close()

	c := NewSentimentClient(srv.URL)
	score, err := c.Sentiment(context.Background(), "Neutral announcement")
	require.NoError(t, err)
	assert.Equal(t, defaultSentiment, score)
}

func TestSentiment_MalformedBodyDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := NewSentimentClient(srv.URL)
	score, err := c.Sentiment(context.Background(), "x")
	require.NoError(t, err, "expected no error on malformed body")
	assert.Equal(t, defaultSentiment, score)
}

func TestSentiment_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewSentimentClient(srv.URL)
	_, err := c.Sentiment(context.Background(), "x")
	assert.Error(t, err)
}
