package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbed_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vals := make([]string, EmbeddingDimensions)
		for i := range vals {
			vals[i] = "0.1"
		}
		fmt.Fprintf(w, `{"embedding":[%s]}`, strings.Join(vals, ","))
	}))
	defer srv.Close()

	e := NewEmbedder(srv.URL, "test-model")
	vec, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Len(t, vec, EmbeddingDimensions)
}

func TestEmbed_WrongDimensions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embedding":[0.1,0.2]}`))
	}))
	defer srv.Close()

	e := NewEmbedder(srv.URL, "test-model")
	_, err := e.Embed(context.Background(), "x")
	assert.Error(t, err, "expected error for wrong dimensionality")
}

func TestEmbed_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewEmbedder(srv.URL, "test-model")
	_, err := e.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestEmbed_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	e := NewEmbedder(srv.URL, "test-model")
	_, err := e.Embed(context.Background(), "x")
	assert.Error(t, err, "expected decode error")
}
