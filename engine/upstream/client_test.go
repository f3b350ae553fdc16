package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philippdubach/hn-archiver-go/pkg/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Config{
		BaseURL:            srv.URL,
		RequestTimeout:     2 * time.Second,
		MaxRetries:         2,
		InitialBackoff:     10 * time.Millisecond,
		ConcurrentRequests: 4,
		RateLimit:          resilience.LimiterOpts{Rate: 1000, Burst: 1000},
		Breaker:            resilience.BreakerOpts{FailThreshold: 100, Timeout: time.Second, HalfOpenMax: 1},
	})
	return c, srv
}

func TestMaxItemID(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("42"))
	})
	id, err := c.MaxItemID(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)
}

func TestItem_NotFoundResolvesToNil(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	item, err := c.Item(context.Background(), 1)
	require.NoErrorf(t, err, "expected no error for 404")
	assert.Nilf(t, item, "expected nil item for 404")
}

func TestItem_NullBodyResolvesToNil(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("null"))
	})
	item, err := c.Item(context.Background(), 1)
	require.NoError(t, err)
	assert.Nilf(t, item, "expected nil item for a null body")
}

func TestItem_DecodesStory(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":1,"type":"story","title":"hi","by":"alice","time":1700000000,"score":10}`))
	})
	item, err := c.Item(context.Background(), 1)
	require.NoError(t, err)
	if assert.NotNil(t, item) {
		assert.Equal(t, "hi", item.Title)
		assert.Equal(t, "alice", item.Author)
	}
}

func TestItemsBatch_AbsorbsIndividualFailures(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/item/2.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"id":1,"type":"story","title":"ok"}`))
	})
	items := c.ItemsBatch(context.Background(), []int64{1, 2, 3})
	assert.Lenf(t, items, 2, "expected 2 successful items out of 3")
}

func TestTopStories(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[1,2,3]`))
	})
	ids, err := c.TopStories(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestUpdates(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[1,2],"profiles":["bob"]}`))
	})
	res, err := c.Updates(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.Len(t, res.Profiles, 1)
}

func TestGetJSON_RetriesThenSucceeds(t *testing.T) {
	attempts := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("7"))
	})
	id, err := c.MaxItemID(context.Background())
	require.NoError(t, err)
	assert.EqualValuesf(t, 7, id, "expected 7 after retry")
	assert.Equalf(t, 2, attempts, "expected 2 attempts")
}
