package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/arguana-embed/internal/config"
	"github.com/raaihank/arguana-embed/internal/embeddings"
	"github.com/raaihank/arguana-embed/internal/embeddings/embedtest"
	"github.com/raaihank/arguana-embed/internal/logger"
	"github.com/raaihank/arguana-embed/internal/store"
	"github.com/raaihank/arguana-embed/internal/websocket"
)

type fakeSearcher struct {
	got *store.SearchOptions
}

func (f *fakeSearcher) FindSimilar(ctx context.Context, embedding []float32, options *store.SearchOptions) ([]*store.SimilarityResult, error) {
	f.got = options
	return []*store.SimilarityResult{
		{Record: &store.EmbeddingRecord{Text: "nearest"}, Similarity: 0.9},
	}, nil
}

func newTestServer(t *testing.T, backend *embedtest.Backend, mutate func(*config.Config), deps Deps) *httptest.Server {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.Server.RateLimit = 0
	if mutate != nil {
		mutate(cfg)
	}

	model, err := embedtest.NewModel(cfg.Model.Name, embeddings.GPUDevices(0), backend)
	require.NoError(t, err)

	s, err := New(cfg, &logger.Logger{Logger: zap.NewNop()}, model, deps)
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthAndModels(t *testing.T) {
	srv := newTestServer(t, &embedtest.Backend{}, nil, Deps{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(srv.URL + "/models")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Models []ModelInfo `json:"models"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Models, len(embeddings.FamilyNames()))

	for _, m := range body.Models {
		assert.Equal(t, m.Name == "e5", m.Loaded, m.Name)
		if m.Name == "e5" {
			assert.Equal(t, "mean", m.Pooling)
			assert.Equal(t, int64(110_000_000), m.Parameters)
		}
	}
}

func TestEmbed(t *testing.T) {
	backend := &embedtest.Backend{}
	srv := newTestServer(t, backend, nil, Deps{})

	resp := postJSON(t, srv.URL+"/embed", EmbedRequest{Texts: []string{"alpha beta", "gamma", "alpha beta"}, BatchSize: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body EmbedResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "e5", body.Model)
	assert.Equal(t, embedtest.Hidden, body.Dimensions)
	assert.Equal(t, 2, body.Count)
	require.Contains(t, body.Embeddings, "gamma")

	var norm float64
	for _, v := range body.Embeddings["gamma"] {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	assert.Equal(t, 2, backend.Calls())
}

func TestEmbedErrors(t *testing.T) {
	tests := []struct {
		name    string
		backend *embedtest.Backend
		body    string
		status  int
		code    string
	}{
		{"empty texts", &embedtest.Backend{}, `{"texts": []}`, http.StatusBadRequest, "invalid_request"},
		{"malformed", &embedtest.Backend{}, `{"texts": [`, http.StatusBadRequest, "invalid_request"},
		{"unknown field", &embedtest.Backend{}, `{"texts": ["a"], "model": "e5"}`, http.StatusBadRequest, "invalid_request"},
		{"negative batch", &embedtest.Backend{}, `{"texts": ["a"], "batch_size": -1}`, http.StatusBadRequest, "invalid_request"},
		{"too many texts", &embedtest.Backend{}, `{"texts": ["a", "b", "c"]}`, http.StatusRequestEntityTooLarge, "too_many_texts"},
		{"out of memory", &embedtest.Backend{OOMAbove: 1}, `{"texts": ["a", "b"]}`, http.StatusServiceUnavailable, "out_of_memory"},
		{"inference failure", &embedtest.Backend{Err: embeddings.ErrInferenceFailed}, `{"texts": ["a"]}`, http.StatusInternalServerError, "inference_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.backend, func(c *config.Config) { c.Server.MaxTexts = 2 }, Deps{})

			resp, err := http.Post(srv.URL+"/embed", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			var body errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Error)
			assert.Equal(t, resp.Header.Get("X-Request-ID"), body.RequestID)
		})
	}
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, &embedtest.Backend{}, func(c *config.Config) {
		c.Server.RateLimit = 0.001
		c.Server.Burst = 1
	}, Deps{})

	first, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode, "health checks are not rate limited")
}

func TestRateLimiterUpdate(t *testing.T) {
	rl := newRateLimiter(0, 0)
	assert.True(t, rl.allow("a"))

	rl.update(0.001, 1)
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"))

	rl.update(0, 0)
	assert.True(t, rl.allow("a"))
}

func TestRateLimitForwardedFor(t *testing.T) {
	get := func(t *testing.T, url, forwardedFor string) int {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, url+"/stats", nil)
		require.NoError(t, err)
		req.Header.Set("X-Forwarded-For", forwardedFor)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	limited := func(proxies ...string) func(*config.Config) {
		return func(c *config.Config) {
			c.Server.RateLimit = 0.001
			c.Server.Burst = 1
			c.Server.TrustedProxies = proxies
		}
	}

	t.Run("header ignored from untrusted peers", func(t *testing.T) {
		srv := newTestServer(t, &embedtest.Backend{}, limited(), Deps{})
		assert.Equal(t, http.StatusOK, get(t, srv.URL, "203.0.113.1"))
		assert.Equal(t, http.StatusTooManyRequests, get(t, srv.URL, "203.0.113.2"))
		assert.Equal(t, http.StatusTooManyRequests, get(t, srv.URL, "203.0.113.3, 127.0.0.1"))
	})

	t.Run("header honoured from trusted proxy", func(t *testing.T) {
		srv := newTestServer(t, &embedtest.Backend{}, limited("127.0.0.0/8", "::1"), Deps{})
		assert.Equal(t, http.StatusOK, get(t, srv.URL, "203.0.113.1"))
		assert.Equal(t, http.StatusOK, get(t, srv.URL, "203.0.113.2"))
		assert.Equal(t, http.StatusTooManyRequests, get(t, srv.URL, "198.51.100.9, 203.0.113.1"),
			"the right-most untrusted hop identifies the client")
	})
}

func TestParseTrustedProxies(t *testing.T) {
	nets, err := parseTrustedProxies([]string{"10.0.0.0/8", " 192.168.1.5 ", "", "::1"})
	require.NoError(t, err)
	require.Len(t, nets, 3)
	assert.True(t, nets[0].Contains(net.ParseIP("10.1.2.3")))
	assert.True(t, nets[1].Contains(net.ParseIP("192.168.1.5")))
	assert.False(t, nets[1].Contains(net.ParseIP("192.168.1.6")))
	assert.True(t, nets[2].Contains(net.ParseIP("::1")))

	for _, bad := range []string{"not-an-ip", "10.0.0.0/99"} {
		t.Run(bad, func(t *testing.T) {
			_, err := parseTrustedProxies([]string{bad})
			assert.Error(t, err)
		})
	}

	t.Run("rejected by New", func(t *testing.T) {
		cfg := config.GetDefaults()
		cfg.Server.TrustedProxies = []string{"nope"}
		model, err := embedtest.NewModel(cfg.Model.Name, embeddings.GPUDevices(0), &embedtest.Backend{})
		require.NoError(t, err)
		_, err = New(cfg, &logger.Logger{Logger: zap.NewNop()}, model, Deps{})
		assert.Error(t, err)
	})
}

func TestSearch(t *testing.T) {
	searcher := &fakeSearcher{}
	srv := newTestServer(t, &embedtest.Backend{}, nil, Deps{Store: searcher})

	resp := postJSON(t, srv.URL+"/search", SearchRequest{Query: "is the claim valid", Limit: 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body SearchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "nearest", body.Results[0].Text)
	assert.Equal(t, "e5", searcher.got.Model)
	assert.Equal(t, 3, searcher.got.Limit)

	t.Run("not routed without a store", func(t *testing.T) {
		bare := newTestServer(t, &embedtest.Backend{}, nil, Deps{})
		resp := postJSON(t, bare.URL+"/search", SearchRequest{Query: "x"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestEmbedProgressOverWebSocket(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := websocket.NewHub(websocket.HubConfig{}, zap.NewNop())
	go hub.Run(ctx)

	srv := newTestServer(t, &embedtest.Backend{}, nil, Deps{Hub: hub})

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ActiveConnections() == 1 }, 2*time.Second, 10*time.Millisecond)

	page, err := http.Get(srv.URL + "/dashboard")
	require.NoError(t, err)
	page.Body.Close()
	assert.Equal(t, http.StatusOK, page.StatusCode)

	resp := postJSON(t, srv.URL+"/embed", EmbedRequest{Texts: []string{"a", "b", "c"}, BatchSize: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	requestID := resp.Header.Get("X-Request-ID")

	seen := map[string]int{}
	deadline := time.Now().Add(2 * time.Second)
	for seen["job:completed"] == 0 && time.Now().Before(deadline) {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var event struct {
			Type      string                 `json:"type"`
			RequestID string                 `json:"request_id"`
			Data      map[string]interface{} `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&event))
		switch event.Type {
		case "progress":
			assert.Equal(t, requestID, event.RequestID)
			seen["progress"]++
		case "job":
			seen["job:"+event.Data["status"].(string)]++
		}
	}

	assert.Equal(t, 3, seen["progress"])
	assert.Equal(t, 1, seen["job:started"])
	assert.Equal(t, 1, seen["job:completed"])
}
