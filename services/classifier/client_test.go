package classifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func predictServer(t *testing.T, body string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/predict" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Score(t *testing.T) {
	var calls atomic.Int32
	srv := predictServer(t, `{"scores":{"harassment":0.9,"hate_speech":0.72,"threats":0},"overall_score":0.9,"confidence":0.8,"detected_patterns":["High toxicity"]}`, &calls)

	mr := miniredis.RunT(t)
	cache := NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0)
	client := NewClient(srv.URL+"/", 0, cache)
	ctx := context.Background()

	s, err := client.Score(ctx, "you are pathetic")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryHarassment, s.Classification.Category)
	assert.Equal(t, 0.9, s.Classification.Confidence)
	assert.Equal(t, "critical", s.Classification.RiskLevel)
	assert.True(t, s.Flagged)
	assert.Equal(t, []string{"High toxicity"}, s.Patterns)

	again, err := client.Score(ctx, "you are pathetic")
	require.NoError(t, err)
	assert.Equal(t, s.Classification, again.Classification)
	assert.Equal(t, int32(1), calls.Load(), "second lookup served from cache")

	c, err := client.Classify(ctx, "a different text")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryHarassment, c.Category)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		_, err := NewClient("", 0, nil).Score(ctx, "x")
		assert.ErrorIs(t, err, ErrDisabled)
	})

	t.Run("upstream error payload", func(t *testing.T) {
		var calls atomic.Int32
		srv := predictServer(t, `{"error":"Internal Server Error","message":"boom"}`, &calls)
		_, err := NewClient(srv.URL, 0, nil).Score(ctx, "x")
		assert.Error(t, err)
	})

	t.Run("non 200", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		_, err := NewClient(srv.URL, 0, nil).Score(ctx, "x")
		assert.Error(t, err)
	})
}

func TestRiskLevel(t *testing.T) {
	assert.Equal(t, "low", RiskLevel(0.1))
	assert.Equal(t, "medium", RiskLevel(0.5))
	assert.Equal(t, "high", RiskLevel(0.7))
	assert.Equal(t, "critical", RiskLevel(0.95))
}

func TestToScore_UnknownLabel(t *testing.T) {
	s := toScore(predictResponse{Scores: map[string]float64{"obscenity": 0.5}, OverallScore: 0.3})
	assert.Equal(t, model.CategorySexual, s.Classification.Category)
	assert.False(t, s.Flagged)

	s = toScore(predictResponse{})
	assert.Equal(t, model.CategoryOther, s.Classification.Category)
}
