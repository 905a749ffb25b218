package classifier

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

var ErrDisabled = errors.New("classifier is not configured")

const (
	DefaultTimeout  = 5 * time.Second
	DefaultCacheTTL = 24 * time.Hour
	FlagThreshold   = 0.7
)

// predictRequest and predictResponse mirror the scoring service's /predict API.
type predictRequest struct {
	Text string `json:"text"`
}

type predictResponse struct {
	Scores           map[string]float64 `json:"scores"`
	OverallScore     float64            `json:"overall_score"`
	Confidence       float64            `json:"confidence"`
	DetectedPatterns []string           `json:"detected_patterns"`
	Error            string             `json:"error,omitempty"`
}

// Score is the classifier's verdict on one text.
type Score struct {
	Classification model.Classification `json:"classification"`
	Flagged        bool                 `json:"flagged"`
	Patterns       []string             `json:"patterns,omitempty"`
}

// Cache stores scores by text digest.
type Cache interface {
	Get(ctx context.Context, key string) (*Score, bool)
	Set(ctx context.Context, key string, s *Score)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      Cache
}

func NewClient(baseURL string, timeout time.Duration, cache Cache) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// Classify satisfies the report lifecycle's classifier hook.
func (c *Client) Classify(ctx context.Context, text string) (model.Classification, error) {
	s, err := c.Score(ctx, text)
	if err != nil {
		return model.Classification{}, err
	}
	return s.Classification, nil
}

func (c *Client) Score(ctx context.Context, text string) (*Score, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	key := cacheKey(text)
	if c.cache != nil {
		if s, ok := c.cache.Get(ctx, key); ok {
			return s, nil
		}
	}

	body, err := sonic.Marshal(predictRequest{Text: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var out predictResponse
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode classifier response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("classifier error: %s", out.Error)
	}

	s := toScore(out)
	if c.cache != nil {
		c.cache.Set(ctx, key, s)
	}
	return s, nil
}

func toScore(r predictResponse) *Score {
	category := model.CategoryOther
	best := 0.0
	for name, v := range r.Scores {
		if v > best {
			best = v
			category = categoryFor(name)
		}
	}
	return &Score{
		Classification: model.Classification{
			Category:   category,
			Confidence: clamp(r.OverallScore),
			RiskLevel:  RiskLevel(r.OverallScore),
		},
		Flagged:  r.OverallScore > FlagThreshold || len(r.DetectedPatterns) > 0,
		Patterns: r.DetectedPatterns,
	}
}

func categoryFor(label string) model.Category {
	switch label {
	case "harassment":
		return model.CategoryHarassment
	case "hate_speech":
		return model.CategoryHateSpeech
	case "threats":
		return model.CategoryThreats
	case "cyberbullying":
		return model.CategoryCyberbullying
	case "obscenity", "sexual_content":
		return model.CategorySexual
	case "self_harm":
		return model.CategorySelfHarm
	case "spam":
		return model.CategorySpam
	}
	return model.CategoryOther
}

func RiskLevel(score float64) string {
	switch {
	case score >= 0.85:
		return "critical"
	case score >= FlagThreshold:
		return "high"
	case score >= 0.4:
		return "medium"
	}
	return "low"
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func cacheKey(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return "clf:" + hex.EncodeToString(sum[:])
}

// RedisCache keeps scores in redis as sonic-encoded JSON. Cache failures are
// logged and otherwise ignored.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Score, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.WithError(err).Debug("Classifier cache read failed")
		}
		return nil, false
	}
	var s Score
	if err := sonic.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	return &s, true
}

func (c *RedisCache) Set(ctx context.Context, key string, s *Score) {
	raw, err := sonic.Marshal(s)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.WithError(err).Debug("Classifier cache write failed")
	}
}
