package services

import (
	"context"

	alphactx "github.com/alphabatem/common/context"
	"github.com/lac-hong-legacy/guard_api/dto"
	"github.com/lac-hong-legacy/guard_api/model"
	"github.com/lac-hong-legacy/guard_api/services/classifier"
	"github.com/lac-hong-legacy/guard_api/shared"
	log "github.com/sirupsen/logrus"
)

// ClassifierService fronts the content scoring model. Without
// CLASSIFIER_URL every lookup fails with classifier.ErrDisabled.
type ClassifierService struct {
	alphactx.DefaultService

	baseURL string
	client  *classifier.Client
}

const CLASSIFIER_SVC = "classifier_svc"

func (svc ClassifierService) Id() string {
	return CLASSIFIER_SVC
}

func (svc *ClassifierService) Configure(ctx *alphactx.Context) error {
	svc.baseURL = shared.GetEnv("CLASSIFIER_URL", "")
	return svc.DefaultService.Configure(ctx)
}

func (svc *ClassifierService) Start() error {
	var cache classifier.Cache
	if redisSvc, ok := svc.Service(REDIS_SVC).(*RedisService); ok && redisSvc.GetClient() != nil {
		cache = classifier.NewRedisCache(redisSvc.GetClient(), shared.GetEnvDuration("CLASSIFIER_CACHE_TTL", classifier.DefaultCacheTTL))
	}
	svc.client = classifier.NewClient(svc.baseURL, shared.GetEnvDuration("CLASSIFIER_TIMEOUT", classifier.DefaultTimeout), cache)
	if !svc.client.Enabled() {
		log.Info("CLASSIFIER_URL not set, reports keep the reporter's classification")
	}
	return nil
}

func (svc *ClassifierService) Enabled() bool {
	return svc.client != nil && svc.client.Enabled()
}

// Classify implements reporting.Classifier.
func (svc *ClassifierService) Classify(ctx context.Context, text string) (model.Classification, error) {
	return svc.client.Classify(ctx, text)
}

// ScoreTexts scores an extension batch. Texts the model could not score are
// returned unflagged with category other.
func (svc *ClassifierService) ScoreTexts(ctx context.Context, texts []string) (*dto.ExtensionSyncResponse, error) {
	if !svc.Enabled() {
		return nil, shared.NewServiceUnavailableError(classifier.ErrDisabled, "Content scoring is not configured")
	}
	resp := &dto.ExtensionSyncResponse{Scores: make([]dto.TextScore, 0, len(texts))}
	for i, text := range texts {
		score, err := svc.client.Score(ctx, text)
		if err != nil {
			log.WithError(err).WithField("index", i).Warn("Failed to score text")
			resp.Scores = append(resp.Scores, dto.TextScore{Index: i, Category: model.CategoryOther, RiskLevel: "low"})
			continue
		}
		resp.Scores = append(resp.Scores, dto.TextScore{
			Index:      i,
			Category:   score.Classification.Category,
			Confidence: score.Classification.Confidence,
			RiskLevel:  score.Classification.RiskLevel,
			Flagged:    score.Flagged,
		})
	}
	return resp, nil
}
