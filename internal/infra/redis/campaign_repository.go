package redis

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-reward-service/internal/domain"
)

// CampaignLoader fetches campaign content from the system of record (e.g., Postgres).
type CampaignLoader interface {
	LoadCampaign(ctx context.Context, campaignID string) (domain.Campaign, error)
}

// CampaignRepository caches full campaign content in Redis and falls back to a loader on miss.
// Content is stored as: SET quiz:campaign:{campaignID}:content {json} EX ttl
type CampaignRepository struct {
	client *redis.Client
	loader CampaignLoader
	ttl    time.Duration
	sf     singleflight.Group
}

func NewCampaignRepository(client *redis.Client, loader CampaignLoader, ttl time.Duration) *CampaignRepository {
	return &CampaignRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
	}
}

func (r *CampaignRepository) GetCampaign(ctx context.Context, campaignID string) (domain.Campaign, error) {
	if campaign, ok := r.cached(ctx, campaignID); ok {
		return campaign, nil
	}

	result, err, _ := r.sf.Do(campaignID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if campaign, ok := r.cached(ctx, campaignID); ok {
			return campaign, nil
		}

		campaign, err := r.loader.LoadCampaign(ctx, campaignID)
		if err != nil {
			return domain.Campaign{}, err
		}
		if err := campaign.Validate(); err != nil {
			return domain.Campaign{}, err
		}

		if payload, err := json.Marshal(campaign); err == nil {
			// best effort; a failed write only costs another load
			_ = r.client.Set(ctx, r.key(campaignID), payload, r.ttlWithJitter()).Err()
		}
		return campaign, nil
	})
	if err != nil {
		return domain.Campaign{}, err
	}
	return result.(domain.Campaign), nil
}

// Invalidate drops the cached copy so every instance reloads on next read.
func (r *CampaignRepository) Invalidate(ctx context.Context, campaignID string) error {
	return r.client.Del(ctx, r.key(campaignID)).Err()
}

func (r *CampaignRepository) cached(ctx context.Context, campaignID string) (domain.Campaign, bool) {
	raw, err := r.client.Get(ctx, r.key(campaignID)).Bytes()
	if err != nil {
		return domain.Campaign{}, false
	}
	var campaign domain.Campaign
	if err := json.Unmarshal(raw, &campaign); err != nil {
		return domain.Campaign{}, false
	}
	return campaign, true
}

func (r *CampaignRepository) key(campaignID string) string {
	return "quiz:campaign:" + campaignID + ":content"
}

func (r *CampaignRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(rand.Int64N(jitterMax+1))
}

