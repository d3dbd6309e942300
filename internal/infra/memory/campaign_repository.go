package memory

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-reward-service/internal/domain"
)

// CampaignLoader fetches campaign content from a backing store (e.g., Postgres).
type CampaignLoader interface {
	LoadCampaign(ctx context.Context, campaignID string) (domain.Campaign, error)
}

// CampaignRepository caches campaigns with TTL to avoid repeated DB hits.
type CampaignRepository struct {
	loader CampaignLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedCampaign
}

type cachedCampaign struct {
	campaign  domain.Campaign
	expiresAt time.Time
}

func NewCampaignRepository(loader CampaignLoader, ttl time.Duration) *CampaignRepository {
	return &CampaignRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		cache:  make(map[string]cachedCampaign),
	}
}

func (r *CampaignRepository) GetCampaign(ctx context.Context, campaignID string) (domain.Campaign, error) {
	if campaign, ok := r.cached(campaignID, r.clock()); ok {
		return campaign, nil
	}

	result, err, _ := r.sf.Do(campaignID, func() (interface{}, error) {
		now := r.clock()
		if campaign, ok := r.cached(campaignID, now); ok {
			return campaign, nil
		}

		campaign, err := r.loader.LoadCampaign(ctx, campaignID)
		if err != nil {
			return domain.Campaign{}, err
		}
		if err := campaign.Validate(); err != nil {
			return domain.Campaign{}, err
		}

		if r.ttl > 0 {
			r.mu.Lock()
			r.cache[campaignID] = cachedCampaign{
				campaign:  campaign,
				expiresAt: now.Add(r.ttlWithJitter()),
			}
			r.mu.Unlock()
		}
		return campaign, nil
	})
	if err != nil {
		return domain.Campaign{}, err
	}
	return result.(domain.Campaign), nil
}

// Invalidate drops a cached campaign so the next read reloads it.
func (r *CampaignRepository) Invalidate(campaignID string) {
	r.mu.Lock()
	delete(r.cache, campaignID)
	r.mu.Unlock()
}

func (r *CampaignRepository) cached(campaignID string, now time.Time) (domain.Campaign, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[campaignID]
	if !ok || !entry.expiresAt.After(now) {
		return domain.Campaign{}, false
	}
	return entry.campaign, true
}

func (r *CampaignRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(rand.Int64N(jitterMax+1))
}

// StaticCampaignLoader is a loader backed by an in-memory map (useful for tests/demos).
type StaticCampaignLoader struct {
	mu        sync.RWMutex
	campaigns map[string]domain.Campaign
}

func NewStaticCampaignLoader(campaigns map[string]domain.Campaign) *StaticCampaignLoader {
	copied := make(map[string]domain.Campaign, len(campaigns))
	for id, c := range campaigns {
		copied[id] = c
	}
	return &StaticCampaignLoader{campaigns: copied}
}

func (l *StaticCampaignLoader) LoadCampaign(_ context.Context, campaignID string) (domain.Campaign, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if campaign, ok := l.campaigns[campaignID]; ok {
		campaign.Questions = append([]domain.Question(nil), campaign.Questions...)
		return campaign, nil
	}
	return domain.Campaign{}, domain.ErrCampaignNotFound
}

// Put replaces a campaign, e.g. when the admin application edits the pool.
func (l *StaticCampaignLoader) Put(campaign domain.Campaign) {
	l.mu.Lock()
	l.campaigns[campaign.ID] = campaign
	l.mu.Unlock()
}
