package memory

import (
	"context"
	"sort"
	"sync"

	"quiz-reward-service/internal/domain"
)

// RewardStore is an in-memory implementation of app.RewardStore.
// A single mutex makes Issue's check-and-increment indivisible.
type RewardStore struct {
	mu     sync.Mutex
	tiers  map[string]*domain.RewardTier
	grants map[string]domain.RewardGrant // by session ID
	codes  map[string]struct{}
}

func NewRewardStore() *RewardStore {
	return &RewardStore{
		tiers:  make(map[string]*domain.RewardTier),
		grants: make(map[string]domain.RewardGrant),
		codes:  make(map[string]struct{}),
	}
}

// PutTier inserts or replaces a tier definition. An existing tier keeps its issued count.
func (s *RewardStore) PutTier(_ context.Context, tier domain.RewardTier) error {
	tier = tier.WithDefaultRanges()
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.tiers[tier.ID]; ok {
		tier.IssuedCount = existing.IssuedCount
	}
	t := tier
	s.tiers[tier.ID] = &t
	return nil
}

func (s *RewardStore) ListTiers(_ context.Context, campaignID string) ([]domain.RewardTier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RewardTier, 0)
	for _, t := range s.tiers {
		if t.CampaignID == campaignID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *RewardStore) Issue(_ context.Context, grant domain.RewardGrant) (domain.RewardGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.grants[grant.SessionID]; ok {
		return existing, nil
	}
	if _, taken := s.codes[grant.Code]; taken {
		return domain.RewardGrant{}, domain.ErrCodeTaken
	}
	tier, ok := s.tiers[grant.TierID]
	if !ok || !tier.Active {
		return domain.RewardGrant{}, domain.ErrAllocationExhausted
	}
	if !tier.Unlimited() && tier.IssuedCount >= tier.MaxQuantity {
		return domain.RewardGrant{}, domain.ErrAllocationExhausted
	}

	tier.IssuedCount++
	if grant.CampaignID == "" {
		grant.CampaignID = tier.CampaignID
	}
	s.codes[grant.Code] = struct{}{}
	s.grants[grant.SessionID] = grant
	return grant, nil
}

func (s *RewardStore) GrantForSession(_ context.Context, sessionID string) (domain.RewardGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.grants[sessionID]; ok {
		return g, nil
	}
	return domain.RewardGrant{}, domain.ErrGrantNotFound
}

// Grants returns every issued grant of a tier (diagnostics and tests).
func (s *RewardStore) Grants(tierID string) []domain.RewardGrant {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RewardGrant
	for _, g := range s.grants {
		if g.TierID == tierID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}
