package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"quiz-reward-service/internal/domain"
)

// issueScript checks and consumes one unit of a tier in a single step.
// KEYS: tier hash, session grant, issued codes. ARGV: code, grant JSON.
// Returns {0, grant} issued, {1, grant} already granted, {2} code taken, {3} exhausted.
var issueScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[2])
if existing then
	return {1, existing}
end
if redis.call('SISMEMBER', KEYS[3], ARGV[1]) == 1 then
	return {2, ''}
end
if redis.call('HGET', KEYS[1], 'active') ~= '1' then
	return {3, ''}
end
local limit = tonumber(redis.call('HGET', KEYS[1], 'max_quantity') or '0')
local issued = tonumber(redis.call('HGET', KEYS[1], 'issued_count') or '0')
if limit > 0 and issued >= limit then
	return {3, ''}
end
redis.call('HINCRBY', KEYS[1], 'issued_count', 1)
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
return {0, ARGV[2]}
`)

const (
	issueOK = iota
	issueExisting
	issueCodeTaken
	issueExhausted
)

// RewardStore keeps tiers, counters and grants in Redis.
//
//	quiz:tier:{tierID}              hash: def (JSON), active, max_quantity, issued_count
//	quiz:campaign:{campaignID}:tiers set of tier IDs
//	quiz:grant:{sessionID}          grant JSON
//	quiz:codes                      set of issued codes
type RewardStore struct {
	client *redis.Client
}

func NewRewardStore(client *redis.Client) *RewardStore {
	return &RewardStore{client: client}
}

// PutTier inserts or replaces a tier definition. An existing tier keeps its issued count.
func (s *RewardStore) PutTier(ctx context.Context, tier domain.RewardTier) error {
	tier = tier.WithDefaultRanges()
	def := tier
	def.IssuedCount = 0
	payload, err := json.Marshal(def)
	if err != nil {
		return err
	}
	active := "0"
	if tier.Active {
		active = "1"
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := s.tierKey(tier.ID)
		pipe.HSet(ctx, key, "def", payload, "active", active, "max_quantity", tier.MaxQuantity)
		pipe.HSetNX(ctx, key, "issued_count", tier.IssuedCount)
		pipe.SAdd(ctx, s.campaignKey(tier.CampaignID), tier.ID)
		return nil
	})
	return err
}

func (s *RewardStore) ListTiers(ctx context.Context, campaignID string) ([]domain.RewardTier, error) {
	ids, err := s.client.SMembers(ctx, s.campaignKey(campaignID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.tierKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}

	tiers := make([]domain.RewardTier, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		def, ok := fields["def"]
		if !ok {
			continue
		}
		var tier domain.RewardTier
		if err := json.Unmarshal([]byte(def), &tier); err != nil {
			return nil, fmt.Errorf("decode tier %s: %w", ids[i], err)
		}
		tier.Active = fields["active"] == "1"
		if n, err := strconv.Atoi(fields["issued_count"]); err == nil {
			tier.IssuedCount = n
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

func (s *RewardStore) Issue(ctx context.Context, grant domain.RewardGrant) (domain.RewardGrant, error) {
	payload, err := json.Marshal(grant)
	if err != nil {
		return domain.RewardGrant{}, err
	}
	keys := []string{s.tierKey(grant.TierID), s.grantKey(grant.SessionID), s.codesKey()}
	res, err := issueScript.Run(ctx, s.client, keys, grant.Code, payload).Slice()
	if err != nil {
		return domain.RewardGrant{}, err
	}
	if len(res) != 2 {
		return domain.RewardGrant{}, fmt.Errorf("issue script: unexpected reply %v", res)
	}
	code, _ := res[0].(int64)
	switch code {
	case issueOK, issueExisting:
		raw, _ := res[1].(string)
		var out domain.RewardGrant
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return domain.RewardGrant{}, fmt.Errorf("decode grant: %w", err)
		}
		return out, nil
	case issueCodeTaken:
		return domain.RewardGrant{}, domain.ErrCodeTaken
	default:
		return domain.RewardGrant{}, domain.ErrAllocationExhausted
	}
}

func (s *RewardStore) GrantForSession(ctx context.Context, sessionID string) (domain.RewardGrant, error) {
	raw, err := s.client.Get(ctx, s.grantKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.RewardGrant{}, domain.ErrGrantNotFound
	}
	if err != nil {
		return domain.RewardGrant{}, err
	}
	var grant domain.RewardGrant
	if err := json.Unmarshal(raw, &grant); err != nil {
		return domain.RewardGrant{}, fmt.Errorf("decode grant: %w", err)
	}
	return grant, nil
}

func (s *RewardStore) tierKey(tierID string) string {
	return "quiz:tier:" + tierID
}

func (s *RewardStore) campaignKey(campaignID string) string {
	return "quiz:campaign:" + campaignID + ":tiers"
}

func (s *RewardStore) grantKey(sessionID string) string {
	return "quiz:grant:" + sessionID
}

func (s *RewardStore) codesKey() string {
	return "quiz:codes"
}
