package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"quiz-reward-service/internal/domain"
)

type tierRow struct {
	bun.BaseModel `bun:"table:reward_tiers"`

	ID            string  `bun:"id,pk"`
	CampaignID    string  `bun:"campaign_id,notnull"`
	Name          string  `bun:"name,notnull"`
	MinScore      int     `bun:"min_score,notnull"`
	MaxScore      int     `bun:"max_score,notnull"`
	MinPercentage float64 `bun:"min_percentage,notnull"`
	MaxPercentage float64 `bun:"max_percentage,notnull"`
	MaxQuantity   int     `bun:"max_quantity,notnull"`
	IssuedCount   int     `bun:"issued_count,notnull"`
	Active        bool    `bun:"active,notnull"`
}

type grantRow struct {
	bun.BaseModel `bun:"table:reward_grants"`

	ID         string    `bun:"id,pk"`
	SessionID  string    `bun:"session_id,notnull"`
	TierID     string    `bun:"tier_id,notnull"`
	CampaignID string    `bun:"campaign_id,notnull"`
	Code       string    `bun:"code,notnull"`
	IssuedAt   time.Time `bun:"issued_at,notnull"`
}

// RewardStore persists tiers and grants. The issued counter only moves
// through a conditional UPDATE, so concurrent issuers cannot pass the cap.
type RewardStore struct {
	db *bun.DB
}

func NewRewardStore(db *bun.DB) *RewardStore {
	return &RewardStore{db: db}
}

// PutTier inserts or replaces a tier definition. An existing tier keeps its issued count.
func (s *RewardStore) PutTier(ctx context.Context, tier domain.RewardTier) error {
	row := toTierRow(tier.WithDefaultRanges())
	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (id) DO UPDATE").
		Set("campaign_id = EXCLUDED.campaign_id").
		Set("name = EXCLUDED.name").
		Set("min_score = EXCLUDED.min_score").
		Set("max_score = EXCLUDED.max_score").
		Set("min_percentage = EXCLUDED.min_percentage").
		Set("max_percentage = EXCLUDED.max_percentage").
		Set("max_quantity = EXCLUDED.max_quantity").
		Set("active = EXCLUDED.active").
		Exec(ctx)
	return err
}

func (s *RewardStore) ListTiers(ctx context.Context, campaignID string) ([]domain.RewardTier, error) {
	var rows []tierRow
	if err := s.db.NewSelect().
		Model(&rows).
		Where("campaign_id = ?", campaignID).
		Order("id").
		Scan(ctx); err != nil {
		return nil, err
	}
	tiers := make([]domain.RewardTier, len(rows))
	for i, r := range rows {
		tiers[i] = r.toDomain()
	}
	return tiers, nil
}

func (s *RewardStore) Issue(ctx context.Context, grant domain.RewardGrant) (domain.RewardGrant, error) {
	var out domain.RewardGrant
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var existing grantRow
		err := tx.NewSelect().Model(&existing).Where("session_id = ?", grant.SessionID).Scan(ctx)
		if err == nil {
			out = existing.toDomain()
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		var campaignID string
		err = tx.NewUpdate().
			Model((*tierRow)(nil)).
			Set("issued_count = issued_count + 1").
			Where("id = ?", grant.TierID).
			Where("active").
			Where("(max_quantity = 0 OR issued_count < max_quantity)").
			Returning("campaign_id").
			Scan(ctx, &campaignID)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrAllocationExhausted
		}
		if err != nil {
			return err
		}
		if grant.CampaignID == "" {
			grant.CampaignID = campaignID
		}

		row := toGrantRow(grant)
		res, err := tx.NewInsert().Model(&row).On("CONFLICT DO NOTHING").Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errConflict
		}
		out = grant
		return nil
	})
	if errors.Is(err, errConflict) {
		// The unit consumed above was rolled back. Either another issuer
		// granted this session first, or the code collided.
		if existing, gerr := s.GrantForSession(ctx, grant.SessionID); gerr == nil {
			return existing, nil
		}
		return domain.RewardGrant{}, domain.ErrCodeTaken
	}
	if err != nil {
		return domain.RewardGrant{}, err
	}
	return out, nil
}

var errConflict = errors.New("grant conflict")

func (s *RewardStore) GrantForSession(ctx context.Context, sessionID string) (domain.RewardGrant, error) {
	var row grantRow
	err := s.db.NewSelect().Model(&row).Where("session_id = ?", sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RewardGrant{}, domain.ErrGrantNotFound
	}
	if err != nil {
		return domain.RewardGrant{}, fmt.Errorf("load grant: %w", err)
	}
	return row.toDomain(), nil
}

func toTierRow(t domain.RewardTier) tierRow {
	return tierRow{
		ID:            t.ID,
		CampaignID:    t.CampaignID,
		Name:          t.Name,
		MinScore:      t.MinScore,
		MaxScore:      t.MaxScore,
		MinPercentage: t.MinPercentage,
		MaxPercentage: t.MaxPercentage,
		MaxQuantity:   t.MaxQuantity,
		IssuedCount:   t.IssuedCount,
		Active:        t.Active,
	}
}

func (r tierRow) toDomain() domain.RewardTier {
	return domain.RewardTier{
		ID:            r.ID,
		CampaignID:    r.CampaignID,
		Name:          r.Name,
		MinScore:      r.MinScore,
		MaxScore:      r.MaxScore,
		MinPercentage: r.MinPercentage,
		MaxPercentage: r.MaxPercentage,
		MaxQuantity:   r.MaxQuantity,
		IssuedCount:   r.IssuedCount,
		Active:        r.Active,
	}
}

func toGrantRow(g domain.RewardGrant) grantRow {
	return grantRow{
		ID:         g.ID,
		SessionID:  g.SessionID,
		TierID:     g.TierID,
		CampaignID: g.CampaignID,
		Code:       g.Code,
		IssuedAt:   g.IssuedAt,
	}
}

func (r grantRow) toDomain() domain.RewardGrant {
	return domain.RewardGrant{
		ID:         r.ID,
		SessionID:  r.SessionID,
		TierID:     r.TierID,
		CampaignID: r.CampaignID,
		Code:       r.Code,
		IssuedAt:   r.IssuedAt,
	}
}
